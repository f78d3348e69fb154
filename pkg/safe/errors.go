package safe

import "fmt"

type PanicError struct {
	Task  string
	Value interface{}
}

func (e *PanicError) Error() string { return fmt.Sprintf("task %s panicked: %v", e.Task, e.Value) }
