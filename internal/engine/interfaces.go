package engine

import "clobex.com/internal/clob"

// Applier 执行一条命令；真实实现是 Exchange，测试里可以换成 mock
type Applier interface {
	Apply(cmd Command, emit clob.Emitter) Result
}

// EventSink：下游“可能慢”，所以只提供 TryPublish（非阻塞）
type EventSink interface {
	TryPublish(ev Event) bool
}

type CmdCodec interface {
	Encode(dst []byte, seq uint64, cmd Command) ([]byte, error)
	Decode(payload []byte) (seq uint64, cmd Command, err error)
}

type EvCodec interface {
	Encode(dst []byte, ev Event) ([]byte, error)
	Decode(payload []byte) (Event, error)
}

type walWriter interface {
	Append(payload []byte) error
	Flush() error
	Close() error
}
