package xerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap_KeepsCause(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("ctx: %w", Wrap(cause, OrderNotFound, ""))

	assert.ErrorIs(t, err, cause)
	ce := FromError(err)
	assert.Equal(t, OrderNotFound, ce.Code)
	assert.Equal(t, "订单不存在", ce.Msg)
	assert.Equal(t, http.StatusNotFound, ce.HTTPStatus())
	assert.Nil(t, Wrap(nil, OrderNotFound, "x"))
}

func TestFromError_Unknown(t *testing.T) {
	ce := FromError(errors.New("raw"))
	assert.Equal(t, ServerCommonError, ce.Code)
	assert.Equal(t, http.StatusInternalServerError, ce.HTTPStatus())
}

func TestHTTPStatus(t *testing.T) {
	cases := map[int]int{
		InsufficientBalance: http.StatusBadRequest,
		NotOwner:            http.StatusForbidden,
		AlreadyTerminal:     http.StatusConflict,
		EngineBusy:          http.StatusServiceUnavailable,
		TooManyRequests:     http.StatusTooManyRequests,
		RequestParamsError:  http.StatusBadRequest,
	}
	for code, want := range cases {
		assert.Equal(t, want, (&CodeError{Code: code}).HTTPStatus(), "code %d", code)
	}
}
