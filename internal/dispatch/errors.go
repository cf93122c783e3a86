package dispatch

import (
	"errors"
	"fmt"

	"github.com/EternisAI/clawd-node/internal/protocol"
)

// CommandError is an invocation failure with a gateway error code.
type CommandError struct {
	Code    string
	Message string
}

func (e *CommandError) Error() string {
	return e.Code + ": " + e.Message
}

func unavailable(format string, args ...any) *CommandError {
	return &CommandError{Code: protocol.CodeUnavailable, Message: fmt.Sprintf(format, args...)}
}

func invalidParams(err error) *CommandError {
	return &CommandError{Code: protocol.CodeError, Message: "invalid params: " + err.Error()}
}

// asCommandError classifies err. Anything that is not already a
// CommandError is a provider failure.
func asCommandError(err error) *CommandError {
	if err == nil {
		return nil
	}
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce
	}
	return &CommandError{Code: protocol.CodeError, Message: err.Error()}
}
