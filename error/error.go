package error

import "errors"

var (
	ErrEmptyMessage    = errors.New("empty message")
	ErrMessageTooLarge = errors.New("message too large")
	ErrConnectionLost  = errors.New("connection lost")
	ErrInvalidEnvelope = errors.New("invalid envelope")

	ErrNoTarget         = errors.New("no valid target")
	ErrTargetBusy       = errors.New("a process is already alive for this target")
	ErrNoProcess        = errors.New("no valid process")
	ErrNoThread         = errors.New("thread not found")
	ErrNoFrame          = errors.New("frame index out of range")
	ErrInvalidHandle    = errors.New("variable handle not found")
	ErrVariableNotFound = errors.New("variable not found")
	ErrMissingArgument  = errors.New("missing required argument")
	ErrEngineFailure    = errors.New("engine operation failed")

	ErrBreakpointNotFound   = errors.New("breakpoint not found")
	ErrAmbiguousBreakpoint  = errors.New("breakpoint request populates more than one location kind")
	ErrWrongDeletePrimitive = errors.New("breakpoint deleted with the wrong primitive")

	ErrMemoryTooLarge = errors.New("memory transfer too large")
	ErrRangeTooLarge  = errors.New("disassembly range too large")

	ErrUnknownBackend = errors.New("unknown engine backend")
)
