package generators

import (
	"errors"

	"itemgen.ai/internal/protocol"
)

var (
	// ErrIgnored means the event does not concern a generator.
	ErrIgnored          = errors.New("not a generator")
	ErrUnknownType      = errors.New("unknown generator type")
	ErrPermissionDenied = errors.New("permission denied")
	ErrLimitReached     = errors.New("generator limit reached")
	ErrNotOwner         = errors.New("not the generator owner")
	ErrActorNotFound    = errors.New("actor not found")
	ErrBadRequest       = errors.New("bad request")
)

// Code maps an engine error to its wire code. nil and ErrIgnored map to "".
func Code(err error) string {
	switch {
	case err == nil, errors.Is(err, ErrIgnored):
		return ""
	case errors.Is(err, ErrUnknownType):
		return protocol.ErrUnknownType
	case errors.Is(err, ErrPermissionDenied):
		return protocol.ErrNoPermission
	case errors.Is(err, ErrLimitReached):
		return protocol.ErrLimitReached
	case errors.Is(err, ErrNotOwner):
		return protocol.ErrNotOwner
	case errors.Is(err, ErrActorNotFound):
		return protocol.ErrNotFound
	case errors.Is(err, ErrBadRequest):
		return protocol.ErrBadRequest
	default:
		return protocol.ErrInternal
	}
}
