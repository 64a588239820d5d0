package protocol

const (
	ErrBadRequest   = "E_BAD_REQUEST"
	ErrNoPermission = "E_NO_PERMISSION"
	ErrUnknownType  = "E_UNKNOWN_TYPE"
	ErrLimitReached = "E_LIMIT_REACHED"
	ErrNotOwner     = "E_NOT_OWNER"
	ErrNotFound     = "E_NOT_FOUND"
	ErrInternal     = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrBadRequest:   {},
	ErrNoPermission: {},
	ErrUnknownType:  {},
	ErrLimitReached: {},
	ErrNotOwner:     {},
	ErrNotFound:     {},
	ErrInternal:     {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
