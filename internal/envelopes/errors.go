package envelopes

import "errors"

var (
	ErrNotFound      = errors.New("envelope not found")
	ErrForbidden     = errors.New("envelope does not belong to caller")
	ErrInvalidInput  = errors.New("invalid envelope input")
	ErrInvalidState  = errors.New("operation not allowed in current envelope state")
	ErrOutOfTurn     = errors.New("recipient is not next in routing order")
	ErrDuplicate     = errors.New("duplicate recipient email")
	ErrLimitExceeded = errors.New("envelope limit exceeded")
)
