package call

import "errors"

var (
	ErrBusy          = errors.New("participant already has an active call")
	ErrDuplicateCall = errors.New("call id already in use")
	ErrNotFound      = errors.New("call not found")
)
