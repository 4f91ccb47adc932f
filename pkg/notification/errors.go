package notification

import "errors"

var (
	ErrSendFailed    = errors.New("notification: send failed")
	ErrInvalidConfig = errors.New("notification: invalid config")
)
