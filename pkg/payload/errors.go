package payload

import "errors"

var (
	ErrBadMagic       = errors.New("payload magic mismatch")
	ErrMisaligned     = errors.New("payload offset not aligned to 16K boundary")
	ErrCorruptPayload = errors.New("corrupt payload region")
	ErrClosed         = errors.New("payload locator is closed")
)
