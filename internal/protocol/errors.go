package protocol

import "errors"

var (
	ErrValidation         = errors.New("protocol: packet validation failed")
	ErrAlreadyRegistered  = errors.New("protocol: already registered")
	ErrFunctionNotDecoded = errors.New("protocol: function not decoded")
	ErrUnknownKind        = errors.New("protocol: unknown packet kind")
)
