package envelope

import "errors"

var (
	ErrProtocolDecode     = errors.New("envelope: protocol decode error")
	ErrPayloadTooLarge    = errors.New("envelope: payload too large")
	ErrInvalidRequest     = errors.New("envelope: invalid request")
	ErrInvalidResponse    = errors.New("envelope: invalid response")
	ErrUnknownRequestType = errors.New("envelope: unknown request type")
	ErrUnknownInterface   = errors.New("envelope: unknown interface")
)
