package domain

import "errors"

var (
	// Admission failures - surfaced to the caller before any room state exists.
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrInvalidRoomID          = errors.New("invalid room id")
	ErrRoomFull               = errors.New("room is full")
	ErrAlreadyMember          = errors.New("connection already registered in a room")

	// Per-connection failures - isolated to that connection.
	ErrConnectionClosed = errors.New("connection closed")
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrSendBufferFull   = errors.New("send buffer full")
)
