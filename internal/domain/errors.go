package domain

import "errors"

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrDuplicateSession  = errors.New("session already registered")
	ErrSessionClosed     = errors.New("session is closed")
	ErrSendBufferFull    = errors.New("session send buffer full")
	ErrPartitionFull     = errors.New("partition session limit reached")
	ErrHubStopped        = errors.New("hub stopped")
	ErrPartitionNotFound = errors.New("partition not found")
	ErrUnknownCollection = errors.New("unknown collection")
	ErrUnknownEventType  = errors.New("unknown event type")
)
