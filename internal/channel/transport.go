// Package channel keeps a push stream of execution events open, decodes
// each message and hands it to a Handler, reconnecting on a fixed delay
// whenever the stream is lost.
package channel

import (
	"context"
	"errors"
)

var (
	// ErrStreamClosed is returned by Recv once a stream has been closed locally.
	ErrStreamClosed = errors.New("stream closed")
	// ErrEventTooLarge reports one event that was skipped for its size. The
	// stream stays usable.
	ErrEventTooLarge = errors.New("event too large")
)

// Transport opens one connection to an event source.
type Transport interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream yields raw event payloads until it fails or is closed. Any error
// other than ErrEventTooLarge ends the stream.
type Stream interface {
	Recv() ([]byte, error)
	Close() error
}
