package scservo

import (
	"io"
	"time"
)

// Transport is the interface for low-level communication with the servo
// bus. Implementations wrap a half-duplex serial line; the bus layer
// guarantees single-threaded access.
type Transport interface {
	io.ReadWriteCloser

	// SetReadTimeout sets the timeout for subsequent Read calls.
	SetReadTimeout(timeout time.Duration) error

	// Flush discards any buffered input data.
	Flush() error
}
