// Package relayerr defines the error kinds surfaced by the stream
// forwarding core, matching the table in the design's error-handling
// section. Transient kinds (buffer full/empty) are meant to be recovered
// locally by the caller via wait flags; the rest propagate as stream
// termination reasons.
package relayerr

import "github.com/pkg/errors"

// Sentinel errors for the core's error kinds. Wrap with errors.Wrap at
// call sites that want additional context; compare with errors.Is.
var (
	ErrBufFull        = errors.New("relay: buffer full")
	ErrBufEmpty       = errors.New("relay: buffer empty")
	ErrBufClosed      = errors.New("relay: operation on shut side")
	ErrBufOversize    = errors.New("relay: message larger than channel capacity")
	ErrReadTimeout    = errors.New("relay: read timeout")
	ErrWriteTimeout   = errors.New("relay: write timeout")
	ErrConnectTimeout = errors.New("relay: connect timeout")
	ErrConnectError   = errors.New("relay: backend connect failed")
	ErrProtocol       = errors.New("relay: protocol error")
	ErrResource       = errors.New("relay: pool allocation failed")
)
