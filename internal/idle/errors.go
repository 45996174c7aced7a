// ABOUTME: Idle package errors
// ABOUTME: Sentinel returned to waiters of a detached subscriber
package idle

import "errors"

// ErrClosed is returned by Wait after the subscriber or hub is closed
var ErrClosed = errors.New("idle subscriber closed")
