//go:build !unix

package checkpoint

import "errors"

// ErrLocked is returned when another process holds the checkpoint lock.
var ErrLocked = errors.New("checkpoint locked by another process")

// lockFile is a no-op where flock is unavailable; the rename is still atomic.
func lockFile(string) (func(), error) {
	return func() {}, nil
}
