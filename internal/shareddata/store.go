// Package shareddata provides the shared key-value slot that passes fetched
// header payloads from the background refresher to request handlers. It is
// the sole synchronization point between the two: there is at most one
// logical writer, readers never block, and a write replaces the whole
// payload atomically.
package shareddata

import "errors"

// ErrVersionConflict is returned by Set when an expected version does not
// match the slot's current version.
var ErrVersionConflict = errors.New("shareddata: version conflict")

// Store abstracts the shared slot backend.
//
// Get returns the stored value and its version; ok is false when the key
// has never been written (or was cleared). Callers must not mutate the
// returned value.
//
// Set overwrites the value. A nil expectedVersion is an unconditional
// overwrite; otherwise the write succeeds only if the current version
// matches, returning ErrVersionConflict when it does not. The version of an
// unwritten key is 0.
type Store interface {
	Get(key string) (value []byte, version uint64, ok bool)
	Set(key string, value []byte, expectedVersion *uint64) error
	Delete(key string)
}
