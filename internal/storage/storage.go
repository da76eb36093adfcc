package storage

import "errors"

var (
	// ErrNotFound is returned by Get for keys that were never set or
	// have been deleted.
	ErrNotFound = errors.New("storage: key not found")

	// ErrQuotaExceeded is returned by Set when the backend refuses the
	// write for lack of space. Callers recover by evicting and retrying.
	ErrQuotaExceeded = errors.New("storage: quota exceeded")
)

// KV is the persisted store shared by every instance of the synchronizer.
// It is the moral equivalent of a browser origin's localStorage: shared
// mutable state with no locking, where read-modify-write races between
// instances are tolerated for advisory data.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	// Keys returns every stored key with the given prefix, in no
	// particular order.
	Keys(prefix string) ([]string, error)
	Close() error
}
