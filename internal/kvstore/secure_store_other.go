//go:build !windows

package kvstore

// NewSecureStore falls back to an owner-only (0600) file outside Windows.
func NewSecureStore(path string) (Store, error) {
	return NewFileStore(path)
}
