//go:build !linux

package reactor

// NewSelect falls back to the portable poll(2) backend on platforms where
// unix.FdSet's bit layout isn't the linux int64-word format this package
// assumes.
func NewSelect() Backend {
	return NewPoll()
}
