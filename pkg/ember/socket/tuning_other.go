//go:build !linux

package socket

// applyPlatformOptions is a no-op outside Linux: QuickAck/DeferAccept/
// FastOpen have no portable equivalent via golang.org/x/sys/unix's shared
// constant set.
func applyPlatformOptions(fd int, cfg *Config) {}

func applyListenerOptions(fd int, cfg *Config) error { return nil }

// SetQuickAck is a no-op outside Linux.
func SetQuickAck(fd int) error { return nil }
