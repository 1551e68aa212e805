//go:build unix

package disk

import (
	"os"

	"golang.org/x/sys/unix"
)

// syncFile durably flushes f. On unix it prefers fdatasync (skips the
// metadata flush fsync would also force) when the underlying File is
// an *os.File; other implementations (e.g. test doubles) fall back to
// their own Sync.
func syncFile(f File) error {
	if osFile, ok := f.(*os.File); ok {
		if err := unix.Fdatasync(int(osFile.Fd())); err != nil {
			return err
		}
		return nil
	}
	return f.Sync()
}
