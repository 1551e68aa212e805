//go:build !unix

package disk

// syncFile durably flushes f on platforms without fdatasync.
func syncFile(f File) error {
	return f.Sync()
}
