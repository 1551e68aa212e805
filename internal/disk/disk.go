// Package disk implements the page-addressed backing file consumed by
// the buffer pool: read_page, write_page, allocate_page, and
// deallocate_page (spec.md §6). It also recycles deallocated page ids
// through an in-process freelist, and guards every page with a
// trailing CRC32 checksum so corruption surfaces as a disk-error
// instead of silently handing back garbage bytes.
package disk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"dbcore/internal/page"
)

var (
	// ErrChecksumMismatch is returned by ReadPage when the trailing
	// CRC32 does not match the page payload.
	ErrChecksumMismatch = errors.New("disk: page checksum mismatch, data corruption suspected")
	// ErrClosed is returned by any operation on a closed Manager.
	ErrClosed = errors.New("disk: manager is closed")
)

// File is the subset of *os.File the Manager needs. Tests may
// substitute an in-memory implementation.
type File interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
	Sync() error
	Close() error
}

// Manager is a file-backed implementation of the buffer pool's disk
// collaborator.
type Manager struct {
	mu       sync.Mutex
	file     File
	logger   *zap.Logger
	nextID   page.PageID
	freelist []page.PageID
	closed   bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger injects a logger; the default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Open creates a Manager over f. fileSize is the current size of f in
// bytes; it must be a multiple of page.Size.
func Open(f File, fileSize int64, opts ...Option) (*Manager, error) {
	if fileSize%page.Size != 0 {
		return nil, fmt.Errorf("disk: file size %d is not a multiple of page size %d", fileSize, page.Size)
	}

	m := &Manager{
		file:   f,
		logger: zap.NewNop(),
		nextID: page.PageID(fileSize / page.Size),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.nextID == page.InvalidID {
		m.nextID = page.HeaderID + 1
	}
	return m, nil
}

// ReadPage reads the page identified by id into buf, which must be at
// least page.Size bytes. It verifies the trailing checksum.
func (m *Manager) ReadPage(id page.PageID, buf []byte) error {
	if len(buf) < page.Size {
		return fmt.Errorf("disk: read buffer too small: %d < %d", len(buf), page.Size)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	raw := make([]byte, page.Size)
	n, err := m.file.ReadAt(raw, int64(id)*page.Size)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("disk: read page %d: %w", id, err)
	}
	if n < page.Size {
		// Page never written; treat as zeroed.
		copy(buf, raw)
		return nil
	}

	payload := raw[:page.PayloadSize]
	want := binary.BigEndian.Uint32(raw[page.PayloadSize:])
	got := crc32.ChecksumIEEE(payload)
	if want != 0 && want != got {
		m.logger.Error("checksum mismatch", zap.Uint32("page_id", uint32(id)))
		return fmt.Errorf("disk: page %d: %w", id, ErrChecksumMismatch)
	}

	copy(buf, raw)
	return nil
}

// WritePage writes buf (page.Size bytes) to the page identified by id,
// appending a fresh CRC32 over the payload.
func (m *Manager) WritePage(id page.PageID, buf []byte) error {
	if len(buf) < page.Size {
		return fmt.Errorf("disk: write buffer too small: %d < %d", len(buf), page.Size)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	raw := make([]byte, page.Size)
	copy(raw, buf[:page.PayloadSize])
	sum := crc32.ChecksumIEEE(raw[:page.PayloadSize])
	binary.BigEndian.PutUint32(raw[page.PayloadSize:], sum)

	if _, err := m.file.WriteAt(raw, int64(id)*page.Size); err != nil {
		return fmt.Errorf("disk: write page %d: %w", id, err)
	}
	return nil
}

// AllocatePage reserves a fresh page id, reusing a previously
// deallocated id when available.
func (m *Manager) AllocatePage() (page.PageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return page.InvalidID, ErrClosed
	}

	if n := len(m.freelist); n > 0 {
		id := m.freelist[n-1]
		m.freelist = m.freelist[:n-1]
		m.logger.Debug("allocate page (recycled)", zap.Uint32("page_id", uint32(id)))
		return id, nil
	}

	id := m.nextID
	m.nextID++
	if err := m.file.Truncate(int64(m.nextID) * page.Size); err != nil {
		m.nextID--
		return page.InvalidID, fmt.Errorf("disk: extend file for page %d: %w", id, err)
	}
	m.logger.Debug("allocate page (new)", zap.Uint32("page_id", uint32(id)))
	return id, nil
}

// DeallocatePage returns id to the freelist for future reuse. It does
// not shrink the backing file, and the freelist itself is in-memory
// only: ids still on it when the Manager is closed or the process
// stops are not recovered on the next Open, so the file can only
// grow, never leak correctness.
func (m *Manager) DeallocatePage(id page.PageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.freelist = append(m.freelist, id)
	return nil
}

// Sync flushes the backing file to stable storage.
func (m *Manager) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return syncFile(m.file)
}

// Close syncs and closes the backing file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if err := syncFile(m.file); err != nil {
		return err
	}
	return m.file.Close()
}

var _ File = (*os.File)(nil)
