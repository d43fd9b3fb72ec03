//go:build unix

package weights

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Mapped is an mmap'd weight file. Close unmaps it; the returned byte
// slice from Mmap must not be used afterward.
type Mapped struct {
	data []byte
	file *os.File
}

// Mmap opens path and maps it read-only (§6: weight files are loaded
// once at startup and never written to, so a shared read-only mapping
// avoids a copy into the heap for multi-gigabyte models).
func Mmap(path string) (*Mapped, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("weights: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("weights: stat %s: %w", path, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("weights: mmap %s: %w", path, err)
	}
	return &Mapped{data: data, file: f}, data, nil
}

// Close unmaps the file and closes its handle.
func (m *Mapped) Close() error {
	if err := unix.Munmap(m.data); err != nil {
		m.file.Close()
		return fmt.Errorf("weights: munmap: %w", err)
	}
	return m.file.Close()
}
