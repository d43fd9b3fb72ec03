//go:build !unix

package weights

import (
	"fmt"
	"os"
)

// Mapped is a plain in-memory read of a weight file on platforms
// without a unix-style mmap (§6: loading still has to work somewhere
// to develop and test this against, even though the deployed target is
// unix).
type Mapped struct {
	data []byte
}

// Mmap reads path fully into memory.
func Mmap(path string) (*Mapped, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("weights: read %s: %w", path, err)
	}
	return &Mapped{data: data}, data, nil
}

// Close releases the reference to the read buffer.
func (m *Mapped) Close() error {
	m.data = nil
	return nil
}
