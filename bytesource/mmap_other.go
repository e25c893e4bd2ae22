//go:build !unix

package bytesource

import "os"

// OpenMmap reads path into memory on platforms without mmap support.
func OpenMmap(path string) (*Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return NewBuffer(data), nil
}
