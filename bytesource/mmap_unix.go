//go:build unix

package bytesource

import (
	"os"

	"golang.org/x/sys/unix"
)

// OpenMmap maps path read-only and wraps the mapping in a Buffer.
//
// Slices returned by the Buffer point into the mapping and become invalid
// after Close, which unmaps the file and closes it.
func OpenMmap(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		b := NewBuffer(nil)
		b.closer = f.Close

		return b, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	b := NewBuffer(data)
	b.closer = func() error {
		err := unix.Munmap(data)
		if cerr := f.Close(); err == nil {
			err = cerr
		}

		return err
	}

	return b, nil
}
