package record

import (
	"fmt"
	"hash"
	"hash/crc32"

	"github.com/arloliu/mcapkit/errs"
)

// CRC32 returns the IEEE CRC-32 of data, the checksum used by every CRC field.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// NewCRC32 returns a streaming IEEE CRC-32.
func NewCRC32() hash.Hash32 {
	return crc32.NewIEEE()
}

// VerifyCRC checks the uncompressed record stream against UncompressedCRC.
// A zero stored CRC is never checked.
func (c *Chunk) VerifyCRC(uncompressed []byte) error {
	if c.UncompressedCRC == 0 {
		return nil
	}
	if got := CRC32(uncompressed); got != c.UncompressedCRC {
		return fmt.Errorf("%w: chunk records crc 0x%08x, stored 0x%08x", errs.ErrCRCMismatch, got, c.UncompressedCRC)
	}

	return nil
}

// ComputeCRC returns the CRC of every body field before the crc field.
func (a *Attachment) ComputeCRC() uint32 {
	return CRC32(a.appendCRCScope(make([]byte, 0, 40+len(a.Name)+len(a.MediaType)+len(a.Data))))
}

// VerifyCRC checks the stored CRC. A zero stored CRC is never checked.
func (a *Attachment) VerifyCRC() error {
	if a.CRC == 0 {
		return nil
	}
	if got := a.ComputeCRC(); got != a.CRC {
		return fmt.Errorf("%w: attachment %q crc 0x%08x, stored 0x%08x", errs.ErrCRCMismatch, a.Name, got, a.CRC)
	}

	return nil
}

// UpdateCRC32 extends crc with data.
func UpdateCRC32(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, crc32.IEEETable, data)
}
