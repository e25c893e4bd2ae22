// Package endian selects the byte order of CDR encoded payloads.
//
// An EndianEngine combines binary.ByteOrder and binary.AppendByteOrder, so a
// single value serves both the decoder, which reads fixed-size fields in
// place, and the encoder, which appends them:
//
//	engine := endian.FromEncapsulation(payload[:2])
//	v := engine.Uint32(payload[4:])
//	buf = engine.AppendUint32(buf, v)
//
// The returned engines are the stateless binary.LittleEndian and
// binary.BigEndian values and are safe for concurrent use.
package endian

import "encoding/binary"

// EndianEngine combines ByteOrder and AppendByteOrder from encoding/binary.
type EndianEngine interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// Encapsulation identifiers written in the first two bytes of a CDR payload.
const (
	CDRBigEndian      uint16 = 0x0000 // CDRBigEndian is plain CDR, big endian.
	CDRLittleEndian   uint16 = 0x0001 // CDRLittleEndian is plain CDR, little endian.
	PLCDRBigEndian    uint16 = 0x0002 // PLCDRBigEndian is parameter list CDR, big endian.
	PLCDRLittleEndian uint16 = 0x0003 // PLCDRLittleEndian is parameter list CDR, little endian.
)

// EncapsulationSize is the length of the CDR encapsulation header.
const EncapsulationSize = 4

// GetLittleEndianEngine returns the little-endian engine.
func GetLittleEndianEngine() EndianEngine {
	return binary.LittleEndian
}

// GetBigEndianEngine returns the big-endian engine.
func GetBigEndianEngine() EndianEngine {
	return binary.BigEndian
}

// FromEncapsulation returns the engine named by a CDR encapsulation header.
//
// Only the second byte is examined: 0x00 and 0x02 select big endian, any
// other value little endian. A header shorter than two bytes selects little
// endian.
func FromEncapsulation(header []byte) EndianEngine {
	if len(header) < 2 {
		return binary.LittleEndian
	}
	switch header[1] {
	case 0x00, 0x02:
		return binary.BigEndian
	default:
		return binary.LittleEndian
	}
}

// Encapsulation returns the plain CDR header identifier for engine.
func Encapsulation(engine EndianEngine) uint16 {
	if IsBigEndian(engine) {
		return CDRBigEndian
	}

	return CDRLittleEndian
}

// IsBigEndian reports whether engine writes the most significant byte first.
func IsBigEndian(engine EndianEngine) bool {
	var b [2]byte
	engine.PutUint16(b[:], 0x0100)

	return b[0] == 0x01
}
