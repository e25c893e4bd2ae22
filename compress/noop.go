package compress

// NoOpCompressor handles chunks stored without compression.
//
// Both directions return the input slice itself, so the result shares memory
// with the caller's data.
type NoOpCompressor struct{}

var _ Codec = (*NoOpCompressor)(nil)

// NewNoOpCompressor creates a new no-operation codec.
func NewNoOpCompressor() NoOpCompressor {
	return NoOpCompressor{}
}

// Compress returns data unchanged.
func (c NoOpCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

// Decompress returns data unchanged after checking its length.
func (c NoOpCompressor) Decompress(data []byte, uncompressedSize int) ([]byte, error) {
	if err := checkSize(len(data), uncompressedSize, "uncompressed chunk"); err != nil {
		return nil, err
	}

	return data, nil
}
