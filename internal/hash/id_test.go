package hash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSum64(t *testing.T) {
	tests := []struct {
		name  string
		parts [][]byte
		want  uint64
	}{
		{"empty", nil, 0xef46db3751d8e999},
		{"single part", [][]byte{[]byte("test")}, 0x4fdcca5ddb678139},
		{"split parts", [][]byte{[]byte("te"), []byte("st")}, 0x4fdcca5ddb678139},
		{"sentence", [][]byte{[]byte("another test string")}, 0x212a22f593810bec},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Sum64(tt.parts...))
		})
	}

	require.NotEqual(t, Sum64([]byte("ab"), []byte("c")), Sum64([]byte("abd")))
}
