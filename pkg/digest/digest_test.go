package digest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnownVectors(t *testing.T) {
	tests := []struct {
		alg  Algorithm
		want string
	}{
		{MD5, "900150983cd24fb0d6963f7d28e17f72"},
		{SHA256, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{BLAKE3, "6437b3ac38465133ffb63b75273a8db548c558465d79db03fd359c6cd5bd9d85"},
		{None, ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.alg), func(t *testing.T) {
			got, err := Sum(tt.alg, []byte("abc"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIncrementalMatchesOneShot(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	for _, alg := range All {
		d, err := New(alg)
		require.NoError(t, err)
		for i := 0; i < len(data); i += 5 {
			end := min(i+5, len(data))
			d.Write(data[i:end])
		}
		want, err := Sum(alg, data)
		require.NoError(t, err)
		assert.Equal(t, want, d.Sum(), alg)
		assert.Equal(t, alg, d.Algorithm())
	}
}

func TestParse(t *testing.T) {
	alg, err := Parse("")
	require.NoError(t, err)
	assert.Equal(t, MD5, alg)

	alg, err = Parse(" SHA256 ")
	require.NoError(t, err)
	assert.Equal(t, SHA256, alg)

	_, err = Parse("crc32")
	assert.Error(t, err)
}

func TestField(t *testing.T) {
	assert.Equal(t, "md5", MD5.Field())
	assert.Equal(t, "md5", Algorithm("").Field())
	assert.Equal(t, "blake3", BLAKE3.Field())
	assert.Equal(t, "", None.Field())
}
