package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func streamFixture(t *testing.T) (key, iv []byte) {
	t.Helper()
	key, err := GenerateRandom(KeySize)
	require.NoError(t, err)
	iv, err = NewIV()
	require.NoError(t, err)
	return key, iv
}

func TestStreamRoundTrip(t *testing.T) {
	key, iv := streamFixture(t)

	sizes := []int{0, 1, ChunkSize - 1, ChunkSize, ChunkSize + 1, 3*ChunkSize + 17}
	for _, size := range sizes {
		plain := bytes.Repeat([]byte{0xa5}, size)

		var sealed bytes.Buffer
		require.NoError(t, EncryptStream(&sealed, bytes.NewReader(plain), key, iv, "/tmp/file"))

		var opened bytes.Buffer
		require.NoError(t, DecryptStream(&opened, bytes.NewReader(sealed.Bytes()), key, iv, "/tmp/file"), "size %d", size)
		assert.Equal(t, plain, opened.Bytes(), "size %d", size)
	}
}

func TestStreamLabelBindsKey(t *testing.T) {
	key, iv := streamFixture(t)

	var sealed bytes.Buffer
	require.NoError(t, EncryptStream(&sealed, bytes.NewReader([]byte("secret")), key, iv, "/a"))

	err := DecryptStream(&bytes.Buffer{}, bytes.NewReader(sealed.Bytes()), key, iv, "/b")
	assert.ErrorIs(t, err, ErrAuthFailed)

	otherIV, err := NewIV()
	require.NoError(t, err)
	err = DecryptStream(&bytes.Buffer{}, bytes.NewReader(sealed.Bytes()), key, otherIV, "/a")
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestStreamDetectsTruncationAndTrailingData(t *testing.T) {
	key, iv := streamFixture(t)
	plain := bytes.Repeat([]byte{1}, 2*ChunkSize+5)

	var sealed bytes.Buffer
	require.NoError(t, EncryptStream(&sealed, bytes.NewReader(plain), key, iv, "f"))
	data := sealed.Bytes()

	// Drop the final chunk entirely
	firstTwo := 2 * (chunkHeaderSize + ChunkSize + TagSize)
	err := DecryptStream(&bytes.Buffer{}, bytes.NewReader(data[:firstTwo]), key, iv, "f")
	assert.ErrorIs(t, err, ErrTruncated)

	// Cut inside a chunk
	err = DecryptStream(&bytes.Buffer{}, bytes.NewReader(data[:len(data)-3]), key, iv, "f")
	assert.ErrorIs(t, err, ErrTruncated)

	// Garbage after the final chunk
	trailing := append(append([]byte(nil), data...), 0x00)
	err = DecryptStream(&bytes.Buffer{}, bytes.NewReader(trailing), key, iv, "f")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestStreamRejectsPlaintextInput(t *testing.T) {
	key, iv := streamFixture(t)
	err := DecryptStream(&bytes.Buffer{}, bytes.NewReader([]byte("just some plaintext content")), key, iv, "f")
	assert.Error(t, err)
}
