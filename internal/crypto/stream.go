package crypto

import (
	"bufio"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ChunkSize is the plaintext size of every chunk except the last one.
const ChunkSize = 64 * 1024

const (
	chunkHeaderSize      = 5 // flag(1) | ciphertext length(4)
	flagMore        byte = 0
	flagFinal       byte = 1
)

// ErrTruncated is returned when a stream ends before its final chunk.
var ErrTruncated = errors.New("truncated ciphertext")

// EncryptStream encrypts src into dst as a sequence of authenticated chunks.
//
// The chunk key is derived from (key, iv, label) with HKDF-SHA256, so a
// single vault key and IV can safely serve every tracked file as long as
// each file uses a distinct label.
func EncryptStream(dst io.Writer, src io.Reader, key, iv []byte, label string) error {
	aead, err := streamAEAD(key, iv, label)
	if err != nil {
		return err
	}

	br := bufio.NewReaderSize(src, ChunkSize)
	buf := make([]byte, ChunkSize)
	defer ClearBytes(buf)
	header := make([]byte, chunkHeaderSize)

	for counter := uint64(0); ; counter++ {
		n, err := io.ReadFull(br, buf)
		final := false
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			final = true
		case err != nil:
			return fmt.Errorf("failed to read plaintext: %w", err)
		default:
			if _, perr := br.Peek(1); errors.Is(perr, io.EOF) {
				final = true
			} else if perr != nil {
				return fmt.Errorf("failed to read plaintext: %w", perr)
			}
		}

		header[0] = flagMore
		if final {
			header[0] = flagFinal
		}
		binary.BigEndian.PutUint32(header[1:], uint32(n+TagSize))

		ct := aead.Seal(nil, chunkNonce(counter), buf[:n], header)
		if _, err := dst.Write(header); err != nil {
			return fmt.Errorf("failed to write chunk: %w", err)
		}
		if _, err := dst.Write(ct); err != nil {
			return fmt.Errorf("failed to write chunk: %w", err)
		}

		if final {
			return nil
		}
	}
}

// DecryptStream reverses EncryptStream. It fails with ErrAuthFailed on any
// tampered chunk, ErrTruncated when the final chunk is missing and
// ErrInvalidCiphertext on malformed framing or trailing data.
func DecryptStream(dst io.Writer, src io.Reader, key, iv []byte, label string) error {
	aead, err := streamAEAD(key, iv, label)
	if err != nil {
		return err
	}

	br := bufio.NewReader(src)
	header := make([]byte, chunkHeaderSize)

	for counter := uint64(0); ; counter++ {
		if _, err := io.ReadFull(br, header); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return ErrTruncated
			}
			return fmt.Errorf("failed to read chunk header: %w", err)
		}

		flag := header[0]
		size := binary.BigEndian.Uint32(header[1:])
		if flag > flagFinal || size < TagSize || size > ChunkSize+TagSize {
			return ErrInvalidCiphertext
		}

		ct := make([]byte, size)
		if _, err := io.ReadFull(br, ct); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return ErrTruncated
			}
			return fmt.Errorf("failed to read chunk: %w", err)
		}

		pt, err := aead.Open(ct[:0], chunkNonce(counter), ct, header)
		if err != nil {
			return ErrAuthFailed
		}
		_, werr := dst.Write(pt)
		ClearBytes(pt)
		if werr != nil {
			return fmt.Errorf("failed to write plaintext: %w", werr)
		}

		if flag == flagFinal {
			if _, err := br.Peek(1); err == nil {
				return ErrInvalidCiphertext
			} else if !errors.Is(err, io.EOF) {
				return fmt.Errorf("failed to read trailer: %w", err)
			}
			return nil
		}
	}
}

func streamAEAD(key, iv []byte, label string) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	sub := make([]byte, KeySize)
	defer ClearBytes(sub)
	r := hkdf.New(sha256.New, key, iv, []byte("proxvault/stream/"+label))
	if _, err := io.ReadFull(r, sub); err != nil {
		return nil, fmt.Errorf("failed to derive stream key: %w", err)
	}
	return newGCM(sub)
}

func chunkNonce(counter uint64) []byte {
	nonce := make([]byte, NonceSize)
	binary.BigEndian.PutUint64(nonce[NonceSize-8:], counter)
	return nonce
}
