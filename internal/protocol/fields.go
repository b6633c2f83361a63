package protocol

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Delimiter separates encoded fields.
const Delimiter = " "

var ErrMalformed = errors.New("malformed message")

var fieldEncoding = base64.RawStdEncoding

// JoinFields encodes each field and joins them with Delimiter.
func JoinFields(fields ...[]byte) []byte {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fieldEncoding.EncodeToString(f)
	}
	return []byte(strings.Join(parts, Delimiter))
}

// SplitFields reverses JoinFields and checks the field count.
func SplitFields(data []byte, want int) ([][]byte, error) {
	parts := strings.Split(string(data), Delimiter)
	if len(parts) != want {
		return nil, fmt.Errorf("%w: want %d fields, got %d", ErrMalformed, want, len(parts))
	}

	fields := make([][]byte, len(parts))
	for i, p := range parts {
		f, err := fieldEncoding.DecodeString(p)
		if err != nil {
			return nil, fmt.Errorf("%w: field %d: %v", ErrMalformed, i, err)
		}
		fields[i] = f
	}
	return fields, nil
}
