package value

import (
	"fmt"

	"golang.org/x/text/encoding"
)

// BinaryConverter turns the raw bytes of a StorageBinaryEncoded cell into the text they were
// read from.
type BinaryConverter interface {
	Text(b []byte) (string, error)
}

// TextConverter decodes bytes with a character encoding. A nil Encoding means UTF-8.
type TextConverter struct {
	Encoding encoding.Encoding
}

func (c TextConverter) Text(b []byte) (string, error) {
	if c.Encoding == nil {
		return string(b), nil
	}

	out, err := c.Encoding.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("failed to decode %d bytes: %w", len(b), err)
	}

	return string(out), nil
}
