package link

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// gobCodec moves link messages as gob frames. Both ends of the link are
// this codebase, so gob's Go-only framing is fine and saves a proto step.
type gobCodec struct{}

func (gobCodec) Name() string { return "brainstem-gob" }

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("gob decode: %w", err)
	}
	return nil
}
