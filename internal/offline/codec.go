package offline

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Entries, cache records and entry metadata are persisted as gob.

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

func decodeEntry(b []byte) (Entry, error) {
	var ent Entry
	if err := decodeGob(b, &ent); err != nil {
		return Entry{}, err
	}
	if ent.Header == nil {
		ent.Header = make(map[string][]string)
	}
	return ent, nil
}
