package cache

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Encode marshals a structured value to JSON bytes for storage.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cache encode: %w", err)
	}
	return data, nil
}

// Decode interprets stored bytes. The bytes are decoded as UTF-8 text
// first and JSON-parsed; anything that is not valid UTF-8 JSON comes back
// unchanged as []byte. Parsing raw bytes as JSON directly would
// misclassify binary payloads that happen to start with a JSON byte.
func Decode(data []byte) any {
	if utf8.Valid(data) {
		var v any
		if err := json.Unmarshal(data, &v); err == nil {
			return v
		}
	}
	return append([]byte(nil), data...)
}

// DecodeInto JSON-decodes stored bytes into v, for callers that know the
// shape they wrote.
func DecodeInto(data []byte, v any) error {
	if !utf8.Valid(data) {
		return fmt.Errorf("cache decode: payload is not UTF-8 text")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cache decode: %w", err)
	}
	return nil
}
