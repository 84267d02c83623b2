package model

import (
	"encoding/json"
	"fmt"
)

// Tabler is implemented by every record type and names its storage table.
type Tabler interface {
	Table() string
}

// Encode converts a record into the generic row form the store accepts.
func Encode(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	var row map[string]any
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return row, nil
}

// Decode fills a record from a generic store row.
func Decode[T any](row map[string]any, out *T) error {
	raw, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("decoding row: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding row: %w", err)
	}
	return nil
}

// DecodeRows converts a result set into typed records.
func DecodeRows[T any](rows []map[string]any) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		var rec T
		if err := Decode(row, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
