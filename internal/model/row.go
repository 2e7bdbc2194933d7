package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Row is one record of a remote table, encoded as a JSON object.
type Row = json.RawMessage

// Patch maps column names to new values for a partial update.
type Patch map[string]any

// EncodeRow encodes a typed record as a Row.
func EncodeRow(v any) (Row, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	return Row(data), nil
}

// DecodeRow decodes a Row into a typed record.
func DecodeRow[T any](row Row) (T, error) {
	var out T
	if err := json.Unmarshal(row, &out); err != nil {
		return out, fmt.Errorf("decode row: %w", err)
	}
	return out, nil
}

// DecodeRows decodes every row, failing on the first malformed one.
func DecodeRows[T any](rows []Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for i, row := range rows {
		v, err := DecodeRow[T](row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// RowFields decodes a Row into a generic column map.
// Numbers are kept as json.Number so integer ids survive intact.
func RowFields(row Row) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(row))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode row fields: %w", err)
	}
	return out, nil
}
