package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Tags is a string list stored as a JSON array in a TEXT column.
type Tags []string

// Value implements driver.Valuer. A nil list is stored as "[]" so the column
// never holds NULL.
func (t Tags) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(t))
	if err != nil {
		return nil, fmt.Errorf("model: encoding tags: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (t *Tags) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*t = Tags{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("model: cannot scan %T into Tags", src)
	}

	if len(raw) == 0 {
		*t = Tags{}
		return nil
	}

	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("model: decoding tags: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	*t = out
	return nil
}
