package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// RawJSON holds a JSON column verbatim.
type RawJSON json.RawMessage

// MarshalRaw encodes v for storage in a JSON column.
func MarshalRaw(v any) (RawJSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return RawJSON(b), nil
}

// Decode unmarshals the column into v. A NULL column leaves v untouched.
func (j RawJSON) Decode(v any) error {
	if len(j) == 0 || string(j) == "null" {
		return nil
	}
	if err := json.Unmarshal(j, v); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}

func (j *RawJSON) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[0:0], v...)
	case string:
		*j = append((*j)[0:0], v...)
	default:
		return errors.New("type assertion to []byte failed")
	}
	return nil
}

func (j RawJSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return []byte(j), nil
}

func (j RawJSON) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return json.RawMessage(j).MarshalJSON()
}

func (j *RawJSON) UnmarshalJSON(data []byte) error {
	if j == nil {
		return errors.New("json: UnmarshalJSON on nil pointer")
	}
	*j = append((*j)[0:0], data...)
	return nil
}
