package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap persists an arbitrary JSON object in a single jsonb column.
// gorm has no built-in map scanner, and no pack dependency supplies one,
// so this adapter is hand-written rather than imported.
type JSONMap map[string]interface{}

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("models: JSONMap.Scan: unsupported type %T", value)
	}
	if len(raw) == 0 {
		*m = nil
		return nil
	}
	out := make(JSONMap)
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("models: JSONMap.Scan: %w", err)
	}
	*m = out
	return nil
}
