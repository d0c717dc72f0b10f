package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// UUIDArray is a custom type for handling UUID[] arrays in PostgreSQL
type UUIDArray []uuid.UUID

// Value implements the driver.Valuer interface
func (a UUIDArray) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	strs := make([]string, len(a))
	for i, id := range a {
		strs[i] = id.String()
	}
	return pq.Array(strs).Value()
}

// Scan implements the sql.Scanner interface
func (a *UUIDArray) Scan(src interface{}) error {
	if src == nil {
		*a = nil
		return nil
	}
	var strs []string
	if err := pq.Array(&strs).Scan(src); err != nil {
		return err
	}
	ids := make(UUIDArray, 0, len(strs))
	for _, s := range strs {
		id, err := uuid.Parse(s)
		if err != nil {
			return fmt.Errorf("invalid uuid in array: %w", err)
		}
		ids = append(ids, id)
	}
	*a = ids
	return nil
}

// Contains reports whether id is in the array
func (a UUIDArray) Contains(id uuid.UUID) bool {
	for _, v := range a {
		if v == id {
			return true
		}
	}
	return false
}

// JSONB is a custom type for handling free-form JSONB fields
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
// Returns JSON as string for compatibility with pgx simple protocol mode
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return jsonValue(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	return jsonScan(value, j)
}

func jsonValue(v interface{}) (driver.Value, error) {
	bytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

func jsonScan(value interface{}, dest interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
}
