package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// GenerateID generates a new unique ID with the given prefix
func GenerateID(prefix string) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")

	return fmt.Sprintf("%s-%s", prefix, id)
}

// GenerateSortableID generates a lexicographically time-ordered ID.
// IDs minted in the same process are strictly increasing.
func GenerateSortableID() string {
	return ulid.Make().String()
}

// GetCurrentTime returns the current time in UTC
func GetCurrentTime() time.Time {
	return time.Now().UTC()
}

// scanJSON decodes a JSONB column value into dst
func scanJSON(src interface{}, dst interface{}) error {
	var raw []byte

	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}

	if len(raw) == 0 {
		return nil
	}

	return json.Unmarshal(raw, dst)
}

// valueJSON encodes v for a JSONB column
func valueJSON(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)

	if err != nil {
		return nil, err
	}

	return b, nil
}
