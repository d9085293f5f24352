package services

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

// decodeJSON unmarshals a JSON column into v. Empty and null columns leave v untouched.
func decodeJSON(column datatypes.JSON, v any) error {
	if len(column) == 0 || string(column) == "null" {
		return nil
	}
	if err := json.Unmarshal(column, v); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}

func encodeJSON(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return datatypes.JSON(encoded), nil
}
