package store

import (
	"encoding/json"
	"fmt"

	"github.com/benjamind/flecs/internal/trace"
)

// marshalEntities converts an entity name list to canonical JSON TEXT.
func marshalEntities(entities []string) (string, error) {
	if entities == nil {
		entities = []string{}
	}
	data, err := trace.MarshalCanonical(entities)
	if err != nil {
		return "", fmt.Errorf("marshal entities: %w", err)
	}
	return string(data), nil
}

// unmarshalEntities parses the JSON TEXT written by marshalEntities.
func unmarshalEntities(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var entities []string
	if err := json.Unmarshal([]byte(data), &entities); err != nil {
		return nil, fmt.Errorf("unmarshal entities: %w", err)
	}
	return entities, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
