package service

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// decodeList accepts either a bare JSON array or an object that carries the
// array under one of keys.
func decodeList[T any](raw json.RawMessage, keys ...string) ([]T, error) {
	var items []T
	if len(raw) == 0 || string(raw) == "null" {
		return items, nil
	}

	if err := json.Unmarshal(raw, &items); err == nil {
		return items, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	for _, key := range keys {
		if field, ok := obj[key]; ok {
			if err := json.Unmarshal(field, &items); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", key, err)
			}
			return items, nil
		}
	}
	return nil, fmt.Errorf("unexpected response shape")
}

// pathID escapes an identifier for use as a path segment.
func pathID(id string) string {
	return url.PathEscape(id)
}
