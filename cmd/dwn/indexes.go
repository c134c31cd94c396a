package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dwn-core/dwn/pkg/indexlevel"
)

// loadMessage reads a JSON object from path as a message body.
func loadMessage(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// loadIndexes reads a flat JSON object of scalars from path and
// converts it into an indexlevel.Indexes map.
func loadIndexes(path string) (indexlevel.Indexes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return scalarsToIndexes(raw)
}

func scalarsToIndexes(raw map[string]any) (indexlevel.Indexes, error) {
	out := make(indexlevel.Indexes, len(raw))
	for k, v := range raw {
		switch x := v.(type) {
		case string:
			out[k] = indexlevel.StringValue(x)
		case float64:
			out[k] = indexlevel.NumberValue(x)
		case bool:
			out[k] = indexlevel.BoolValue(x)
		default:
			return nil, fmt.Errorf("indexes.%s: unsupported value type %T", k, v)
		}
	}
	return out, nil
}
