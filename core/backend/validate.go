package backend

import (
	"fmt"
	"strconv"
)

// validated returns a copy of the document with all fields unknown to the
// prototype removed. Values of known fields must match the prototype's
// types, otherwise a validationError naming the offending field is
// returned. Missing fields are not filled in and null values are kept.
func validated(prototype map[string]interface{}, doc map[string]interface{}) (map[string]interface{}, error) {
	checked, err := validatedValue(prototype, doc, "")
	if err != nil {
		return nil, err
	}
	return checked.(map[string]interface{}), nil
}

func validatedValue(protoValue, value interface{}, path string) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	switch proto := protoValue.(type) {
	case string:
		if _, ok := value.(string); !ok {
			return nil, validationError{field: path, reason: "must be a string"}
		}
		return value, nil
	case bool:
		if _, ok := value.(bool); !ok {
			return nil, validationError{field: path, reason: "must be a boolean"}
		}
		return value, nil
	case int, int64, float64:
		switch value.(type) {
		case int, int64, float64:
			return value, nil
		}
		return nil, validationError{field: path, reason: "must be a number"}
	case []interface{}:
		if len(proto) != 1 {
			return nil, fmt.Errorf("prototype list %s must have exactly one element", path)
		}
		items, ok := value.([]interface{})
		if !ok {
			return nil, validationError{field: path, reason: "must be a list"}
		}
		out := make([]interface{}, 0, len(items))
		for i, item := range items {
			checked, err := validatedValue(proto[0], item, joinPath(path, strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			out = append(out, checked)
		}
		return out, nil
	case map[string]interface{}:
		obj, ok := value.(map[string]interface{})
		if !ok {
			return nil, validationError{field: path, reason: "must be an object"}
		}
		out := map[string]interface{}{}
		for key, pv := range proto {
			v, ok := obj[key]
			if !ok {
				continue
			}
			checked, err := validatedValue(pv, v, joinPath(path, key))
			if err != nil {
				return nil, err
			}
			out[key] = checked
		}
		return out, nil
	}
	return nil, fmt.Errorf("prototype %s has unsupported value %v", path, protoValue)
}

func joinPath(path, element string) string {
	if path == "" {
		return element
	}
	return path + "." + element
}
