package subject

import (
	"fmt"
	"sort"
	"strings"

	"github.com/etive-io/asimov/errors"
)

// SetNested sets a value in a nested map using dot notation, creating
// intermediate maps as needed.
func SetNested(data map[string]interface{}, path string, value interface{}) {
	keys := strings.Split(path, ".")
	current := data
	for _, key := range keys[:len(keys)-1] {
		next, ok := current[key].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			current[key] = next
		}
		current = next
	}
	current[keys[len(keys)-1]] = value
}

// ExpandStrategy expands a blueprint document carrying a strategy matrix
// into one document per parameter combination, in the manner of CI matrix
// builds.
//
// The matrix maps dot-notation parameter paths to value lists; the expansion
// is their cross product. Each expanded document has the corresponding nested
// fields set and the strategy key removed. A name containing {param}
// placeholders is formatted from the combination (keyed by the last path
// component); otherwise the documents are named <base>-0, <base>-1, and so
// on in combination order.
//
// A document without a strategy key is returned unchanged as a single-entry
// list.
func ExpandStrategy(blueprint map[string]interface{}) ([]map[string]interface{}, error) {
	rawStrategy, ok := blueprint["strategy"]
	if !ok {
		return []map[string]interface{}{blueprint}, nil
	}

	strategy, ok := rawStrategy.(map[string]interface{})
	if !ok {
		return nil, errors.Newf("strategy must be a mapping, got %T", rawStrategy)
	}
	rawMatrix, ok := strategy["matrix"]
	if !ok {
		return nil, errors.New("strategy has no matrix")
	}
	matrix, ok := rawMatrix.(map[string]interface{})
	if !ok {
		return nil, errors.Newf("strategy matrix must be a mapping, got %T", rawMatrix)
	}

	// Deterministic parameter order.
	params := make([]string, 0, len(matrix))
	for param := range matrix {
		params = append(params, param)
	}
	sort.Strings(params)

	values := make([][]interface{}, len(params))
	for i, param := range params {
		list, ok := matrix[param].([]interface{})
		if !ok {
			return nil, errors.Newf("strategy matrix entry %s must be a list, got %T", param, matrix[param])
		}
		if len(list) == 0 {
			return nil, errors.Newf("strategy matrix entry %s is empty", param)
		}
		values[i] = list
	}

	baseName, _ := blueprint["name"].(string)
	combinations := crossProduct(values)

	expanded := make([]map[string]interface{}, 0, len(combinations))
	for i, combination := range combinations {
		doc := deepCopyMap(blueprint)
		delete(doc, "strategy")

		context := map[string]interface{}{}
		for j, param := range params {
			SetNested(doc, param, combination[j])
			parts := strings.Split(param, ".")
			context[parts[len(parts)-1]] = combination[j]
		}

		doc["name"] = expandedName(baseName, i, context)
		expanded = append(expanded, doc)
	}
	return expanded, nil
}

// expandedName formats a templated name from the combination context, or
// falls back to indexed naming.
func expandedName(base string, index int, context map[string]interface{}) string {
	if strings.Contains(base, "{") {
		name := base
		replaced := false
		for key, value := range context {
			placeholder := "{" + key + "}"
			if strings.Contains(name, placeholder) {
				name = strings.ReplaceAll(name, placeholder, fmt.Sprintf("%v", value))
				replaced = true
			}
		}
		if replaced && !strings.Contains(name, "{") {
			return name
		}
	}
	return fmt.Sprintf("%s-%d", base, index)
}

// crossProduct enumerates all combinations, varying the last parameter
// fastest.
func crossProduct(values [][]interface{}) [][]interface{} {
	total := 1
	for _, list := range values {
		total *= len(list)
	}
	out := make([][]interface{}, 0, total)
	combo := make([]int, len(values))
	for i := 0; i < total; i++ {
		row := make([]interface{}, len(values))
		for j := range values {
			row[j] = values[j][combo[j]]
		}
		out = append(out, row)
		for j := len(values) - 1; j >= 0; j-- {
			combo[j]++
			if combo[j] < len(values[j]) {
				break
			}
			combo[j] = 0
		}
	}
	return out
}

func deepCopyMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for key, value := range in {
		out[key] = deepCopyValue(value)
	}
	return out
}

func deepCopyValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return deepCopyMap(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return value
	}
}
