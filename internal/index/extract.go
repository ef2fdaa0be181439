package index

import (
	"strings"
)

// ExtractPath resolves a slash-or-dot-delimited JSON path with |-separated
// fallbacks against an item dict. The first alternative that resolves to a
// non-null value wins; nil means no alternative resolved.
func ExtractPath(dict map[string]interface{}, jsonPath string) interface{} {
	for _, alternative := range strings.Split(jsonPath, "|") {
		if v := extractOne(dict, strings.TrimSpace(alternative)); v != nil {
			return v
		}
	}
	return nil
}

func extractOne(dict map[string]interface{}, path string) interface{} {
	if path == "" {
		return nil
	}
	segments := strings.FieldsFunc(path, func(r rune) bool {
		return r == '.' || r == '/'
	})

	var current interface{} = dict
	for _, seg := range segments {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return current
}
