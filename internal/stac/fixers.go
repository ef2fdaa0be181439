package stac

// Canonical URL for the shorthand "eo" extension identifier that older
// catalogs still carry in stac_extensions.
const eoExtensionURL = "https://stac-extensions.github.io/eo/v1.0.0/schema.json"

// Fixer is a named pre-validation transform applied to an item dict.
// Check reports whether the fixer could address a given violation;
// Fix returns the transformed dict.
type Fixer struct {
	Name  string
	Check func(violation *Violation) bool
	Fix   func(dict map[string]interface{}) map[string]interface{}
}

// Violation is one structural problem found while validating an item dict.
type Violation struct {
	// Subtype is the validator error kind (e.g. "missing-field").
	Subtype string
	// Location is the dotted path to the offending field.
	Location string
	// Description is a human-readable account of the problem.
	Description string
}

// fixerRegistry is the compiled-in allow-list of fixers, keyed by name.
var fixerRegistry = map[string]Fixer{
	"extension-uri": {
		Name: "extension-uri",
		Check: func(v *Violation) bool {
			return v.Location == "stac_extensions"
		},
		Fix: fixExtensionURI,
	},
}

// LookupFixer returns the registered fixer with the given name.
func LookupFixer(name string) (Fixer, bool) {
	f, ok := fixerRegistry[name]
	return f, ok
}

// RegisteredFixers returns the names of all registered fixers.
func RegisteredFixers() []string {
	names := make([]string, 0, len(fixerRegistry))
	for name := range fixerRegistry {
		names = append(names, name)
	}
	return names
}

// fixExtensionURI replaces the shorthand "eo" extension id with its full
// canonical URL in stac_extensions.
func fixExtensionURI(dict map[string]interface{}) map[string]interface{} {
	exts, ok := dict["stac_extensions"].([]interface{})
	if !ok {
		return dict
	}
	changed := false
	fixed := make([]interface{}, len(exts))
	for i, ext := range exts {
		if s, ok := ext.(string); ok && s == "eo" {
			fixed[i] = eoExtensionURL
			changed = true
			continue
		}
		fixed[i] = ext
	}
	if !changed {
		return dict
	}
	out := make(map[string]interface{}, len(dict))
	for k, v := range dict {
		out[k] = v
	}
	out["stac_extensions"] = fixed
	return out
}
