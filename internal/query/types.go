// Package query compiles search requests into parameterised SQL over the
// snapshot tables.
package query

import (
	apperrors "github.com/stacdex/stacdex/internal/errors"
)

// WildcardCollection marks a queryable or sortable that applies to every
// collection.
const WildcardCollection = "*"

// Queryable is one row of the queryables_by_collection table.
type Queryable struct {
	Name         string
	CollectionID string
	Description  string
	JSONSchema   string
	Column       string
	ColumnType   string
	IsGeometry   bool
	IsTemporal   bool
}

// Sortable is one row of the sortables_by_collection table.
type Sortable struct {
	Name         string
	CollectionID string
	Description  string
	Column       string
}

// Fields resolves queryable and sortable names for a search, taking the
// wildcard rows plus the rows of the searched collections.
type Fields struct {
	queryables map[string]Queryable
	sortables  map[string]Sortable
}

// NewFields builds a resolver from catalog rows. Collection-specific rows
// shadow wildcard rows of the same name.
func NewFields(queryables []Queryable, sortables []Sortable, collections []string) *Fields {
	wanted := make(map[string]bool, len(collections))
	for _, c := range collections {
		wanted[c] = true
	}
	match := func(collectionID string) bool {
		if collectionID == WildcardCollection {
			return true
		}
		// No collection restriction means every collection's fields
		// are in scope.
		return len(wanted) == 0 || wanted[collectionID]
	}

	f := &Fields{
		queryables: make(map[string]Queryable),
		sortables:  make(map[string]Sortable),
	}
	for _, q := range queryables {
		if !match(q.CollectionID) {
			continue
		}
		if prev, ok := f.queryables[q.Name]; ok && prev.CollectionID != WildcardCollection {
			continue
		}
		f.queryables[q.Name] = q
	}
	for _, s := range sortables {
		if !match(s.CollectionID) {
			continue
		}
		if prev, ok := f.sortables[s.Name]; ok && prev.CollectionID != WildcardCollection {
			continue
		}
		f.sortables[s.Name] = s
	}
	return f
}

// Queryable resolves a queryable name.
func (f *Fields) Queryable(name string) (Queryable, error) {
	q, ok := f.queryables[name]
	if !ok {
		return Queryable{}, apperrors.NewUnknownField(name)
	}
	return q, nil
}

// Sortable resolves a sortable name.
func (f *Fields) Sortable(name string) (Sortable, error) {
	s, ok := f.sortables[name]
	if !ok {
		return Sortable{}, apperrors.NewUnknownField(name)
	}
	return s, nil
}
