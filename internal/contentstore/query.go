package contentstore

import (
	"net/url"
	"strconv"
	"strings"
)

// Filter is a single field condition. Field is a dot path across relations,
// e.g. "user.id".
type Filter struct {
	Field    string
	Operator string
	Value    string
}

// Eq builds an equality filter.
func Eq(field, value string) Filter {
	return Filter{Field: field, Operator: "$eq", Value: value}
}

// Populate selects a relation or component to expand. A zero value expands
// the relation with all of its fields.
type Populate struct {
	Fields   []string
	Populate map[string]Populate
}

// Query is the filter/populate/sort/fields vocabulary understood by the store.
type Query struct {
	Filters  []Filter
	Populate map[string]Populate
	Sort     []string
	Fields   []string
}

// Values encodes the query using bracketed query-string keys.
func (q Query) Values() url.Values {
	values := url.Values{}
	for _, f := range q.Filters {
		key := "filters"
		for _, segment := range strings.Split(f.Field, ".") {
			key += "[" + segment + "]"
		}
		op := f.Operator
		if op == "" {
			op = "$eq"
		}
		values.Add(key+"["+op+"]", f.Value)
	}
	for i, field := range q.Fields {
		values.Set("fields["+strconv.Itoa(i)+"]", field)
	}
	for i, s := range q.Sort {
		values.Set("sort["+strconv.Itoa(i)+"]", s)
	}
	encodePopulate(values, "populate", q.Populate)
	return values
}

func encodePopulate(values url.Values, prefix string, populate map[string]Populate) {
	for name, p := range populate {
		key := prefix + "[" + name + "]"
		if len(p.Fields) == 0 && len(p.Populate) == 0 {
			values.Set(key, "true")
			continue
		}
		for i, field := range p.Fields {
			values.Set(key+"[fields]["+strconv.Itoa(i)+"]", field)
		}
		encodePopulate(values, key+"[populate]", p.Populate)
	}
}
