package contentstore

import (
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestQueryValues(t *testing.T) {
	tests := []struct {
		name  string
		query Query
		want  url.Values
	}{
		{
			name:  "empty",
			query: Query{},
			want:  url.Values{},
		},
		{
			name: "owner listing",
			query: Query{
				Filters: []Filter{Eq("user.id", "7")},
				Fields:  []string{"title", "status", "createdAt"},
				Sort:    []string{"createdAt:desc"},
			},
			want: url.Values{
				"filters[user][id][$eq]": {"7"},
				"fields[0]":              {"title"},
				"fields[1]":              {"status"},
				"fields[2]":              {"createdAt"},
				"sort[0]":                {"createdAt:desc"},
			},
		},
		{
			name: "nested populate",
			query: Query{
				Filters: []Filter{Eq("id", "12"), {Field: "user.id", Value: "7"}},
				Populate: map[string]Populate{
					"user": {Fields: []string{"username"}},
					"messages": {
						Populate: map[string]Populate{
							"author": {Fields: []string{"username"}},
						},
					},
					"attachments": {},
				},
			},
			want: url.Values{
				"filters[id][$eq]":                                {"12"},
				"filters[user][id][$eq]":                          {"7"},
				"populate[user][fields][0]":                       {"username"},
				"populate[messages][populate][author][fields][0]": {"username"},
				"populate[attachments]":                           {"true"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.query.Values()); diff != "" {
				t.Errorf("Values() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
