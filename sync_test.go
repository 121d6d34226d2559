package devswarm

import (
	"reflect"
	"testing"
)

func TestParseIssueDependencies(t *testing.T) {
	cases := []struct {
		name string
		body string
		want issueReferences
	}{
		{
			name: "unchecked task item",
			body: "Work to do:\n- [ ] #12\n- [ ] #13",
			want: issueReferences{Blocking: []int{12, 13}},
		},
		{
			name: "checked task item resolves",
			body: "- [x] #12\n- [ ] #13",
			want: issueReferences{Blocking: []int{13}, Resolved: []int{12}},
		},
		{
			name: "phrase forms are case-insensitive",
			body: "This is Blocked By #5 and Depends On #6 and requires #7, waiting for #8",
			want: issueReferences{Blocking: []int{5, 6, 7, 8}},
		},
		{
			name: "duplicate references are deduped",
			body: "blocked by #9\n- [ ] #9",
			want: issueReferences{Blocking: []int{9}},
		},
		{
			name: "no references",
			body: "Just a plain description with no markers.",
			want: issueReferences{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := parseIssueDependencies(tc.body)
			if !reflect.DeepEqual(got.Blocking, tc.want.Blocking) {
				t.Errorf("Blocking = %v, want %v", got.Blocking, tc.want.Blocking)
			}
			if !reflect.DeepEqual(got.Resolved, tc.want.Resolved) {
				t.Errorf("Resolved = %v, want %v", got.Resolved, tc.want.Resolved)
			}
		})
	}
}
