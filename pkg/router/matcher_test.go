package router

import (
	"reflect"
	"testing"
)

func buildTestTree(t *testing.T) *RouteTree {
	t.Helper()
	tree, err := NormalizeRoutes([]Route{
		{
			ID: "root",
			Children: []Route{
				{ID: "home", Index: true},
				{
					ID:   "posts",
					Path: "posts",
					Children: []Route{
						{ID: "postsIndex", Index: true},
						{ID: "postDetail", Path: ":id"},
					},
				},
				{ID: "files", Path: "files", Children: []Route{
					{ID: "filesCatchAll", Path: "*rest"},
				}},
			},
		},
	})
	if err != nil {
		t.Fatalf("NormalizeRoutes: %v", err)
	}
	return tree
}

func TestDefaultMatcher_Match(t *testing.T) {
	tree := buildTestTree(t)
	m := DefaultMatcher{}

	tests := []struct {
		name       string
		pathname   string
		wantIDs    []string
		wantParams map[string]string
		wantOK     bool
	}{
		{name: "root index", pathname: "/", wantIDs: []string{"root", "home"}, wantOK: true},
		{name: "static segment with index child", pathname: "/posts", wantIDs: []string{"root", "posts", "postsIndex"}, wantOK: true},
		{name: "param segment", pathname: "/posts/42", wantIDs: []string{"root", "posts", "postDetail"}, wantParams: map[string]string{"id": "42"}, wantOK: true},
		{name: "catch-all segment", pathname: "/files/a/b/c", wantIDs: []string{"root", "files", "filesCatchAll"}, wantParams: map[string]string{"rest": "a/b/c"}, wantOK: true},
		{name: "no match", pathname: "/nonexistent/deeply/nested", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches, ok := m.Match(tree, tt.pathname)
			if ok != tt.wantOK {
				t.Fatalf("Match(%q) ok = %v, want %v", tt.pathname, ok, tt.wantOK)
			}
			if !tt.wantOK {
				return
			}
			var gotIDs []string
			for _, match := range matches {
				gotIDs = append(gotIDs, match.Route.ID)
			}
			if !reflect.DeepEqual(gotIDs, tt.wantIDs) {
				t.Errorf("Match(%q) ids = %v, want %v", tt.pathname, gotIDs, tt.wantIDs)
			}
			if tt.wantParams != nil {
				leaf := matches[len(matches)-1]
				if !reflect.DeepEqual(leaf.Params, tt.wantParams) {
					t.Errorf("Match(%q) leaf params = %v, want %v", tt.pathname, leaf.Params, tt.wantParams)
				}
			}
		})
	}
}

func TestDefaultMatcher_StaticPreferredOverParam(t *testing.T) {
	tree, err := NormalizeRoutes([]Route{
		{ID: "root", Path: "posts", Children: []Route{
			{ID: "new", Path: "new"},
			{ID: "detail", Path: ":id"},
		}},
	})
	if err != nil {
		t.Fatalf("NormalizeRoutes: %v", err)
	}

	m := DefaultMatcher{}
	matches, ok := m.Match(tree, "/posts/new")
	if !ok {
		t.Fatal("expected a match")
	}
	leaf := matches[len(matches)-1]
	if leaf.Route.ID != "new" {
		t.Errorf("leaf id = %q, want %q (static route should win over param sibling)", leaf.Route.ID, "new")
	}
}
