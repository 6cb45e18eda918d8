package router

import "testing"

func TestNormalizeRoutes(t *testing.T) {
	t.Run("assigns ids from tree position when omitted", func(t *testing.T) {
		tree, err := NormalizeRoutes([]Route{
			{Path: "posts", Children: []Route{{Path: ":id"}}},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(tree.Roots) != 1 || tree.Roots[0].ID != "0" {
			t.Fatalf("root id = %q, want %q", tree.Roots[0].ID, "0")
		}
		child := tree.Roots[0].Children[0]
		if child.ID != "0-0" {
			t.Errorf("child id = %q, want %q", child.ID, "0-0")
		}
	})

	t.Run("rejects duplicate sibling path", func(t *testing.T) {
		_, err := NormalizeRoutes([]Route{
			{ID: "a", Path: "x"},
			{ID: "b", Path: "x"},
		})
		if err == nil {
			t.Fatal("expected error for duplicate sibling path")
		}
	})

	t.Run("rejects duplicate sibling index", func(t *testing.T) {
		_, err := NormalizeRoutes([]Route{
			{ID: "a", Index: true},
			{ID: "b", Index: true},
		})
		if err == nil {
			t.Fatal("expected error for duplicate index route")
		}
	})

	t.Run("rejects duplicate id anywhere in the tree", func(t *testing.T) {
		_, err := NormalizeRoutes([]Route{
			{ID: "dup", Path: "a"},
			{ID: "outer", Path: "b", Children: []Route{
				{ID: "dup", Path: "c"},
			}},
		})
		if err == nil {
			t.Fatal("expected error for duplicate id")
		}
	})

	t.Run("preserves parent pointers and children", func(t *testing.T) {
		tree, err := NormalizeRoutes([]Route{
			{ID: "root", Children: []Route{{ID: "child", Path: "child"}}},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		child := tree.Lookup("child")
		if child == nil {
			t.Fatal("Lookup(\"child\") = nil")
		}
		if child.Parent == nil || child.Parent.ID != "root" {
			t.Error("child.Parent does not point back to root")
		}
	})
}

func TestNearestBoundary(t *testing.T) {
	root := &RouteNode{ID: "root", ExceptionBoundary: true}
	layout := &RouteNode{ID: "layout"}
	leaf := &RouteNode{ID: "leaf", ExceptionBoundary: true}

	tests := []struct {
		name    string
		matches []Match
		want    string
	}{
		{
			name:    "leaf declares its own boundary",
			matches: []Match{{Route: root}, {Route: layout}, {Route: leaf}},
			want:    "leaf",
		},
		{
			name:    "falls back to nearest ancestor",
			matches: []Match{{Route: root}, {Route: layout}},
			want:    "root",
		},
		{
			name:    "no boundary anywhere",
			matches: []Match{{Route: &RouteNode{ID: "x"}}},
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NearestBoundary(tt.matches); got != tt.want {
				t.Errorf("NearestBoundary() = %q, want %q", got, tt.want)
			}
		})
	}
}
