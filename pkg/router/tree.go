package router

import (
	"fmt"
	"strconv"
)

// RouteTree is the normalized, read-only form of a caller-supplied route
// tree, produced once at router construction time by NormalizeRoutes.
type RouteTree struct {
	Roots []*RouteNode

	// byID indexes every node for ExceptionBoundary lookup and diagnostics.
	byID map[string]*RouteNode
}

// Lookup returns the node with the given ID, or nil.
func (t *RouteTree) Lookup(id string) *RouteNode {
	if t == nil {
		return nil
	}
	return t.byID[id]
}

// NormalizeRoutes walks the caller's Route tree and produces an immutable
// RouteTree, assigning IDs to any route that omits one and validating that
// no sibling declares a duplicate path or more than one index route.
//
// It rejects configurations the matcher could never resolve unambiguously:
// two siblings with identical Path, more than one Index child under the
// same parent, or a duplicate ID anywhere in the tree.
func NormalizeRoutes(routes []Route) (*RouteTree, error) {
	tree := &RouteTree{byID: make(map[string]*RouteNode)}
	roots, err := normalizeChildren(tree, nil, routes, "", "")
	if err != nil {
		return nil, err
	}
	tree.Roots = roots
	return tree, nil
}

func normalizeChildren(tree *RouteTree, parent *RouteNode, routes []Route, pathPrefix, posPrefix string) ([]*RouteNode, error) {
	nodes := make([]*RouteNode, 0, len(routes))
	seenPaths := make(map[string]bool)
	sawIndex := false

	for i, r := range routes {
		if r.Index {
			if sawIndex {
				return nil, &InvalidRoutesError{
					Reason: fmt.Sprintf("duplicate index route under %q", displayPrefix(pathPrefix)),
				}
			}
			sawIndex = true
		} else if r.Path != "" {
			if seenPaths[r.Path] {
				return nil, &InvalidRoutesError{
					Reason: fmt.Sprintf("duplicate path %q under %q", r.Path, displayPrefix(pathPrefix)),
				}
			}
			seenPaths[r.Path] = true
		}

		pos := autoID(posPrefix, i)
		id := r.ID
		if id == "" {
			id = pos
		}
		if _, exists := tree.byID[id]; exists {
			return nil, &InvalidRoutesError{Reason: fmt.Sprintf("duplicate route id %q", id)}
		}

		node := &RouteNode{
			ID:                id,
			Path:              r.Path,
			Index:             r.Index,
			Loader:            r.Loader,
			Action:            r.Action,
			ShouldReload:      r.ShouldReload,
			ExceptionBoundary: r.ExceptionBoundary,
			Parent:            parent,
		}
		tree.byID[id] = node

		childPrefix := pathPrefix + "/" + r.Path
		children, err := normalizeChildren(tree, node, r.Children, childPrefix, pos)
		if err != nil {
			return nil, err
		}
		node.Children = children

		nodes = append(nodes, node)
	}

	return nodes, nil
}

// autoID renders a route's tree position as "-"-joined sibling indexes,
// e.g. "0-0-1" for the second child of the first child of the first root.
func autoID(prefix string, index int) string {
	if prefix == "" {
		return strconv.Itoa(index)
	}
	return prefix + "-" + strconv.Itoa(index)
}

func displayPrefix(prefix string) string {
	if prefix == "" {
		return "/"
	}
	return prefix
}

// NearestBoundary walks from the leaf of a match chain toward the root and
// returns the route ID of the nearest ExceptionBoundary, or "" if none of
// the matched routes declare one.
func NearestBoundary(matches []Match) string {
	for i := len(matches) - 1; i >= 0; i-- {
		if matches[i].Route != nil && matches[i].Route.ExceptionBoundary {
			return matches[i].Route.ID
		}
	}
	return ""
}
