package router

import "strings"

// Matcher is the narrow collaborator responsible for resolving a pathname
// against a RouteTree. The router ships DefaultMatcher, a backtracking
// radix matcher, but an embedding with its own route-matching semantics
// (case-insensitive segments, locale prefixes, and so on) can supply its
// own.
type Matcher interface {
	// Match returns the ordered root-to-leaf chain of matches for pathname,
	// or ok=false if no route in the tree covers it.
	Match(tree *RouteTree, pathname string) (matches []Match, ok bool)
}

// DefaultMatcher implements Matcher with a backtracking descent over the
// RouteTree: static segments are tried before a parameter child, which is
// tried before a catch-all child, backtracking on dead ends exactly as a
// radix router must when a static sibling and a param sibling could both
// consume the same segment.
type DefaultMatcher struct{}

func (DefaultMatcher) Match(tree *RouteTree, pathname string) ([]Match, bool) {
	segments := splitSegments(pathname)
	for _, root := range tree.Roots {
		params := map[string]string{}
		if chain := matchNode(root, segments, params, nil); chain != nil {
			return finalizeChain(chain, pathname), true
		}
	}
	return nil, false
}

// matchChain is an in-progress, reverse-accumulated list of matched nodes
// paired with the segment-count consumed to reach them, used to rebuild
// per-match pathnames once a full chain is found.
type matchChain struct {
	node     *RouteNode
	consumed int
	params   map[string]string
	prev     *matchChain
}

func matchNode(node *RouteNode, segments []string, params map[string]string, prev *matchChain) *matchChain {
	if node.Path == "" && !node.Index {
		// Layout-only route (pathless): consumes no segments but still
		// contributes its own match, since its loader/action must run like
		// any other matched route.
		frame := &matchChain{node: node, consumed: 0, params: snapshotParams(params), prev: prev}
		return matchDescend(node, segments, 0, params, frame)
	}

	switch {
	case strings.HasPrefix(node.Path, "*"):
		if len(segments) == 0 {
			return nil
		}
		name := node.Path[1:]
		params[name] = strings.Join(segments, "/")
		frame := &matchChain{node: node, consumed: len(segments), params: snapshotParams(params), prev: prev}
		if result := matchDescend(node, nil, len(segments), params, frame); result != nil {
			return result
		}
		delete(params, name)
		return nil

	case strings.HasPrefix(node.Path, ":"):
		if len(segments) == 0 {
			return nil
		}
		name := node.Path[1:]
		prior, had := params[name]
		params[name] = segments[0]
		frame := &matchChain{node: node, consumed: 1, params: snapshotParams(params), prev: prev}
		if result := matchDescend(node, segments[1:], 1, params, frame); result != nil {
			return result
		}
		if had {
			params[name] = prior
		} else {
			delete(params, name)
		}
		return nil

	case node.Index:
		if len(segments) != 0 {
			return nil
		}
		frame := &matchChain{node: node, consumed: 0, params: snapshotParams(params), prev: prev}
		return frame

	default:
		parts := splitSegments(node.Path)
		if len(segments) < len(parts) {
			return nil
		}
		for i, p := range parts {
			if segments[i] != p {
				return nil
			}
		}
		frame := &matchChain{node: node, consumed: len(parts), params: snapshotParams(params), prev: prev}
		return matchDescend(node, segments[len(parts):], len(parts), params, frame)
	}
}

// matchDescend tries, in order: this node as a leaf (if segments are
// exhausted and it has no children needing a match, or an Index child
// covers the rest), then each static child, then the param child, then the
// catch-all child.
func matchDescend(node *RouteNode, remaining []string, _ int, params map[string]string, frame *matchChain) *matchChain {
	if len(remaining) == 0 {
		// This node itself may terminate the chain.
		if !hasIndexChild(node) || node.Index {
			return frame
		}
	}

	var paramChild, catchAllChild *RouteNode
	for _, child := range node.Children {
		switch {
		case child.Index:
			if len(remaining) == 0 {
				if result := matchNode(child, remaining, params, frame); result != nil {
					return result
				}
			}
		case strings.HasPrefix(child.Path, ":"):
			paramChild = child
		case strings.HasPrefix(child.Path, "*"):
			catchAllChild = child
		default:
			if result := matchNode(child, remaining, params, frame); result != nil {
				return result
			}
		}
	}

	if len(remaining) == 0 && !hasIndexChild(node) {
		return frame
	}

	if paramChild != nil {
		if result := matchNode(paramChild, remaining, params, frame); result != nil {
			return result
		}
	}
	if catchAllChild != nil {
		if result := matchNode(catchAllChild, remaining, params, frame); result != nil {
			return result
		}
	}

	if len(remaining) == 0 {
		return frame
	}
	return nil
}

func hasIndexChild(node *RouteNode) bool {
	for _, c := range node.Children {
		if c.Index {
			return true
		}
	}
	return false
}

func snapshotParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

func finalizeChain(tail *matchChain, fullPathname string) []Match {
	var frames []*matchChain
	for f := tail; f != nil; f = f.prev {
		frames = append(frames, f)
	}
	// frames is leaf-to-root; reverse to root-to-leaf.
	for i, j := 0, len(frames)-1; i < j; i, j = i+1, j-1 {
		frames[i], frames[j] = frames[j], frames[i]
	}

	segments := splitSegments(fullPathname)
	matches := make([]Match, 0, len(frames))
	consumedSoFar := 0
	for _, f := range frames {
		consumedSoFar += f.consumed
		base := "/" + strings.Join(segments[:consumedSoFar], "/")
		if base == "" {
			base = "/"
		}
		matches = append(matches, Match{
			Route:        f.node,
			Params:       f.params,
			Pathname:     fullPathname,
			PathnameBase: base,
		})
	}
	return matches
}

func splitSegments(pathname string) []string {
	trimmed := strings.Trim(pathname, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
