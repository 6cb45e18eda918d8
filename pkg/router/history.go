package router

import (
	"strconv"
	"strings"
)

// History is the narrow collaborator the router uses to read and update
// the ambient navigation history. A browser embedding supplies an adapter
// over the History API; MemoryHistory is the default for tests, CLIs, and
// servers simulating navigation without a browser.
type History interface {
	// Action reports how the current entry was reached.
	Action() HistoryAction

	// Location returns the current location.
	Location() Location

	// Push appends a new entry for the given href, carrying opaque state.
	Push(to string, state any)

	// Replace overwrites the current entry.
	Replace(to string, state any)

	// Go moves the history pointer by delta entries (negative is back),
	// asynchronously triggering a POP notification to any Listen callback.
	Go(n int)

	// CreateHref renders a Location as an href suitable for an <a> tag or
	// equivalent, honoring the embedding's base path if any.
	CreateHref(loc Location) string

	// Listen registers a callback invoked whenever the active location
	// changes because of a POP (back/forward navigation, not Push/Replace
	// issued by this router itself). Returns an unsubscribe function.
	Listen(func(Location, HistoryAction)) func()
}

// MemoryHistory is an in-process History implementation backed by a simple
// entry stack, suitable for tests and non-browser embeddings.
type MemoryHistory struct {
	entries   []Location
	index     int
	action    HistoryAction
	listeners []func(Location, HistoryAction)
	keySeq    uint64
}

// NewMemoryHistory constructs a MemoryHistory starting at the given
// pathname (search and hash may be embedded via routepath.SplitURL by the
// caller before constructing the initial Location).
func NewMemoryHistory(initial Location) *MemoryHistory {
	if initial.Key == "" {
		initial.Key = "default"
	}
	return &MemoryHistory{entries: []Location{initial}, index: 0, action: HistoryActionPop}
}

func (h *MemoryHistory) Action() HistoryAction {
	return h.action
}

func (h *MemoryHistory) Location() Location {
	return h.entries[h.index]
}

func (h *MemoryHistory) nextKey() string {
	h.keySeq++
	return "k" + strconv.FormatUint(h.keySeq, 10)
}

func (h *MemoryHistory) locationFromHref(to string, state any) Location {
	pathname, search, hash := splitHref(to)
	return Location{Pathname: pathname, Search: search, Hash: hash, State: state, Key: h.nextKey()}
}

func (h *MemoryHistory) Push(to string, state any) {
	loc := h.locationFromHref(to, state)
	h.entries = append(h.entries[:h.index+1], loc)
	h.index = len(h.entries) - 1
	h.action = HistoryActionPush
}

func (h *MemoryHistory) Replace(to string, state any) {
	loc := h.locationFromHref(to, state)
	loc.Key = h.entries[h.index].Key
	h.entries[h.index] = loc
	h.action = HistoryActionReplace
}

func (h *MemoryHistory) Go(n int) {
	next := h.index + n
	if next < 0 {
		next = 0
	}
	if next > len(h.entries)-1 {
		next = len(h.entries) - 1
	}
	if next == h.index {
		return
	}
	h.index = next
	h.action = HistoryActionPop
	loc := h.entries[h.index]
	for _, l := range h.listeners {
		if l != nil {
			l(loc, HistoryActionPop)
		}
	}
}

func (h *MemoryHistory) CreateHref(loc Location) string {
	return loc.Href()
}

func (h *MemoryHistory) Listen(fn func(Location, HistoryAction)) func() {
	h.listeners = append(h.listeners, fn)
	idx := len(h.listeners) - 1
	return func() {
		h.listeners[idx] = nil
	}
}

func splitHref(href string) (pathname, search, hash string) {
	rest := href
	if i := strings.IndexByte(rest, '#'); i >= 0 {
		hash = rest[i+1:]
		rest = rest[:i]
	}
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		search = rest[i+1:]
		rest = rest[:i]
	}
	pathname = rest
	return pathname, search, hash
}
