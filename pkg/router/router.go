package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ryihan/dataroute/pkg/router/instrument"
	"github.com/ryihan/dataroute/pkg/routepath"
)

// HydrationData seeds a Router's initial Snapshot from data already fetched
// server-side (or otherwise obtained before the Router existed).
type HydrationData struct {
	LoaderData map[string]any
	ActionData map[string]any
	Exceptions map[string]error
}

// RouterConfig configures NewRouter.
type RouterConfig struct {
	Routes        []Route
	History       History
	Basename      string
	HydrationData *HydrationData

	// Matcher overrides the default matcher; nil selects DefaultMatcher{}.
	Matcher Matcher

	// Logger receives the router's one diagnostic, the hydration-gap
	// warning. Defaults to slog.Default().
	Logger *slog.Logger

	// Instrumentation reports navigation/fetch/loader/action metrics and
	// traces; nil (the default) records nothing.
	Instrumentation *instrument.Instrumentation
}

// Router is the State Store: the single owner of the router's Snapshot,
// serializing every mutation onto one command-loop goroutine so state
// transitions stay single-threaded and cooperative without a mutex guarding
// them. Reads of the published Snapshot go through an atomic.Pointer, which
// is not a lock.
type Router struct {
	tree     *RouteTree
	matcher  Matcher
	history  History
	basename string
	logger   *slog.Logger

	cmdCh chan func()
	quit  chan struct{}

	snapshot atomic.Pointer[Snapshot]

	subMu  sync.Mutex
	subs   map[uint64]func(Snapshot)
	subSeq uint64

	// navigation cycle bookkeeping — touched only from the command loop.
	navSeq            uint64
	navCancel         context.CancelFunc
	actionLocationKey string

	fetchers *fetcherManager
	instr    *instrument.Instrumentation

	locSeq uint64

	historyUnsub func()
}

// NewRouter constructs a Router from a route tree and a History adapter,
// normalizing the tree and (optionally) seeding hydration data. It returns
// an *InvalidRoutesError if the route tree is empty or ambiguous (duplicate
// id, duplicate sibling path, or more than one index route under a parent),
// and a *ConfigurationError if no History adapter is given.
func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.History == nil {
		return nil, &ConfigurationError{Reason: "history adapter is required"}
	}
	if len(cfg.Routes) == 0 {
		return nil, &InvalidRoutesError{Reason: "route tree must not be empty"}
	}

	tree, err := NormalizeRoutes(cfg.Routes)
	if err != nil {
		return nil, err
	}

	matcher := cfg.Matcher
	if matcher == nil {
		matcher = DefaultMatcher{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{
		tree:     tree,
		matcher:  matcher,
		history:  cfg.History,
		basename: cfg.Basename,
		logger:   logger,
		cmdCh:    make(chan func(), 64),
		quit:     make(chan struct{}),
		subs:     map[uint64]func(Snapshot){},
		fetchers: newFetcherManager(),
		instr:    cfg.Instrumentation,
	}

	loc := cfg.History.Location()
	matches, ok := matcher.Match(tree, loc.Pathname)

	initial := &Snapshot{
		HistoryAction: cfg.History.Action(),
		Location:      loc,
		LoaderData:    map[string]any{},
		ActionData:    map[string]any{},
		Exceptions:    map[string]error{},
		Transition:    Transition{State: TransitionIdle, Type: TransitionTypeIdle},
		Revalidation:  RevalidationIdle,
		Fetchers:      map[string]Fetcher{},
	}

	if !ok {
		initial.Exceptions[""] = LocationNotFound(loc.Pathname)
		initial.Initialized = true
	} else {
		initial.Matches = matches
		if cfg.HydrationData != nil {
			initial.LoaderData = copyAnyMap(cfg.HydrationData.LoaderData)
			initial.ActionData = copyAnyMap(cfg.HydrationData.ActionData)
			initial.Exceptions = copyExceptionMap(cfg.HydrationData.Exceptions)
		}
		initial.Initialized = hydrationCovers(matches, initial.LoaderData, initial.Exceptions)
		if !initial.Initialized {
			logger.Warn("router: hydration data is partial; loading missing routes before initial render",
				"pathname", loc.Pathname)
		}
	}

	r.snapshot.Store(initial)
	r.locSeq = 1

	go r.loop()

	r.historyUnsub = cfg.History.Listen(func(loc Location, action HistoryAction) {
		r.dispatch(func() { r.onHistoryPop(loc, action) })
	})

	if !initial.Initialized {
		r.dispatch(func() { r.startInitialLoad(matches) })
	}

	return r, nil
}

// hydrationCovers reports whether every matched route with a loader has a
// hydration entry (loaderData or exceptions) already.
func hydrationCovers(matches []Match, loaderData map[string]any, exceptions map[string]error) bool {
	for _, m := range matches {
		if !m.Route.HasLoader() {
			continue
		}
		if _, ok := loaderData[m.Route.ID]; ok {
			continue
		}
		if _, ok := exceptions[m.Route.ID]; ok {
			continue
		}
		return false
	}
	return true
}

// loop is the router's single command-processing goroutine. Every state
// mutation, and only state mutations, run here.
func (r *Router) loop() {
	for {
		select {
		case fn := <-r.cmdCh:
			fn()
		case <-r.quit:
			return
		}
	}
}

// dispatch queues fn to run on the command loop. Safe to call from any
// goroutine.
func (r *Router) dispatch(fn func()) {
	select {
	case r.cmdCh <- fn:
	case <-r.quit:
	}
}

// dispatchSync queues fn and blocks until it has run, for callers off the
// command loop that must read loop-owned state or see their change applied
// before going on. It must not be called from the command loop itself.
func (r *Router) dispatchSync(fn func()) {
	done := make(chan struct{})
	r.dispatch(func() {
		fn()
		close(done)
	})
	<-done
}

// Close stops the router's command loop and unsubscribes from History. A
// closed Router must not be used again.
func (r *Router) Close() {
	if r.historyUnsub != nil {
		r.historyUnsub()
	}
	close(r.quit)
}

// State returns the current, immutable Snapshot.
func (r *Router) State() Snapshot {
	return *r.snapshot.Load()
}

// Subscribe registers fn to be invoked synchronously, on the command loop,
// after every committed state change. The returned func unsubscribes.
func (r *Router) Subscribe(fn func(Snapshot)) func() {
	r.subMu.Lock()
	r.subSeq++
	id := r.subSeq
	r.subs[id] = fn
	r.subMu.Unlock()

	return func() {
		r.subMu.Lock()
		delete(r.subs, id)
		r.subMu.Unlock()
	}
}

// publish installs next as the current Snapshot and fans it out to every
// subscriber. Must only be called from the command loop.
func (r *Router) publish(next *Snapshot) {
	next.Revision = r.snapshot.Load().Revision + 1
	r.snapshot.Store(next)
	r.instr.SetActiveFetchers(len(r.fetchers.activeKeys()))
	r.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.subMu.Unlock()
	snap := *next
	for _, fn := range fns {
		fn(snap)
	}
}

// CreateHref delegates to the History adapter, honoring the configured
// basename.
func (r *Router) CreateHref(loc Location) string {
	href := r.history.CreateHref(loc)
	if r.basename != "" && r.basename != "/" {
		return r.basename + href
	}
	return href
}

// GetFetcher returns the current state of the fetcher for key, or
// IdleFetcher if key has never been used.
func (r *Router) GetFetcher(key string) Fetcher {
	snap := r.snapshot.Load()
	if f, ok := snap.Fetchers[key]; ok {
		return f
	}
	return IdleFetcher
}

// DeleteFetcher removes key's fetcher, aborting its controller if active.
func (r *Router) DeleteFetcher(key string) {
	r.dispatchSync(func() {
		r.fetchers.delete(key)
		next := r.snapshot.Load().clone()
		next.Fetchers = r.fetchers.snapshot()
		r.publish(next)
	})
}

// InternalFetchControllers returns the keys of every fetcher currently
// holding an active controller. It exists for tests that need to observe
// cancellation without reaching into router internals.
func (r *Router) InternalFetchControllers() []string {
	var keys []string
	r.dispatchSync(func() { keys = r.fetchers.activeKeys() })
	return keys
}

func (r *Router) nextLocationKey() string {
	r.locSeq++
	return fmt.Sprintf("l%d", r.locSeq)
}

// splitAndCanonicalize decomposes an href into pathname/search/hash,
// canonicalizing the pathname via routepath.Canonicalize.
func splitAndCanonicalize(href string) (pathname, search, hash string, err error) {
	pathname, search, hash = routepath.SplitURL(href)
	canon, err := routepath.Canonicalize(pathname)
	if err != nil {
		return "", "", "", err
	}
	return canon.Pathname, search, hash, nil
}
