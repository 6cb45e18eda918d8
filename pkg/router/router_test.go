package router

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// loaderCounts tracks how many times each route id's loader ran, guarded by
// a mutex since loaders for a batch run concurrently on their own
// goroutines.
type loaderCounts struct {
	mu   sync.Mutex
	byID map[string]int
}

func newLoaderCounts() *loaderCounts { return &loaderCounts{byID: map[string]int{}} }

func (c *loaderCounts) record(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[id]++
}

func (c *loaderCounts) get(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byID[id]
}

// countingLoader returns a HandlerFunc that records its own call and
// returns a small payload identifying the route and the params it saw.
func countingLoader(counts *loaderCounts, id string) HandlerFunc {
	return func(ctx context.Context, req *Request) (any, error) {
		counts.record(id)
		return map[string]any{"id": id, "params": req.Params}, nil
	}
}

// testTreeRoutes builds a tree exercising a layout loader, a parent with a
// loader, a dynamic child with a loader+action, and an action-less route
// for the 405 path.
func testTreeRoutes(counts *loaderCounts) []Route {
	return []Route{
		{
			ID:                "root",
			ExceptionBoundary: true,
			Loader:            countingLoader(counts, "root"),
			Children: []Route{
				{ID: "home", Index: true},
				{
					ID:     "posts",
					Path:   "posts",
					Loader: countingLoader(counts, "posts"),
					Children: []Route{
						{
							ID:     "detail",
							Path:   ":id",
							Loader: countingLoader(counts, "detail"),
							Action: func(ctx context.Context, req *Request) (any, error) {
								if req.FormData.Get("redirect") != "" {
									return nil, &Response{StatusCode: 302, Location: "/posts/redirected"}
								}
								if req.FormData.Get("fail") != "" {
									return nil, &Response{StatusCode: 400, StatusText: "Bad Request", Data: "bad input"}
								}
								return map[string]any{"title": req.FormData.Get("title")}, nil
							},
						},
					},
				},
				{
					ID:     "readonly",
					Path:   "readonly",
					Loader: countingLoader(counts, "readonly"),
				},
			},
		},
	}
}

func newTestRouter(t *testing.T, counts *loaderCounts, initialPath string) *Router {
	t.Helper()
	r, err := NewRouter(RouterConfig{
		Routes:  testTreeRoutes(counts),
		History: NewMemoryHistory(Location{Pathname: initialPath}),
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	t.Cleanup(r.Close)
	waitUntil(t, func() bool { return r.State().Initialized })
	return r
}

func ctxTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Second)
}

// waitUntil polls cond until it reports true or the deadline passes,
// matching the tests' need to observe effects of the command loop's
// asynchronous commit without a synchronous completion signal to block on.
func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition never became true within the deadline")
	}
}

func TestNavigate_SkipsUnchangedParentLoader(t *testing.T) {
	counts := newLoaderCounts()
	r := newTestRouter(t, counts, "/posts/1")

	// Initial hydration already ran root/posts/detail once each.
	if got := counts.get("posts"); got != 1 {
		t.Fatalf("after hydration, posts loader ran %d times, want 1", got)
	}

	ctx, cancel := ctxTimeout()
	defer cancel()
	if err := r.Navigate(ctx, NavigateToHref("/posts/2")); err != nil {
		t.Fatalf("Navigate: %v", err)
	}

	if got := counts.get("detail"); got != 2 {
		t.Errorf("detail loader ran %d times across param change, want 2", got)
	}
	if got := counts.get("posts"); got != 1 {
		t.Errorf("posts loader ran %d times, want 1 (unchanged parent should be skipped)", got)
	}
	if got := counts.get("root"); got != 1 {
		t.Errorf("root loader ran %d times, want 1 (unchanged ancestor should be skipped)", got)
	}

	snap := r.State()
	if snap.Location.Pathname != "/posts/2" {
		t.Errorf("Location.Pathname = %q, want /posts/2", snap.Location.Pathname)
	}
}

func TestSearchChangeReload(t *testing.T) {
	counts := newLoaderCounts()
	r := newTestRouter(t, counts, "/posts/1")

	ctx, cancel := ctxTimeout()
	defer cancel()
	if err := r.Navigate(ctx, NavigateToHref("/posts/1?sort=desc")); err != nil {
		t.Fatalf("Navigate: %v", err)
	}

	if got := counts.get("detail"); got != 2 {
		t.Errorf("detail loader ran %d times after search change, want 2 (every matched loader reruns)", got)
	}
	if got := counts.get("posts"); got != 2 {
		t.Errorf("posts loader ran %d times after search change, want 2", got)
	}
}

func TestHashOnlyNavigation_RunsNoLoaders(t *testing.T) {
	counts := newLoaderCounts()
	r := newTestRouter(t, counts, "/posts/1")
	before := counts.get("detail")

	beforeKey := r.State().Location.Key

	ctx, cancel := ctxTimeout()
	defer cancel()
	if err := r.Navigate(ctx, NavigateToHref("/posts/1#section")); err != nil {
		t.Fatalf("Navigate: %v", err)
	}

	if got := counts.get("detail"); got != before {
		t.Errorf("detail loader ran %d times, want unchanged %d (hash-only must run no loaders)", got, before)
	}
	snap := r.State()
	if snap.Location.Hash != "section" {
		t.Errorf("Location.Hash = %q, want %q", snap.Location.Hash, "section")
	}
	if snap.Location.Key == beforeKey {
		t.Error("Location.Key did not change across a hash-only navigation")
	}
	if snap.Transition.State != TransitionIdle {
		t.Errorf("Transition.State = %q, want idle", snap.Transition.State)
	}
}

func TestActionRedirect_ReplacesHistoryAndClearsActionData(t *testing.T) {
	counts := newLoaderCounts()
	r := newTestRouter(t, counts, "/posts/1")

	fd := NewFormData()
	fd.Set("redirect", "yes")

	ctx, cancel := ctxTimeout()
	defer cancel()
	if err := r.Navigate(ctx, NavigateToHref("/posts/1"), WithSubmission("post", fd)); err != nil {
		t.Fatalf("Navigate: %v", err)
	}

	snap := r.State()
	if snap.Location.Pathname != "/posts/redirected" {
		t.Fatalf("Location.Pathname = %q, want /posts/redirected", snap.Location.Pathname)
	}
	if snap.HistoryAction != HistoryActionReplace {
		t.Errorf("HistoryAction = %q, want REPLACE (submission redirects replace)", snap.HistoryAction)
	}
	if len(snap.ActionData) != 0 {
		t.Errorf("ActionData = %v, want empty (redirect never commits actionData)", snap.ActionData)
	}
}

func TestActionException_RoutesToNearestBoundaryAndClearsBelow(t *testing.T) {
	counts := newLoaderCounts()
	r := newTestRouter(t, counts, "/posts/1")

	fd := NewFormData()
	fd.Set("fail", "yes")

	ctx, cancel := ctxTimeout()
	defer cancel()
	if err := r.Navigate(ctx, NavigateToHref("/posts/1"), WithSubmission("post", fd)); err != nil {
		t.Fatalf("Navigate: %v", err)
	}

	snap := r.State()
	exc, ok := snap.Exceptions["root"]
	if !ok {
		t.Fatalf("Exceptions = %v, want an entry at the root boundary", snap.Exceptions)
	}
	resp, ok := exc.(*Response)
	if !ok {
		t.Fatalf("exception = %v (%T), want *Response", exc, exc)
	}
	if resp.StatusCode != 400 {
		t.Errorf("exception StatusCode = %d, want 400", resp.StatusCode)
	}
	if _, cleared := snap.LoaderData["detail"]; cleared {
		t.Error("detail's loaderData should be cleared below the thrown exception's boundary")
	}
}

func TestMethodNotAllowed_ForActionlessRoute(t *testing.T) {
	counts := newLoaderCounts()
	r := newTestRouter(t, counts, "/readonly")

	ctx, cancel := ctxTimeout()
	defer cancel()
	if err := r.Navigate(ctx, NavigateToHref("/readonly"), WithSubmission("post", NewFormData())); err != nil {
		t.Fatalf("Navigate: %v", err)
	}

	snap := r.State()
	exc, ok := snap.Exceptions["root"]
	if !ok {
		t.Fatalf("Exceptions = %v, want a 405 routed to root", snap.Exceptions)
	}
	resp, ok := exc.(*Response)
	if !ok {
		t.Fatalf("exception = %v (%T), want *Response", exc, exc)
	}
	if resp.StatusCode != 405 {
		t.Errorf("exception StatusCode = %d, want 405", resp.StatusCode)
	}
}

func TestLocationNotFound_RoutesToRoot(t *testing.T) {
	counts := newLoaderCounts()
	r := newTestRouter(t, counts, "/posts/1")

	ctx, cancel := ctxTimeout()
	defer cancel()
	if err := r.Navigate(ctx, NavigateToHref("/nope/not/here")); err != nil {
		t.Fatalf("Navigate: %v", err)
	}

	snap := r.State()
	if snap.Matches != nil {
		t.Errorf("Matches = %v, want nil on a 404", snap.Matches)
	}
	exc, ok := snap.Exceptions[""]
	resp, respOK := exc.(*Response)
	if !ok || !respOK || resp.StatusCode != 404 {
		t.Fatalf("Exceptions[\"\"] = %v, want a 404", snap.Exceptions[""])
	}
}

func TestFetcherIsolation(t *testing.T) {
	counts := newLoaderCounts()
	r := newTestRouter(t, counts, "/posts/1")
	loaderDataBefore := r.State().LoaderData["detail"]

	r.Fetch("fetcher1", "/posts/2")
	waitUntil(t, func() bool { return r.GetFetcher("fetcher1").Type == FetcherTypeDone })

	f := r.GetFetcher("fetcher1")
	if f.State != TransitionIdle {
		t.Errorf("settled fetcher State = %q, want idle", f.State)
	}

	snap := r.State()
	if fmt.Sprint(snap.LoaderData["detail"]) != fmt.Sprint(loaderDataBefore) {
		t.Errorf("state.loaderData[detail] changed from a fetcher load: before=%v after=%v", loaderDataBefore, snap.LoaderData["detail"])
	}
}

func TestFetcherAction_TriggersCurrentPageRevalidation(t *testing.T) {
	counts := newLoaderCounts()
	r := newTestRouter(t, counts, "/posts/1")
	detailRunsBefore := counts.get("detail")

	fd := NewFormData()
	fd.Set("title", "new title")
	r.Fetch("editor", "/posts/1", WithFetchSubmission("post", fd))

	waitUntil(t, func() bool { return r.GetFetcher("editor").Type == FetcherTypeDone })

	if got := counts.get("detail"); got <= detailRunsBefore {
		t.Errorf("detail loader ran %d times after fetcher action, want more than %d (current page must revalidate)", got, detailRunsBefore)
	}
}

func TestRevalidate_RerunsCurrentMatches(t *testing.T) {
	counts := newLoaderCounts()
	r := newTestRouter(t, counts, "/posts/1")
	before := counts.get("detail")

	r.Revalidate()
	waitUntil(t, func() bool { return counts.get("detail") > before && r.State().Revalidation == RevalidationIdle })

	if got := counts.get("detail"); got <= before {
		t.Errorf("detail loader ran %d times after Revalidate, want more than %d", got, before)
	}
	if r.State().Revalidation != RevalidationIdle {
		t.Error("Revalidation state did not return to idle")
	}
}

// TestNavigate_InterruptsRevalidateAndResetsState covers the case where a
// Navigate() begins while a Revalidate() is still in flight: the
// interrupted revalidation's own completion closure bails out on the
// stale-seq check and never gets a chance to reset Revalidation itself, so
// the superseding navigation's commit must do it.
func TestNavigate_InterruptsRevalidateAndResetsState(t *testing.T) {
	release := make(chan struct{})
	var calls int32

	r, err := NewRouter(RouterConfig{
		Routes: []Route{
			{
				ID: "root",
				Loader: func(ctx context.Context, req *Request) (any, error) {
					if atomic.AddInt32(&calls, 1) == 1 {
						return "root-v1", nil
					}
					<-release // second call: the Revalidate() this test interrupts.
					return "root-v2", nil
				},
				Children: []Route{
					{ID: "home", Index: true},
					{ID: "other", Path: "other", Loader: func(ctx context.Context, req *Request) (any, error) {
						return "other-data", nil
					}},
				},
			},
		},
		History: NewMemoryHistory(Location{Pathname: "/"}),
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	defer r.Close()
	defer close(release)
	waitUntil(t, func() bool { return r.State().Initialized })

	r.Revalidate()
	waitUntil(t, func() bool { return r.State().Revalidation == RevalidationLoading })

	ctx, cancel := ctxTimeout()
	defer cancel()
	if err := r.Navigate(ctx, NavigateToHref("/other")); err != nil {
		t.Fatalf("Navigate: %v", err)
	}

	snap := r.State()
	if snap.Location.Pathname != "/other" {
		t.Fatalf("Location.Pathname = %q, want /other", snap.Location.Pathname)
	}
	if snap.Revalidation != RevalidationIdle {
		t.Errorf("Revalidation = %v after a Navigate interrupted an in-flight Revalidate, want idle", snap.Revalidation)
	}
}

func TestInterruptedNavigation_AbortsSuperseded(t *testing.T) {
	release := make(chan struct{})
	var sawCancel bool
	var mu sync.Mutex

	r, err := NewRouter(RouterConfig{
		Routes: []Route{
			{
				ID: "root",
				Children: []Route{
					{ID: "slow", Path: "slow", Loader: func(ctx context.Context, req *Request) (any, error) {
						select {
						case <-release:
						case <-ctx.Done():
							mu.Lock()
							sawCancel = true
							mu.Unlock()
						}
						return "slow-data", nil
					}},
					{ID: "fast", Path: "fast", Loader: func(ctx context.Context, req *Request) (any, error) {
						return "fast-data", nil
					}},
				},
			},
		},
		History: NewMemoryHistory(Location{Pathname: "/fast"}),
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	defer r.Close()

	ctx, cancel := ctxTimeout()
	defer cancel()

	go func() {
		_ = r.Navigate(ctx, NavigateToHref("/slow"))
	}()

	// Give the first navigation's loader time to actually start blocking.
	time.Sleep(20 * time.Millisecond)

	if err := r.Navigate(ctx, NavigateToHref("/fast")); err != nil {
		t.Fatalf("second Navigate: %v", err)
	}

	close(release)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if !sawCancel {
		t.Error("superseded navigation's loader never observed ctx.Done()")
	}

	snap := r.State()
	if snap.Location.Pathname != "/fast" {
		t.Errorf("Location.Pathname = %q, want /fast (the superseding navigation must win)", snap.Location.Pathname)
	}
}

func TestInternalFetchControllers_TracksActiveKeys(t *testing.T) {
	r, err := NewRouter(RouterConfig{
		Routes: []Route{
			{ID: "root", Children: []Route{
				{ID: "slow", Path: "slow", Loader: func(ctx context.Context, req *Request) (any, error) {
					<-ctx.Done()
					return nil, ctx.Err()
				}},
			}},
		},
		History: NewMemoryHistory(Location{Pathname: "/"}),
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	defer r.Close()

	r.Fetch("k1", "/slow")
	waitUntil(t, func() bool {
		for _, k := range r.InternalFetchControllers() {
			if k == "k1" {
				return true
			}
		}
		return false
	})

	r.DeleteFetcher("k1")
	for _, k := range r.InternalFetchControllers() {
		if k == "k1" {
			t.Errorf("InternalFetchControllers() still reports %q after DeleteFetcher", k)
		}
	}
}
