package router

import "context"

// Fetch issues an independent, out-of-band loader or action call keyed by
// key. It does not block; observe the result via GetFetcher or Subscribe.
func (r *Router) Fetch(key, href string, opts ...FetchOption) {
	cfg := FetchConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	target := href
	if cfg.TargetURL != "" {
		target = cfg.TargetURL
	}
	r.dispatch(func() { r.beginFetch(key, target, cfg) })
}

// beginFetch runs on the command loop: it resolves the target, aborts any
// prior controller owned by key, and hands the call to a goroutine.
func (r *Router) beginFetch(key, href string, cfg FetchConfig) {
	pathname, search, _, err := splitAndCanonicalize(href)
	if err != nil {
		return
	}
	destURL := pathname
	if search != "" {
		destURL += "?" + search
	}

	matches, ok := r.matcher.Match(r.tree, pathname)
	if !ok {
		_, cancel := context.WithCancel(context.Background())
		r.fetchers.beginCycle(key, cancel, Fetcher{State: TransitionIdle, Type: FetcherTypeDone, Data: LocationNotFound(pathname)})
		r.publishFetchers()
		return
	}

	var fetchType FetcherType
	switch {
	case cfg.FormMethod == "" || cfg.FormMethod == "get" && cfg.FormData == nil:
		fetchType = FetcherTypeNormalLoad
	case cfg.FormMethod == "get":
		fetchType = FetcherTypeLoaderSubmission
	default:
		fetchType = FetcherTypeActionSubmission
	}

	ctx, cancel := context.WithCancel(context.Background())
	initialState := TransitionSubmitting
	if fetchType == FetcherTypeNormalLoad {
		initialState = TransitionLoading
	}
	initial := Fetcher{
		State:       initialState,
		Type:        fetchType,
		FormMethod:  cfg.FormMethod,
		FormEncType: cfg.FormEncType,
		FormData:    cfg.FormData,
	}
	if prev := r.fetchers.get(key); prev.Type != FetcherTypeInit {
		initial.Data = prev.Data // retained until this cycle completes.
	}
	seq := r.fetchers.beginCycle(key, cancel, initial)
	r.publishFetchers()

	ctx, finishFetch := r.instr.FetchStarted(ctx, string(fetchType))

	fc := &fetchCycle{
		router: r, key: key, seq: seq, ctx: ctx,
		destURL: destURL, matches: matches, search: search,
		formMethod: cfg.FormMethod, formEncType: cfg.FormEncType, formData: cfg.FormData,
		finishFetch: finishFetch,
	}

	switch fetchType {
	case FetcherTypeActionSubmission:
		go fc.runActionSubmission()
	default:
		go fc.runLoad()
	}
}

func (r *Router) publishFetchers() {
	next := r.snapshot.Load().clone()
	next.Fetchers = r.fetchers.snapshot()
	r.publish(next)
}

// fetchCycle bundles one Fetch call's state so its phases read as
// sequential Go, mirroring navCycle.
type fetchCycle struct {
	router  *Router
	key     string
	seq     uint64
	ctx     context.Context
	destURL string
	matches []Match
	search  string

	formMethod  string
	formEncType string
	formData    *FormData

	// finishFetch closes this cycle's instrumentation span/counter exactly
	// once, with its terminal outcome.
	finishFetch func(outcome string)
}

// runLoad handles the normalLoad and loaderSubmission fetch kinds: it runs
// independently of the current page's matches, never triggers
// navigation-loader revalidation, and never changes loaderData.
func (fc *fetchCycle) runLoad() {
	r := fc.router
	leaf := fc.matches[len(fc.matches)-1]

	var out outcome
	if !leaf.Route.HasLoader() {
		out = outcome{kind: outcomeException, err: &Response{
			StatusCode: 400, StatusText: "Bad Request", Data: "route has no loader",
		}}
	} else {
		loaderCtx, finishLoader := r.instr.LoaderCall(fc.ctx, leaf.Route.ID)
		req := &Request{URL: fc.destURL, Method: fc.formMethod, FormData: fc.formData, Params: leaf.Params}
		val, err := leaf.Route.Loader(loaderCtx, req)
		out = classifyResult(val, err)
		finishLoader(outcomeLabel(out))
	}

	if fc.ctx.Err() != nil {
		fc.finishFetch("cancelled")
		return
	}

	switch out.kind {
	case outcomeRedirect:
		r.instr.RedirectFollowed()
		fc.finishFetch("redirected")
		r.dispatch(func() {
			if !r.fetchers.isCurrent(fc.key, fc.seq) {
				return
			}
			r.fetchers.commit(fc.key, fc.seq, Fetcher{State: TransitionLoading, Type: FetcherTypeActionRedirect})
			r.publishFetchers()
			result := make(chan error, 1)
			req := navRequest{href: out.response.Location, forceReplace: true, transitionType: TransitionTypeSubmissionRedirect}
			r.beginNavigation(req, result)
			go func() {
				<-result
				r.dispatch(func() {
					if r.fetchers.isCurrent(fc.key, fc.seq) {
						r.fetchers.commit(fc.key, fc.seq, Fetcher{State: TransitionIdle, Type: FetcherTypeDone})
						r.publishFetchers()
					}
				})
			}()
		})
	default:
		var data any
		if out.kind == outcomeException {
			data = out.err
		} else {
			data = out.data
		}
		fc.finishFetch(outcomeLabel(out))
		r.dispatch(func() {
			if !r.fetchers.commit(fc.key, fc.seq, Fetcher{State: TransitionIdle, Type: FetcherTypeDone, Data: data}) {
				return
			}
			r.publishFetchers()
		})
	}
}

// runActionSubmission drives the actionSubmission -> actionReload -> done
// chain, including the post-action revalidation of the current page's
// loaders.
func (fc *fetchCycle) runActionSubmission() {
	r := fc.router
	actionMatch := actionTarget(fc.matches, fc.search)

	out := runAction(fc.ctx, r.instr, fc.destURL, actionMatch, fc.formMethod, fc.formData)
	if fc.ctx.Err() != nil {
		fc.finishFetch("cancelled")
		return
	}

	switch out.kind {
	case outcomeRedirect:
		r.instr.RedirectFollowed()
		fc.finishFetch("redirected")
		r.dispatch(func() {
			if !r.fetchers.isCurrent(fc.key, fc.seq) {
				return
			}
			r.fetchers.commit(fc.key, fc.seq, Fetcher{State: TransitionLoading, Type: FetcherTypeActionRedirect})
			r.publishFetchers()
			result := make(chan error, 1)
			req := navRequest{
				href: out.response.Location, forceReplace: true,
				transitionType: TransitionTypeSubmissionRedirect,
				formMethod:     fc.formMethod, formEncType: fc.formEncType, formData: fc.formData,
			}
			r.beginNavigation(req, result)
			go func() {
				<-result
				r.dispatch(func() {
					if r.fetchers.isCurrent(fc.key, fc.seq) {
						r.fetchers.commit(fc.key, fc.seq, Fetcher{State: TransitionIdle, Type: FetcherTypeDone})
						r.publishFetchers()
					}
				})
			}()
		})
		return

	case outcomeException:
		r.instr.ExceptionCaught(boundaryForRoute(fc.matches, actionMatch.Route.ID))
		fc.finishFetch("exception")
		r.dispatch(func() {
			if !r.fetchers.commit(fc.key, fc.seq, Fetcher{State: TransitionIdle, Type: FetcherTypeDone, Data: out.err}) {
				return
			}
			r.publishFetchers()
		})
		return

	default: // outcomeData
		fc.finishFetch("data")
		r.dispatch(func() {
			if !r.fetchers.isCurrent(fc.key, fc.seq) {
				return
			}
			r.fetchers.commit(fc.key, fc.seq, Fetcher{State: TransitionLoading, Type: FetcherTypeActionReload, Data: out.data})
			r.publishFetchers()
		})
		current := false
		r.dispatchSync(func() { current = r.fetchers.isCurrent(fc.key, fc.seq) })
		if !current {
			return
		}
		fc.revalidateCurrentPage(out.data)
	}
}

// revalidateCurrentPage re-runs the currently matched routes' loaders using
// the current location — not the fetcher's href.
func (fc *fetchCycle) revalidateCurrentPage(actionData any) {
	r := fc.router
	revalCtx, revalCancel := context.WithCancel(context.Background())

	var snap *Snapshot
	var startNavSeq uint64
	r.dispatchSync(func() {
		if !r.fetchers.isCurrent(fc.key, fc.seq) {
			revalCancel()
			return
		}
		r.fetchers.setRevalidateCancel(fc.key, revalCancel)
		snap = r.snapshot.Load()
		startNavSeq = r.navSeq
	})
	if snap == nil {
		return
	}

	revalCtx, finishReval := r.instr.FetchStarted(revalCtx, "actionRevalidate")

	plan := planTransition(planInput{
		CurrentMatches: snap.Matches,
		NextMatches:    snap.Matches,
		IsActionReload: true,
		CurrentURL:     snap.Location.Href(),
		NextURL:        snap.Location.Href(),
		HasLoaderData:  hasLoaderDataMap(snap),
	})
	results := runLoaders(revalCtx, r.instr, snap.Location.Href(), plan.Run, "", nil)
	if revalCtx.Err() != nil {
		finishReval("cancelled")
		return
	}
	batch := reduceBatch(plan.Run, results)
	if batch.redirect != nil {
		r.instr.RedirectFollowed()
	}
	for boundaryID := range batch.exceptions {
		r.instr.ExceptionCaught(boundaryID)
	}

	r.dispatch(func() {
		r.fetchers.clearRevalidateCancel(fc.key)
		if !r.fetchers.isCurrent(fc.key, fc.seq) {
			return
		}
		if r.navSeq != startNavSeq {
			// A navigation began and subsumed this revalidation (cancelRevalidations
			// cancels revalCtx, but the goroutine may have already passed the
			// ctx.Err() check above before the cancel landed); don't stomp the
			// navigated-to page's loaderData/exceptions with stale data computed
			// against the pre-navigation matches.
			return
		}
		cur := r.snapshot.Load()
		merged := map[string]any{}
		for id := range plan.Preserve {
			if batch.clearedByBoundary[id] {
				continue
			}
			if v, ok := cur.LoaderData[id]; ok {
				merged[id] = v
			}
		}
		for id, v := range batch.data {
			if batch.clearedByBoundary[id] {
				continue
			}
			merged[id] = v
		}
		next := cur.clone()
		if batch.redirect == nil {
			next.LoaderData = merged
			next.Exceptions = batch.exceptions
		}
		r.fetchers.commit(fc.key, fc.seq, Fetcher{State: TransitionIdle, Type: FetcherTypeDone, Data: actionData})
		next.Fetchers = r.fetchers.snapshot()
		r.publish(next)
	})

	if batch.redirect != nil {
		finishReval("redirected")
		req := navRequest{href: batch.redirect.Location, forceReplace: true, transitionType: TransitionTypeNormalRedirect}
		result := make(chan error, 1)
		r.dispatch(func() { r.beginNavigation(req, result) })
		return
	}
	finishReval("committed")
}

func hasLoaderDataMap(snap *Snapshot) map[string]bool {
	out := map[string]bool{}
	for id := range snap.LoaderData {
		out[id] = true
	}
	for id := range snap.Exceptions {
		out[id] = true
	}
	return out
}

// beginRevalidate implements Revalidate(): re-run the current matches'
// loaders in place, without changing location.
func (r *Router) beginRevalidate() {
	cur := r.snapshot.Load()
	if cur.Matches == nil {
		return
	}

	r.navSeq++
	seq := r.navSeq
	if r.navCancel != nil {
		r.navCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.navCancel = cancel
	ctx, finishNav := r.instr.NavigationStarted(ctx, "revalidate")

	next := cur.clone()
	next.Revalidation = RevalidationLoading
	r.publish(next)

	go func() {
		plan := planTransition(planInput{
			CurrentMatches: cur.Matches,
			NextMatches:    cur.Matches,
			IsActionReload: true,
			CurrentURL:     cur.Location.Href(),
			NextURL:        cur.Location.Href(),
			HasLoaderData:  hasLoaderDataMap(cur),
		})
		results := runLoaders(ctx, r.instr, cur.Location.Href(), plan.Run, "", nil)
		if ctx.Err() != nil {
			finishNav("cancelled")
			return
		}
		batch := reduceBatch(plan.Run, results)
		if batch.redirect != nil {
			r.instr.RedirectFollowed()
		}
		for boundaryID := range batch.exceptions {
			r.instr.ExceptionCaught(boundaryID)
		}

		r.dispatch(func() {
			if seq != r.navSeq {
				finishNav("cancelled")
				return
			}
			if batch.redirect != nil {
				finishNav("redirected")
				result := make(chan error, 1)
				req := navRequest{href: batch.redirect.Location, forceReplace: true, transitionType: TransitionTypeNormalRedirect}
				r.beginNavigation(req, result)
				return
			}
			merged := map[string]any{}
			for id := range plan.Preserve {
				if batch.clearedByBoundary[id] {
					continue
				}
				if v, ok := cur.LoaderData[id]; ok {
					merged[id] = v
				}
			}
			for id, v := range batch.data {
				if batch.clearedByBoundary[id] {
					continue
				}
				merged[id] = v
			}
			final := cur.clone()
			final.LoaderData = merged
			final.Exceptions = batch.exceptions
			final.Revalidation = RevalidationIdle
			r.publish(final)
			finishNav("committed")
		})
	}()
}
