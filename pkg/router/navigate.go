package router

import (
	"context"
	"strings"
)

// navRequest carries everything a navigation cycle needs to decide its
// destination and kind, gathered from either Navigate's caller-supplied
// options or from a redirect/POP notification the router synthesizes
// internally.
type navRequest struct {
	href         string
	state        any
	replace      bool
	forceReplace bool // synthesized redirects always replace

	formMethod  string
	formEncType string
	formData    *FormData

	// transitionType, when set, overrides the type inferred from
	// formMethod (used for normalRedirect/submissionRedirect cycles).
	transitionType TransitionType

	forceRevalidateAll bool

	historyAction HistoryAction // POP for back/forward, "" otherwise
}

// Navigate drives the router to a new location, running whatever actions
// and loaders the transition requires, and blocks until that navigation
// cycle (or the chain of redirects it produces) commits or is superseded.
// A superseded navigation returns nil rather than an error: cancellation is
// silent. A delta target only calls History.Go and returns nil at once; the
// resulting POP navigation is not awaited.
func (r *Router) Navigate(ctx context.Context, to NavigateTarget, opts ...NavigateOption) error {
	if to.isDelta {
		r.history.Go(to.delta)
		return nil
	}

	cfg := NavigateConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	req := navRequest{
		href:        to.href,
		state:       cfg.State,
		replace:     cfg.Replace,
		formMethod:  cfg.FormMethod,
		formEncType: cfg.FormEncType,
		formData:    cfg.FormData,
	}

	result := make(chan error, 1)
	r.dispatch(func() { r.beginNavigation(req, result) })

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Revalidate re-runs the loaders for the currently matched routes (subject
// to ShouldReload) without changing location. It does not block; observe
// completion via Subscribe.
func (r *Router) Revalidate() {
	r.dispatch(func() { r.beginRevalidate() })
}

func (r *Router) onHistoryPop(loc Location, action HistoryAction) {
	cur := r.snapshot.Load()
	if loc.Pathname == cur.Location.Pathname && loc.Search == cur.Location.Search {
		return
	}
	req := navRequest{
		href:          loc.Href(),
		state:         loc.State,
		historyAction: action,
	}
	r.beginNavigation(req, make(chan error, 1))
}

// beginNavigation runs on the command loop. It resolves the destination,
// aborts the prior navigation controller, and either completes the
// hash-only shortcut synchronously or hands the rest of the cycle to a
// goroutine sharing a fresh context.
func (r *Router) beginNavigation(req navRequest, result chan error) {
	pathname, search, hash, err := splitAndCanonicalize(req.href)
	if err != nil {
		result <- err
		return
	}

	cur := r.snapshot.Load()

	if pathname == cur.Location.Pathname && search == cur.Location.Search && req.formMethod == "" {
		// Rule 8: hash-only navigation. No loaders run, but it still
		// supersedes any in-flight navigation or revalidation.
		r.navSeq++
		if r.navCancel != nil {
			r.navCancel()
		}
		_, finishNav := r.instr.NavigationStarted(context.Background(), "hashOnly")
		next := cur.clone()
		next.Revalidation = RevalidationIdle
		next.Location.Hash = hash
		next.Location.Key = r.nextLocationKey()
		next.Location.State = req.state
		r.pushHistory(req, pathname, search, hash)
		next.Location = r.history.Location()
		next.HistoryAction = r.history.Action()
		next.Transition = Transition{State: TransitionIdle, Type: TransitionTypeIdle}
		r.publish(next)
		finishNav("committed")
		result <- nil
		return
	}

	matches, ok := r.matcher.Match(r.tree, pathname)

	r.navSeq++
	seq := r.navSeq
	if r.navCancel != nil {
		r.navCancel()
	}
	supersededFetchers := r.fetchers.cancelRevalidations()
	ctx, cancel := context.WithCancel(context.Background())
	r.navCancel = cancel

	destURL := pathname
	if search != "" {
		destURL += "?" + search
	}

	if !ok {
		// No route covers this pathname: synthesize a 404 and route it to root.
		ctx, finishNav := r.instr.NavigationStarted(ctx, "notFound")
		next := cur.clone()
		next.Transition = Transition{State: TransitionLoading, Type: TransitionTypeNormalLoad}
		r.publish(next)
		go func() {
			if ctx.Err() != nil {
				finishNav("cancelled")
				result <- nil
				return
			}
			r.dispatch(func() {
				if seq != r.navSeq {
					finishNav("cancelled")
					result <- nil
					return
				}
				final := cur.clone()
				final.Matches = nil
				final.LoaderData = map[string]any{}
				final.Exceptions = map[string]error{"": LocationNotFound(pathname)}
				final.ActionData = r.retainActionData(destURL, cur.ActionData)
				final.Transition = Transition{State: TransitionIdle, Type: TransitionTypeIdle}
				final.Revalidation = RevalidationIdle
				r.pushHistory(req, pathname, search, hash)
				final.Location = r.history.Location()
				final.HistoryAction = r.history.Action()
				r.fetchers.finishSuperseded(supersededFetchers)
				final.Fetchers = r.fetchers.snapshot()
				r.publish(final)
				finishNav("committed")
				result <- nil
			})
		}()
		return
	}

	// A redirect-driven cycle always loads: followRedirect copies the
	// original submission's formMethod/formData onto req only so the
	// resulting Transition can display them, not to re-drive the
	// action/loader submission at the new destination.
	isRedirectDriven := req.transitionType != ""
	isSubmission := !isRedirectDriven && req.formMethod != "" && req.formMethod != "get"
	isLoaderSubmission := !isRedirectDriven && req.formMethod == "get" && req.formData != nil

	navType := "normalLoad"
	switch {
	case isSubmission:
		navType = "actionSubmission"
	case isLoaderSubmission:
		navType = "loaderSubmission"
	case req.transitionType != "":
		navType = string(req.transitionType)
	}
	ctx, finishNav := r.instr.NavigationStarted(ctx, navType)

	cyc := &navCycle{
		router:             r,
		seq:                seq,
		ctx:                ctx,
		req:                req,
		pathname:           pathname,
		search:             search,
		hash:               hash,
		destURL:            destURL,
		matches:            matches,
		prevSnap:           cur,
		result:             result,
		supersededFetchers: supersededFetchers,
		finishNav:          finishNav,
	}

	switch {
	case isSubmission:
		go cyc.runActionSubmission()
	case isLoaderSubmission:
		go cyc.runLoaderSubmission()
	default:
		go cyc.runNormalLoad()
	}
}

// pushHistory applies req's history intent, defaulting to Push unless the
// caller asked for Replace, or the cycle is a synthesized redirect
// (forceReplace).
func (r *Router) pushHistory(req navRequest, pathname, search, hash string) {
	href := pathname
	if search != "" {
		href += "?" + search
	}
	if hash != "" {
		href += "#" + hash
	}
	if req.historyAction == HistoryActionPop {
		return // POP already moved the history pointer.
	}
	if req.replace || req.forceReplace {
		r.history.Replace(href, req.state)
	} else {
		r.history.Push(href, req.state)
	}
}

// retainActionData clears actionData on any completed navigation whose
// destination differs from the action's submission location.
func (r *Router) retainActionData(destURL string, cur map[string]any) map[string]any {
	if r.actionLocationKey == "" {
		return map[string]any{}
	}
	if r.actionLocationKey != destURL {
		r.actionLocationKey = ""
		return map[string]any{}
	}
	return copyAnyMap(cur)
}

// navCycle bundles the mutable state of one in-flight navigation (or a
// redirect it produced) so its phases can be written as plain sequential
// Go on a dedicated goroutine.
type navCycle struct {
	router   *Router
	seq      uint64
	ctx      context.Context
	req      navRequest
	pathname string
	search   string
	hash     string
	destURL  string
	matches  []Match
	prevSnap *Snapshot
	result   chan error

	// supersededFetchers holds the keys of fetchers whose post-action
	// revalidation this cycle cancelled at start; they flip to done, with
	// their action Data retained, at this cycle's final commit.
	supersededFetchers []string

	// finishNav closes this cycle's instrumentation span/timer exactly once,
	// with its terminal outcome.
	finishNav func(outcome string)
}

// finishFetchers applies supersededFetchers and reads back the current
// fetcher snapshot for inclusion in a committed Snapshot.
func (c *navCycle) finishFetchers() map[string]Fetcher {
	c.router.fetchers.finishSuperseded(c.supersededFetchers)
	return c.router.fetchers.snapshot()
}

func (c *navCycle) stale() bool {
	return c.router.navSeq != c.seq
}

// reportBatch records this cycle's redirect/exception instrumentation
// counters once a batch has been reduced.
func (c *navCycle) reportBatch(batch batchOutcome) {
	if batch.redirect != nil {
		c.router.instr.RedirectFollowed()
		return
	}
	for boundaryID := range batch.exceptions {
		c.router.instr.ExceptionCaught(boundaryID)
	}
}

// planInputFor builds the shared planInput for this cycle's destination.
func (c *navCycle) planInputFor(isReload, forceAll bool) planInput {
	searchChanged := c.search != c.prevSnap.Location.Search
	hasData := map[string]bool{}
	for id := range c.prevSnap.LoaderData {
		hasData[id] = true
	}
	for id := range c.prevSnap.Exceptions {
		hasData[id] = true
	}
	return planInput{
		CurrentMatches: c.prevSnap.Matches,
		NextMatches:    c.matches,
		SearchChanged:  searchChanged,
		IsActionReload: isReload,
		ForceAll:       forceAll,
		FormMethod:     c.req.formMethod,
		FormData:       c.req.formData,
		CurrentURL:     c.prevSnap.Location.Href(),
		NextURL:        c.destURL,
		HasLoaderData:  hasData,
	}
}

// runNormalLoad drives a plain navigation's loader-run-then-commit order of
// work.
func (c *navCycle) runNormalLoad() {
	r := c.router
	plan := planTransition(c.planInputFor(false, c.req.forceRevalidateAll))

	results := runLoaders(c.ctx, r.instr, c.destURL, plan.Run, "", nil)
	if c.ctx.Err() != nil {
		c.finishNav("cancelled")
		c.result <- nil
		return
	}
	batch := reduceBatch(plan.Run, results)
	c.reportBatch(batch)

	if batch.redirect != nil {
		c.followRedirect(batch.redirect, TransitionTypeNormalRedirect)
		return
	}

	r.dispatch(func() {
		if c.stale() {
			c.finishNav("cancelled")
			c.result <- nil
			return
		}
		loaderData := c.mergeLoaderData(plan, batch)
		final := c.prevSnap.clone()
		final.Matches = c.matches
		final.LoaderData = loaderData
		final.Exceptions = batch.exceptions
		final.Revalidation = RevalidationIdle
		final.ActionData = r.retainActionData(c.destURL, c.prevSnap.ActionData)
		final.Transition = Transition{State: TransitionIdle, Type: TransitionTypeIdle}
		r.pushHistory(c.req, c.pathname, c.search, c.hash)
		final.Location = r.history.Location()
		final.HistoryAction = r.history.Action()
		final.Fetchers = c.finishFetchers()
		r.publish(final)
		c.finishNav("committed")
		c.result <- nil
	})
}

// runLoaderSubmission handles a GET submission navigation: same as a plain
// load, but the transition reports loaderSubmission while in flight and
// every matched loader is treated as reload-eligible.
func (c *navCycle) runLoaderSubmission() {
	r := c.router
	r.dispatch(func() {
		if c.stale() {
			return
		}
		next := c.prevSnap.clone()
		next.Transition = Transition{
			State: TransitionSubmitting, Type: TransitionTypeLoaderSubmission,
			Location: provisionalLocation(c.pathname, c.search, c.hash, c.req.state),
			FormMethod: c.req.formMethod, FormEncType: c.req.formEncType, FormData: c.req.formData,
		}
		r.publish(next)
	})

	plan := planTransition(c.planInputFor(true, c.req.forceRevalidateAll))
	results := runLoaders(c.ctx, r.instr, c.destURL, plan.Run, c.req.formMethod, c.req.formData)
	if c.ctx.Err() != nil {
		c.finishNav("cancelled")
		c.result <- nil
		return
	}
	batch := reduceBatch(plan.Run, results)
	c.reportBatch(batch)

	if batch.redirect != nil {
		c.followRedirect(batch.redirect, TransitionTypeNormalRedirect)
		return
	}

	r.dispatch(func() {
		if c.stale() {
			c.finishNav("cancelled")
			c.result <- nil
			return
		}
		loaderData := c.mergeLoaderData(plan, batch)
		final := c.prevSnap.clone()
		final.Matches = c.matches
		final.LoaderData = loaderData
		final.Exceptions = batch.exceptions
		final.Revalidation = RevalidationIdle
		final.ActionData = r.retainActionData(c.destURL, c.prevSnap.ActionData)
		final.Transition = Transition{State: TransitionIdle, Type: TransitionTypeIdle}
		r.pushHistory(c.req, c.pathname, c.search, c.hash)
		final.Location = r.history.Location()
		final.HistoryAction = r.history.Action()
		final.Fetchers = c.finishFetchers()
		r.publish(final)
		c.finishNav("committed")
		c.result <- nil
	})
}

// runActionSubmission drives a submission's action-then-reload order of
// work.
func (c *navCycle) runActionSubmission() {
	r := c.router

	actionMatch := actionTarget(c.matches, c.search)

	r.dispatch(func() {
		if c.stale() {
			return
		}
		next := c.prevSnap.clone()
		next.Transition = Transition{
			State: TransitionSubmitting, Type: TransitionTypeActionSubmission,
			Location: provisionalLocation(c.pathname, c.search, c.hash, c.req.state),
			FormMethod: c.req.formMethod, FormEncType: c.req.formEncType, FormData: c.req.formData,
		}
		r.publish(next)
	})

	out := runAction(c.ctx, r.instr, c.destURL, actionMatch, c.req.formMethod, c.req.formData)
	if c.ctx.Err() != nil {
		c.finishNav("cancelled")
		c.result <- nil
		return
	}

	switch out.kind {
	case outcomeRedirect:
		r.instr.RedirectFollowed()
		c.followRedirect(out.response, TransitionTypeSubmissionRedirect)
		return

	case outcomeException:
		boundary := boundaryForRoute(c.matches, actionMatch.Route.ID)
		r.instr.ExceptionCaught(boundary)
		plan := planTransition(c.planInputFor(true, c.req.forceRevalidateAll))
		plan = applyBoundaryCutoff(plan, c.matches, boundary)

		results := runLoaders(c.ctx, r.instr, c.destURL, plan.Run, "", nil)
		if c.ctx.Err() != nil {
			c.finishNav("cancelled")
			c.result <- nil
			return
		}
		batch := reduceBatch(plan.Run, results)
		if batch.redirect != nil {
			c.followRedirect(batch.redirect, TransitionTypeNormalRedirect)
			return
		}
		batch.exceptions[boundary] = out.err
		if batch.clearedByBoundary == nil {
			batch.clearedByBoundary = map[string]bool{}
		}
		markClearedFrom(c.matches, boundary, batch.clearedByBoundary)

		r.dispatch(func() {
			if c.stale() {
				c.finishNav("cancelled")
				c.result <- nil
				return
			}
			loaderData := c.mergeLoaderData(plan, batch)
			final := c.prevSnap.clone()
			final.Matches = c.matches
			final.LoaderData = loaderData
			final.Exceptions = batch.exceptions
			final.Revalidation = RevalidationIdle
			final.ActionData = r.retainActionData(c.destURL, c.prevSnap.ActionData)
			final.Transition = Transition{State: TransitionIdle, Type: TransitionTypeIdle}
			r.pushHistory(c.req, c.pathname, c.search, c.hash)
			final.Location = r.history.Location()
			final.HistoryAction = r.history.Action()
			final.Fetchers = c.finishFetchers()
			r.publish(final)
			c.finishNav("committed")
			c.result <- nil
		})
		return

	default: // outcomeData
		var newActionData map[string]any
		committed := false
		r.dispatchSync(func() {
			if c.stale() {
				return
			}
			committed = true
			newActionData = copyAnyMap(c.prevSnap.ActionData)
			newActionData[actionMatch.Route.ID] = out.data
			r.actionLocationKey = c.destURL
			next := c.prevSnap.clone()
			next.ActionData = newActionData
			next.Transition = Transition{
				State: TransitionLoading, Type: TransitionTypeActionReload,
				Location: provisionalLocation(c.pathname, c.search, c.hash, c.req.state),
				FormMethod: c.req.formMethod, FormEncType: c.req.formEncType, FormData: c.req.formData,
			}
			r.publish(next)
		})
		if !committed {
			c.finishNav("cancelled")
			c.result <- nil
			return
		}

		plan := planTransition(c.planInputFor(true, c.req.forceRevalidateAll))
		results := runLoaders(c.ctx, r.instr, c.destURL, plan.Run, "", nil)
		if c.ctx.Err() != nil {
			c.finishNav("cancelled")
			c.result <- nil
			return
		}
		batch := reduceBatch(plan.Run, results)
		c.reportBatch(batch)
		if batch.redirect != nil {
			c.followRedirect(batch.redirect, TransitionTypeSubmissionRedirect)
			return
		}

		r.dispatch(func() {
			if c.stale() {
				c.finishNav("cancelled")
				c.result <- nil
				return
			}
			loaderData := c.mergeLoaderData(plan, batch)
			final := c.prevSnap.clone()
			final.Matches = c.matches
			final.LoaderData = loaderData
			final.Exceptions = batch.exceptions
			final.Revalidation = RevalidationIdle
			final.ActionData = newActionData
			final.Transition = Transition{State: TransitionIdle, Type: TransitionTypeIdle}
			r.pushHistory(c.req, c.pathname, c.search, c.hash)
			final.Location = r.history.Location()
			final.HistoryAction = r.history.Action()
			final.Fetchers = c.finishFetchers()
			r.publish(final)
			c.finishNav("committed")
			c.result <- nil
		})
	}
}

// followRedirect begins a new navigation cycle to the redirect's target.
// Action-submission redirects and loader-during-reload redirects both
// replace history and carry submissionRedirect; a plain load's redirect
// also replaces, as normalRedirect.
func (c *navCycle) followRedirect(resp *Response, kind TransitionType) {
	next := navRequest{
		href:               resp.Location,
		forceReplace:       true,
		transitionType:     kind,
		forceRevalidateAll: resp.ForceRevalidate(),
	}
	if kind == TransitionTypeSubmissionRedirect {
		next.formMethod = c.req.formMethod
		next.formEncType = c.req.formEncType
		next.formData = c.req.formData
	}
	c.finishNav("redirected")
	c.router.dispatch(func() { c.router.beginNavigation(next, c.result) })
}

// mergeLoaderData combines the previous snapshot's preserved entries with
// this batch's freshly-run data, dropping anything the boundary cutoff
// marked cleared.
func (c *navCycle) mergeLoaderData(plan loaderPlan, batch batchOutcome) map[string]any {
	out := map[string]any{}
	for id := range plan.Preserve {
		if batch.clearedByBoundary[id] {
			continue
		}
		if v, ok := c.prevSnap.LoaderData[id]; ok {
			out[id] = v
		}
	}
	for id, v := range batch.data {
		if batch.clearedByBoundary[id] {
			continue
		}
		out[id] = v
	}
	return out
}

// actionTarget resolves the index-disambiguation rule: a submission
// targets the leaf's layout parent unless the leaf is an index route
// matched with a bare "index" search parameter.
func actionTarget(matches []Match, search string) Match {
	leaf := matches[len(matches)-1]
	if leaf.Route.Index && !hasBareIndexParam(search) && len(matches) > 1 {
		return matches[len(matches)-2]
	}
	return leaf
}

func hasBareIndexParam(search string) bool {
	for _, pair := range strings.Split(search, "&") {
		if pair == "index" || pair == "index=" {
			return true
		}
	}
	return false
}

func provisionalLocation(pathname, search, hash string, state any) Location {
	return Location{Pathname: pathname, Search: search, Hash: hash, State: state}
}

// markClearedFrom marks every match at or below boundaryID's index as
// cleared, for the action-exception path where the boundary is known
// before any loader batch runs.
func markClearedFrom(matches []Match, boundaryID string, into map[string]bool) {
	idx := -1
	for i, m := range matches {
		if m.Route.ID == boundaryID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	for i, m := range matches {
		if i >= idx {
			into[m.Route.ID] = true
		}
	}
}

func (r *Router) startInitialLoad(matches []Match) {
	cur := r.snapshot.Load()
	r.navSeq++
	seq := r.navSeq
	ctx, cancel := context.WithCancel(context.Background())
	r.navCancel = cancel
	ctx, finishNav := r.instr.NavigationStarted(ctx, "initialHydration")

	req := navRequest{href: cur.Location.Href()}
	cyc := &navCycle{
		router: r, seq: seq, ctx: ctx, req: req,
		pathname: cur.Location.Pathname, search: cur.Location.Search, hash: cur.Location.Hash,
		destURL: cur.Location.Href(), matches: matches, prevSnap: cur,
		result: make(chan error, 1), finishNav: finishNav,
	}
	go func() {
		plan := planTransition(cyc.planInputFor(false, false))
		// Initial hydration never vetoes via ShouldReload for routes lacking
		// data: planTransition already treats an absent HasLoaderData entry
		// as an unconditional run.
		results := runLoaders(ctx, r.instr, cyc.destURL, plan.Run, "", nil)
		if ctx.Err() != nil {
			finishNav("cancelled")
			return
		}
		batch := reduceBatch(plan.Run, results)
		cyc.reportBatch(batch)
		r.dispatch(func() {
			if seq != r.navSeq {
				finishNav("cancelled")
				return
			}
			final := cur.clone()
			final.Matches = matches
			final.LoaderData = cyc.mergeLoaderData(plan, batch)
			final.Exceptions = batch.exceptions
			final.Revalidation = RevalidationIdle
			final.Initialized = true
			final.Fetchers = cyc.finishFetchers()
			r.publish(final)
			finishNav("committed")
		})
	}()
}
