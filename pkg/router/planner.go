package router

// loaderPlan is the Transition Planner's output: which matches need their
// loader run, which ids should retain their existing loaderData untouched,
// and which ids' loaderData/exceptions must be cleared at commit.
type loaderPlan struct {
	// Run holds, in root-to-leaf order, the matches whose loader must run.
	Run []Match

	// Preserve holds the ids whose existing loaderData survives unchanged.
	Preserve map[string]bool

	// Clear holds the ids whose loaderData/exceptions must be dropped —
	// matches strictly below an exception boundary.
	Clear map[string]bool

	// BoundaryCandidate is the nearest ExceptionBoundary among the next
	// matches (see NearestBoundary), computed ahead of execution; it is ""
	// when no matched route declares a boundary.
	BoundaryCandidate string
}

// planInput carries everything planTransition needs to decide which
// loaders run for a navigation to nextMatches.
type planInput struct {
	CurrentMatches []Match
	NextMatches    []Match

	SearchChanged bool
	HashOnly      bool

	// IsActionReload marks a loader run following a successful action, or an
	// explicit revalidation request; both trigger rule 4.
	IsActionReload bool

	// ForceAll re-runs every kept match's loader and disables every
	// shouldReload veto (the X-Remix-Revalidate: yes redirect case).
	ForceAll bool

	FormMethod string
	FormData   *FormData
	ActionResult any

	CurrentURL string
	NextURL    string

	// HasLoaderData reports, per route id, whether the current snapshot
	// already holds loaderData for that match — governs the
	// shouldReload-not-consulted-on-initial-hydration carveout.
	HasLoaderData map[string]bool
}

// planTransition decides, for each matched route, whether its loader runs,
// is skipped with its existing data preserved, or is cleared, as a pure
// function: no channel sends, no goroutines, no clock reads, so every
// branch is exercisable by a table test with plain struct literals.
func planTransition(in planInput) loaderPlan {
	plan := loaderPlan{Preserve: map[string]bool{}, Clear: map[string]bool{}}

	if in.HashOnly {
		// Rule 8: hash-only changes run no loaders at all.
		return plan
	}

	currentByID := make(map[string]Match, len(in.CurrentMatches))
	for _, m := range in.CurrentMatches {
		currentByID[m.Route.ID] = m
	}

	for _, next := range in.NextMatches {
		cur, wasKept := currentByID[next.Route.ID]
		if !next.Route.HasLoader() {
			continue
		}

		switch {
		case !wasKept:
			// Rule 1: new route. shouldReload is never consulted.
			plan.Run = append(plan.Run, next)

		case paramsChanged(cur.Params, next.Params):
			// Rule 2: params changed. shouldReload is never consulted.
			plan.Run = append(plan.Run, next)

		default:
			// A kept match with no prior loaderData (initial hydration)
			// always runs, without consulting shouldReload.
			if !in.HasLoaderData[next.Route.ID] {
				plan.Run = append(plan.Run, next)
				continue
			}

			// Candidate for rules 3/4, subject to rule 5's veto.
			wantsRerun := in.SearchChanged || in.IsActionReload || in.ForceAll
			if !wantsRerun {
				plan.Preserve[next.Route.ID] = true
				continue
			}

			if in.ForceAll {
				plan.Run = append(plan.Run, next)
				continue
			}

			if shouldReload(next.Route, in) {
				plan.Run = append(plan.Run, next)
			} else {
				plan.Preserve[next.Route.ID] = true
			}
		}
	}

	// Rule 6/7's boundary cutoff is applied by the Engine once it knows
	// whether an exception actually occurred; planTransition only computes
	// the candidate boundary among the matches that would run, since that
	// is knowable ahead of execution (nearest ExceptionBoundary ancestor of
	// the leaf among NextMatches).
	plan.BoundaryCandidate = NearestBoundary(in.NextMatches)

	return plan
}

func paramsChanged(a, b map[string]string) bool {
	if len(a) != len(b) {
		return true
	}
	for k, v := range a {
		if b[k] != v {
			return true
		}
	}
	return false
}

func shouldReload(route *RouteNode, in planInput) bool {
	if route.ShouldReload == nil {
		return true
	}
	return route.ShouldReload(ShouldReloadArgs{
		CurrentParams:       paramsForRoute(in.CurrentMatches, route.ID),
		NextParams:          paramsForRoute(in.NextMatches, route.ID),
		CurrentURL:          in.CurrentURL,
		NextURL:             in.NextURL,
		FormMethod:          in.FormMethod,
		FormData:            in.FormData,
		ActionResult:        in.ActionResult,
		DefaultShouldReload: true,
	})
}

func paramsForRoute(matches []Match, id string) map[string]string {
	for _, m := range matches {
		if m.Route.ID == id {
			return m.Params
		}
	}
	return nil
}

// applyBoundaryCutoff removes, from a loaderPlan already computed by
// planTransition, every run-entry strictly below boundaryID (rule 6/7), and
// marks their ids (and any id that had been slated to Preserve) for Clear
// instead, since a route whose ancestor threw never gets a chance to retain
// stale data across the cycle.
func applyBoundaryCutoff(plan loaderPlan, nextMatches []Match, boundaryID string) loaderPlan {
	if boundaryID == "" {
		return plan
	}

	boundaryIdx := -1
	for i, m := range nextMatches {
		if m.Route.ID == boundaryID {
			boundaryIdx = i
			break
		}
	}
	if boundaryIdx < 0 {
		return plan
	}

	belowByID := make(map[string]bool)
	for i, m := range nextMatches {
		if i > boundaryIdx {
			belowByID[m.Route.ID] = true
		}
	}

	out := loaderPlan{Preserve: map[string]bool{}, Clear: map[string]bool{}, BoundaryCandidate: plan.BoundaryCandidate}
	for _, m := range plan.Run {
		if belowByID[m.Route.ID] {
			out.Clear[m.Route.ID] = true
			continue
		}
		out.Run = append(out.Run, m)
	}
	for id := range plan.Preserve {
		if belowByID[id] {
			out.Clear[id] = true
			continue
		}
		out.Preserve[id] = true
	}
	for id := range plan.Clear {
		out.Clear[id] = true
	}
	return out
}
