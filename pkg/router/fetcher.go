package router

import "context"

// fetcherState is the Fetcher Manager's private bookkeeping for one key: a
// monotonically increasing sequence number plus the active
// context.CancelFunc let a late result recognize it has been superseded and
// discard itself, without any cross-references back into navigation state.
type fetcherState struct {
	cancel context.CancelFunc
	seq    uint64
	public Fetcher

	// revalidateCancel is set while this fetcher's post-action revalidation
	// is in flight, so a navigation beginning concurrently can abort just
	// the revalidation without touching the fetcher's own cancel/seq.
	revalidateCancel context.CancelFunc
}

// fetcherManager owns every keyed fetcher's state, independent of the
// navigation cycle. It is only ever touched from the Router's command loop,
// so it needs no locking of its own.
type fetcherManager struct {
	byKey map[string]*fetcherState
}

func newFetcherManager() *fetcherManager {
	return &fetcherManager{byKey: map[string]*fetcherState{}}
}

func (m *fetcherManager) get(key string) Fetcher {
	st, ok := m.byKey[key]
	if !ok {
		return IdleFetcher
	}
	return st.public
}

// beginCycle cancels any previous controller owned by key, installs a fresh
// one, and returns the sequence number this cycle must present when
// committing so a stale result can recognize itself.
func (m *fetcherManager) beginCycle(key string, cancel context.CancelFunc, initial Fetcher) uint64 {
	prev, existed := m.byKey[key]
	if existed && prev.cancel != nil {
		prev.cancel()
	}
	seq := uint64(1)
	if existed {
		seq = prev.seq + 1
	}
	m.byKey[key] = &fetcherState{cancel: cancel, seq: seq, public: initial}
	return seq
}

// isCurrent reports whether seq still names the active cycle for key —
// false means a newer fetch (or DeleteFetcher) has already superseded it
// and the result carrying seq must be discarded unread.
func (m *fetcherManager) isCurrent(key string, seq uint64) bool {
	st, ok := m.byKey[key]
	return ok && st.seq == seq
}

// commit installs a new public snapshot for key's fetcher if seq is still
// current; returns false if the result was stale and nothing changed.
func (m *fetcherManager) commit(key string, seq uint64, next Fetcher) bool {
	st, ok := m.byKey[key]
	if !ok || st.seq != seq {
		return false
	}
	st.public = next
	return true
}

// setRevalidateCancel records the cancel func for key's in-flight
// post-action revalidation, if the fetcher still exists.
func (m *fetcherManager) setRevalidateCancel(key string, cancel context.CancelFunc) {
	if st, ok := m.byKey[key]; ok {
		st.revalidateCancel = cancel
	}
}

// clearRevalidateCancel drops the recorded revalidation cancel func once
// that revalidation completes (successfully or not) so a later navigation
// doesn't try to cancel a finished run.
func (m *fetcherManager) clearRevalidateCancel(key string) {
	if st, ok := m.byKey[key]; ok {
		st.revalidateCancel = nil
	}
}

// cancelRevalidations aborts every fetcher's in-flight post-action
// revalidation, called when a navigation begins and its own loader run
// subsumes them. It returns the keys whose fetcher was mid-revalidation
// (state loading/actionReload) so the caller can flip them to done once the
// superseding navigation commits.
func (m *fetcherManager) cancelRevalidations() []string {
	var affected []string
	for k, st := range m.byKey {
		if st.revalidateCancel != nil {
			st.revalidateCancel()
			st.revalidateCancel = nil
			if st.public.Type == FetcherTypeActionReload {
				affected = append(affected, k)
			}
		}
	}
	return affected
}

// finishSuperseded flips every key in keys from actionReload to done,
// keeping its already-committed action Data: the fetcher still transitions
// to done with its action data when the navigation commits.
func (m *fetcherManager) finishSuperseded(keys []string) {
	for _, k := range keys {
		if st, ok := m.byKey[k]; ok && st.public.Type == FetcherTypeActionReload {
			st.public = Fetcher{State: TransitionIdle, Type: FetcherTypeDone, Data: st.public.Data}
		}
	}
}

// delete removes key's fetcher, aborting its controller if one is active.
func (m *fetcherManager) delete(key string) {
	st, ok := m.byKey[key]
	if !ok {
		return
	}
	if st.cancel != nil {
		st.cancel()
	}
	delete(m.byKey, key)
}

// snapshot copies every key's current public Fetcher for publishing on the
// Store's Snapshot.
func (m *fetcherManager) snapshot() map[string]Fetcher {
	out := make(map[string]Fetcher, len(m.byKey))
	for k, st := range m.byKey {
		out[k] = st.public
	}
	return out
}

// activeKeys lists every fetcher whose cycle is still in flight (it holds a
// controller and has not reached done), for Router.InternalFetchControllers,
// a test-only observable.
func (m *fetcherManager) activeKeys() []string {
	keys := make([]string, 0, len(m.byKey))
	for k, st := range m.byKey {
		if st.cancel != nil && st.public.Type != FetcherTypeDone {
			keys = append(keys, k)
		}
	}
	return keys
}
