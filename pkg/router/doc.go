// Package router implements a data-aware router core: a deterministic state
// machine that couples URL navigation with per-route data loading, submission
// handling, revalidation, and independent out-of-band fetcher calls.
//
// The core does not perform path matching, history management, or rendering
// on its own; those are supplied by the caller through the Matcher and
// History interfaces (narrow external collaborators), with default
// implementations provided for embedding outside a browser (tests, CLIs,
// servers simulating navigation).
package router
