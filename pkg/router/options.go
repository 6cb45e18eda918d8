package router

import "strings"

// DefaultFormEncType is the enctype assumed for a submission that does not
// specify one.
const DefaultFormEncType = "application/x-www-form-urlencoded"

// NavigateTarget is Navigate's destination: either a href or a history
// delta. Build one with NavigateToHref or NavigateToDelta.
type NavigateTarget struct {
	href    string
	delta   int
	isDelta bool
}

// NavigateToHref targets Navigate at an absolute or relative href.
func NavigateToHref(href string) NavigateTarget { return NavigateTarget{href: href} }

// NavigateToDelta targets Navigate at a history offset, equivalent to
// History.Go(n).
func NavigateToDelta(n int) NavigateTarget { return NavigateTarget{delta: n, isDelta: true} }

// NavigateConfig collects the options a Navigate call can carry.
type NavigateConfig struct {
	Replace     bool
	State       any
	FormMethod  string
	FormEncType string
	FormData    *FormData
}

// NavigateOption configures a single Navigate call, following the
// functional-options shape used throughout this codebase's configuration
// surfaces.
type NavigateOption func(*NavigateConfig)

// WithReplace makes the navigation replace the current history entry
// instead of pushing a new one.
func WithReplace() NavigateOption {
	return func(c *NavigateConfig) { c.Replace = true }
}

// WithState attaches opaque caller state to the resulting Location.
func WithState(state any) NavigateOption {
	return func(c *NavigateConfig) { c.State = state }
}

// WithSubmission turns the navigation into a submission: method is
// lowercased; "get" is a loader-submission, anything else (canonically
// "post") is an action-submission.
func WithSubmission(method string, data *FormData) NavigateOption {
	return func(c *NavigateConfig) {
		c.FormMethod = strings.ToLower(method)
		if c.FormEncType == "" {
			c.FormEncType = DefaultFormEncType
		}
		c.FormData = data
	}
}

// WithFormEncType overrides the default submission enctype.
func WithFormEncType(encType string) NavigateOption {
	return func(c *NavigateConfig) { c.FormEncType = encType }
}

// FetchConfig collects the options a Router.Fetch call can carry.
type FetchConfig struct {
	FormMethod  string
	FormEncType string
	FormData    *FormData
	TargetURL   string
}

// FetchOption configures a single fetcher call.
type FetchOption func(*FetchConfig)

// WithFetchSubmission marks a fetcher call as a submission against method,
// carrying data as its body.
func WithFetchSubmission(method string, data *FormData) FetchOption {
	return func(c *FetchConfig) {
		c.FormMethod = strings.ToLower(method)
		if c.FormEncType == "" {
			c.FormEncType = DefaultFormEncType
		}
		c.FormData = data
	}
}

// WithFetchURL overrides the URL a fetcher targets; by default a fetcher
// targets the href passed to Router.Fetch.
func WithFetchURL(url string) FetchOption {
	return func(c *FetchConfig) { c.TargetURL = url }
}
