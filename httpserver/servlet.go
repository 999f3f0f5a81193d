package httpserver

import (
	"path"
	"sync"
)

// Servlet handles one matched request. Matches Servlet::handle, minus the
// int32_t return code the original uses for its own internal bookkeeping:
// a Go error is the idiomatic equivalent. The Server logs a returned error
// and replaces the response with a 500 Internal Server Error.
type Servlet interface {
	Handle(req *Request, resp *Response, sess *Session) error
}

// ServletFunc adapts a plain function to Servlet, matching FunctionServlet.
type ServletFunc func(req *Request, resp *Response, sess *Session) error

func (f ServletFunc) Handle(req *Request, resp *Response, sess *Session) error {
	return f(req, resp, sess)
}

// NotFoundServlet answers every request with 404, matching NotFoundServlet.
var NotFoundServlet Servlet = ServletFunc(func(req *Request, resp *Response, sess *Session) error {
	resp.Status = 404
	resp.SetBody([]byte("404 Not Found"))
	return nil
})

// Dispatch routes requests to registered Servlets, matching
// ServletDispatch: exact-path matches take priority over glob matches
// (e.g. "/api/*"), falling back to Default (NotFoundServlet unless
// overridden).
type Dispatch struct {
	mu      sync.RWMutex
	exact   map[string]Servlet
	globs   []globEntry
	Default Servlet
}

type globEntry struct {
	pattern string
	servlet Servlet
}

// NewDispatch constructs an empty Dispatch defaulting unmatched requests
// to NotFoundServlet.
func NewDispatch() *Dispatch {
	return &Dispatch{exact: map[string]Servlet{}, Default: NotFoundServlet}
}

// Handle registers an exact-match route.
func (d *Dispatch) Handle(uri string, s Servlet) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.exact[uri] = s
}

// HandleFunc registers an exact-match route with a plain function.
func (d *Dispatch) HandleFunc(uri string, fn ServletFunc) { d.Handle(uri, fn) }

// HandleGlob registers a glob-pattern route (path.Match syntax), matching
// addGlobServlet.
func (d *Dispatch) HandleGlob(pattern string, s Servlet) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.globs = append(d.globs, globEntry{pattern: pattern, servlet: s})
}

// HandleGlobFunc is HandleGlob's function-literal overload.
func (d *Dispatch) HandleGlobFunc(pattern string, fn ServletFunc) { d.HandleGlob(pattern, fn) }

// Match returns the Servlet registered for uri: an exact match first, then
// the first matching glob pattern in registration order, then Default.
// Matches ServletDispatch::getMatchedServlet.
func (d *Dispatch) Match(uri string) Servlet {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if s, ok := d.exact[uri]; ok {
		return s
	}
	for _, g := range d.globs {
		if ok, _ := path.Match(g.pattern, uri); ok {
			return g.servlet
		}
	}
	return d.Default
}

// HandleRequest dispatches req to the Servlet that Match returns for
// req.Path.
func (d *Dispatch) HandleRequest(req *Request, resp *Response, sess *Session) error {
	return d.Match(req.Path).Handle(req, resp, sess)
}
