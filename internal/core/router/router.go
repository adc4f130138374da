// Package router implements the method/URI handler lookup used by the HTTP family
// of servers.
package router

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrUnsupportedMethod = errors.New("only GET and POST handlers can be registered")
	ErrRouterFrozen      = errors.New("handlers can't be registered once the server has started")
)

// Handler is the single signature every route is registered with.
type Handler func(w http.ResponseWriter, r *http.Request)

// Router holds one exact-match table per method. Tables are filled in while the
// server is being set up and are read-only after Freeze.
//
// Resolution falls back to whatever is registered at "/" (GET first, then POST)
// when nothing matches exactly, so a "/" handler swallows every unmatched request
// regardless of method or path. Servers that need real 404s must not register one.
type Router struct {
	get    map[string]Handler
	post   map[string]Handler
	frozen bool
}

func New() *Router {
	return &Router{
		get:  make(map[string]Handler),
		post: make(map[string]Handler),
	}
}

// AddHandler registers h for method and the normalized form of uri, replacing any
// handler previously registered for the same pair.
func (rt *Router) AddHandler(method, uri string, h Handler) error {
	if rt.frozen {
		return ErrRouterFrozen
	}
	if h == nil {
		return fmt.Errorf("nil handler for %s %s", method, uri)
	}

	switch method {
	case http.MethodGet:
		rt.get[NormalizeURI(uri)] = h
	case http.MethodPost:
		rt.post[NormalizeURI(uri)] = h
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	return nil
}

func (rt *Router) AddGetHandle(uri string, h Handler) error {
	return rt.AddHandler(http.MethodGet, uri, h)
}

func (rt *Router) AddPostHandle(uri string, h Handler) error {
	return rt.AddHandler(http.MethodPost, uri, h)
}

// Freeze stops any further registration.
func (rt *Router) Freeze() { rt.frozen = true }

// Resolve finds the handler for a request. The boolean is false when nothing,
// not even a "/" fallback, is registered; callers answer with 404 in that case.
func (rt *Router) Resolve(method, uri string) (Handler, bool) {
	path := NormalizeURI(uri)

	switch method {
	case http.MethodGet:
		if h, ok := rt.get[path]; ok {
			return h, true
		}
	case http.MethodPost:
		if h, ok := rt.post[path]; ok {
			return h, true
		}
	}

	if h, ok := rt.get["/"]; ok {
		return h, true
	}
	if h, ok := rt.post["/"]; ok {
		return h, true
	}
	return nil, false
}

// NormalizeURI reduces a request target to its path: any scheme and authority,
// query string and fragment are dropped and the result always starts with "/".
func NormalizeURI(uri string) string {
	if i := strings.Index(uri, "://"); i >= 0 {
		uri = uri[i+3:]
		if j := strings.IndexByte(uri, '/'); j >= 0 {
			uri = uri[j:]
		} else {
			uri = ""
		}
	}
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		uri = uri[:i]
	}
	if !strings.HasPrefix(uri, "/") {
		uri = "/" + uri
	}
	return uri
}
