package httpx

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Route is a declarative route definition for RegisterRoutes.
type Route struct {
	Method     string
	Path       string
	Handler    HandlerFunc
	Middleware []MiddlewareFunc
}

// RegisterRoutes adds every complete Route to a; entries missing a method,
// path or handler are skipped.
func RegisterRoutes(a *App, routes ...Route) {
	if a == nil || a.e == nil {
		return
	}
	for _, r := range routes {
		if r.Handler == nil || r.Path == "" || r.Method == "" {
			continue
		}
		a.e.Add(strings.ToUpper(r.Method), r.Path, r.Handler, r.Middleware...)
	}
}

// Router registers routes under a shared prefix and middleware stack.
type Router struct {
	g *echo.Group
}

func (a *App) newGroup(prefix string, mw ...MiddlewareFunc) *echo.Group {
	return a.e.Group(prefix, mw...)
}

// NewRouter is App.Group for callers holding a possibly nil App.
func NewRouter(a *App, prefix string, mw ...MiddlewareFunc) *Router {
	if a == nil || a.e == nil {
		return &Router{}
	}
	return &Router{g: a.newGroup(prefix, mw...)}
}

// Group nests a router under r's prefix.
func (r *Router) Group(prefix string, mw ...MiddlewareFunc) *Router {
	if r.g == nil {
		return &Router{}
	}
	return &Router{g: r.g.Group(prefix, mw...)}
}

// Use appends middleware to routes registered on r afterwards.
func (r *Router) Use(mw ...MiddlewareFunc) *Router {
	if r.g != nil {
		r.g.Use(mw...)
	}
	return r
}

func (r *Router) GET(path string, h HandlerFunc, mw ...MiddlewareFunc) *Router {
	return r.add(http.MethodGet, path, h, mw...)
}

func (r *Router) POST(path string, h HandlerFunc, mw ...MiddlewareFunc) *Router {
	return r.add(http.MethodPost, path, h, mw...)
}

func (r *Router) PUT(path string, h HandlerFunc, mw ...MiddlewareFunc) *Router {
	return r.add(http.MethodPut, path, h, mw...)
}

func (r *Router) PATCH(path string, h HandlerFunc, mw ...MiddlewareFunc) *Router {
	return r.add(http.MethodPatch, path, h, mw...)
}

func (r *Router) DELETE(path string, h HandlerFunc, mw ...MiddlewareFunc) *Router {
	return r.add(http.MethodDelete, path, h, mw...)
}

func (r *Router) add(method, path string, h HandlerFunc, mw ...MiddlewareFunc) *Router {
	if r.g != nil && h != nil && path != "" {
		r.g.Add(method, path, h, mw...)
	}
	return r
}
