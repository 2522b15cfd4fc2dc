package backend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
)

// Route is one provider a worker may be served by.
type Route struct {
	Name    string
	Backend Backend
	Model   string // overrides the backend's default model when set
}

// Router picks the provider chain for each request by worker code. Routes
// are tried in order; the next one is used only when the previous failed for
// a reason other than cancellation.
type Router struct {
	mu       sync.RWMutex
	workers  map[string][]Route
	fallback []Route
}

// NewRouter creates a router whose default chain is fallback.
func NewRouter(fallback ...Route) *Router {
	return &Router{
		workers:  make(map[string][]Route),
		fallback: fallback,
	}
}

// SetRoutes replaces the chain for one worker.
func (r *Router) SetRoutes(worker string, routes ...Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[worker] = routes
}

// Routes returns the chain that would serve worker.
func (r *Router) Routes(worker string) []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if routes, ok := r.workers[worker]; ok && len(routes) > 0 {
		return routes
	}
	return r.fallback
}

// Complete implements Backend.
//
// When every route fails because of rate limits the returned error wraps
// ErrRateLimited; otherwise only the non-rate-limit failures are wrapped.
func (r *Router) Complete(ctx context.Context, req Request) (Response, error) {
	routes := r.Routes(req.Worker)
	if len(routes) == 0 {
		return Response{}, fmt.Errorf("no provider route for worker %s", req.Worker)
	}

	var limited, other []error
	for i, route := range routes {
		attempt := req
		if attempt.Options.Model == "" {
			attempt.Options.Model = route.Model
		}

		resp, err := route.Backend.Complete(ctx, attempt)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return Response{}, err
		}

		if errors.Is(err, ErrRateLimited) {
			limited = append(limited, fmt.Errorf("%s: %w", route.Name, err))
		} else {
			other = append(other, fmt.Errorf("%s: %w", route.Name, err))
		}
		if i < len(routes)-1 {
			log.Printf("WARNING: backend: route %s failed for %s, trying %s: %v", route.Name, req.Worker, routes[i+1].Name, err)
		}
	}

	if len(other) == 0 {
		return Response{}, fmt.Errorf("worker %s: %w", req.Worker, errors.Join(limited...))
	}
	if len(limited) > 0 {
		return Response{}, fmt.Errorf("worker %s (%d routes rate limited): %w", req.Worker, len(limited), errors.Join(other...))
	}
	return Response{}, fmt.Errorf("worker %s: %w", req.Worker, errors.Join(other...))
}
