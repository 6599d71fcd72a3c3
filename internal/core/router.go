package core

import (
	"context"
	"slices"
	"strings"
)

// DefaultModel is used when a query names no model.
const DefaultModel = "claude-3-opus"

// KnownModels lists the model ids a query may select.
var KnownModels = []string{
	"claude-3-opus",
	"claude-3-sonnet",
	"gpt-4-turbo",
	"gpt-3.5-turbo",
	"gemini-1.5-flash",
	"gemini-1.5-pro",
}

func IsKnownModel(model string) bool {
	return slices.Contains(KnownModels, model)
}

type modelRoute struct {
	prefix  string
	backend AnalysisBackend
}

// ModelRouter dispatches a request to the backend registered for the longest
// matching model prefix, or to the fallback.
type ModelRouter struct {
	routes   []modelRoute
	fallback AnalysisBackend
}

func NewModelRouter(fallback AnalysisBackend) *ModelRouter {
	return &ModelRouter{fallback: fallback}
}

func (r *ModelRouter) Route(prefix string, backend AnalysisBackend) {
	r.routes = append(r.routes, modelRoute{prefix: prefix, backend: backend})
}

func (r *ModelRouter) backendFor(model string) AnalysisBackend {
	var best *modelRoute
	for i := range r.routes {
		route := &r.routes[i]
		if strings.HasPrefix(model, route.prefix) && (best == nil || len(route.prefix) > len(best.prefix)) {
			best = route
		}
	}
	if best != nil {
		return best.backend
	}
	return r.fallback
}

func (r *ModelRouter) Analyze(ctx context.Context, req AnalysisRequest) AnalysisResult {
	backend := r.backendFor(req.Model)
	if backend == nil {
		return failuref("no analysis backend configured for model %q", req.Model)
	}
	return backend.Analyze(ctx, req)
}
