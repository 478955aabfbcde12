package routing

import (
	"fmt"
	"net/http"
	"strings"
)

// Route describes one registered route. Immutable after registration; shared
// read-only for the process lifetime.
type Route struct {
	Name         string
	Method       string
	Pattern      string
	RequiresAuth bool
	HandlerID    string

	compiled *pattern
}

// Match pairs a resolved route with its captured path values.
type Match struct {
	Route  *Route
	Values *RouteValues
}

// Table indexes routes for resolution. Exact patterns go into a case-folded
// map; templates are tried in registration order, so callers register the
// most specific template first. The table is built at startup and read-only
// afterwards, so resolution takes no locks.
type Table struct {
	exact     map[string]map[string]*Route // folded path → method → route
	templates []*Route
}

// NewTable creates an empty route table.
func NewTable() *Table {
	return &Table{
		exact: make(map[string]map[string]*Route),
	}
}

// Add registers a route. Method and literal segments are case-insensitive.
func (t *Table) Add(r Route) error {
	if r.Name == "" {
		return fmt.Errorf("route name is required")
	}
	if r.HandlerID == "" {
		return fmt.Errorf("route %s: handler id is required", r.Name)
	}

	p, err := compilePattern(r.Pattern)
	if err != nil {
		return err
	}

	route := &Route{
		Name:         r.Name,
		Method:       strings.ToUpper(r.Method),
		Pattern:      r.Pattern,
		RequiresAuth: r.RequiresAuth,
		HandlerID:    r.HandlerID,
		compiled:     p,
	}

	if p.isExact() {
		byMethod, ok := t.exact[p.exact]
		if !ok {
			byMethod = make(map[string]*Route)
			t.exact[p.exact] = byMethod
		}
		if _, dup := byMethod[route.Method]; dup {
			return fmt.Errorf("route %s: duplicate registration for %s %s", r.Name, route.Method, r.Pattern)
		}
		byMethod[route.Method] = route
	} else {
		t.templates = append(t.templates, route)
	}
	return nil
}

// MustAdd registers a route and panics on error. For startup wiring only.
func (t *Table) MustAdd(r Route) {
	if err := t.Add(r); err != nil {
		panic(err)
	}
}

// TryResolve matches method+path against the table. HEAD is treated as GET.
// Captures are written into the caller-provided vals buffer; no other
// allocation happens on this path. Returns false when nothing matches,
// including a structural match under a different method.
func (t *Table) TryResolve(method, path string, vals *RouteValues) (*Route, bool) {
	method = normalizeMethod(method)

	if byMethod, ok := t.exact[foldPath(path)]; ok {
		if route, ok := byMethod[method]; ok {
			if vals != nil {
				vals.Reset(path)
			}
			return route, true
		}
	}

	for _, route := range t.templates {
		if route.Method != method {
			continue
		}
		if vals != nil {
			vals.Reset(path)
		}
		if route.compiled.match(path, vals) {
			return route, true
		}
	}
	return nil, false
}

// methodOrder fixes the ordering of AllowedMethods output.
var methodOrder = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodOptions,
}

// AllowedMethods returns the union of methods across all patterns whose
// structure matches path, regardless of method. OPTIONS is always included;
// HEAD is included iff GET is. The result is ordered and duplicate-free.
func (t *Table) AllowedMethods(path string) []string {
	present := make(map[string]bool, 4)

	if byMethod, ok := t.exact[foldPath(path)]; ok {
		for m := range byMethod {
			present[m] = true
		}
	}
	for _, route := range t.templates {
		if route.compiled.match(path, nil) {
			present[route.Method] = true
		}
	}

	present[http.MethodOptions] = true
	if present[http.MethodGet] {
		present[http.MethodHead] = true
	}

	out := make([]string, 0, len(present))
	for _, m := range methodOrder {
		if present[m] {
			out = append(out, m)
		}
	}
	return out
}

// normalizeMethod uppercases the method and folds HEAD onto GET.
func normalizeMethod(method string) string {
	if strings.EqualFold(method, http.MethodHead) {
		return http.MethodGet
	}
	if isUpper(method) {
		return method
	}
	return strings.ToUpper(method)
}

// foldPath lowercases a path, returning the input unchanged (no allocation)
// when it is already lowercase.
func foldPath(path string) string {
	for i := 0; i < len(path); i++ {
		if c := path[i]; c >= 'A' && c <= 'Z' {
			return strings.ToLower(path)
		}
	}
	return path
}

func isUpper(s string) bool {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= 'a' && c <= 'z' {
			return false
		}
	}
	return true
}
