package routing

import "net/url"

// maxParams bounds the number of captures a single pattern may declare.
const maxParams = 8

type valueEntry struct {
	name string
	off  int
	ln   int
}

// RouteValues collects (name, offset, length) capture triples over one request
// path. The zero value is ready for use; a single buffer is reused across
// template attempts within a request and must not outlive the path string it
// references. Decoding of percent-escapes happens on materialization only.
type RouteValues struct {
	path    string
	n       int
	entries [maxParams]valueEntry
}

// Reset binds the buffer to a new request path and clears prior captures.
func (v *RouteValues) Reset(path string) {
	v.path = path
	v.n = 0
}

func (v *RouteValues) add(name string, off, ln int) {
	if v.n < maxParams {
		v.entries[v.n] = valueEntry{name: name, off: off, ln: ln}
		v.n++
	}
}

// Len returns the number of captured values.
func (v *RouteValues) Len() int {
	return v.n
}

// Raw returns the captured slice for name without percent-decoding.
func (v *RouteValues) Raw(name string) (string, bool) {
	for i := 0; i < v.n; i++ {
		if v.entries[i].name == name {
			e := v.entries[i]
			return v.path[e.off : e.off+e.ln], true
		}
	}
	return "", false
}

// Get materializes the captured value for name, percent-decoding reserved
// characters. Returns the raw bytes when the escape sequence is malformed.
func (v *RouteValues) Get(name string) (string, bool) {
	raw, ok := v.Raw(name)
	if !ok {
		return "", false
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw, true
	}
	return decoded, true
}
