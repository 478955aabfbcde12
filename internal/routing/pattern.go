package routing

import (
	"fmt"
	"strings"
)

// segment is one /-delimited piece of a compiled template. Either literal is
// set (lowercased at compile time) or param names the capture.
type segment struct {
	literal string
	param   string
	greedy  bool
}

// pattern is a compiled route pattern: an exact literal path or a template of
// segments. Patterns are immutable after compilation and shared read-only for
// the process lifetime.
type pattern struct {
	raw      string
	exact    string // case-folded full path; "" when templated
	segments []segment
	params   int
}

func (p *pattern) isExact() bool {
	return p.exact != ""
}

// compilePattern parses a pattern like /badges/packages/github/{org}/{package}
// into its compiled form. {name} captures exactly one segment; {name...} marks
// a terminal greedy capture that consumes the remainder including slashes.
func compilePattern(raw string) (*pattern, error) {
	if raw == "" || raw[0] != '/' {
		return nil, fmt.Errorf("pattern %q must start with /", raw)
	}

	if !strings.Contains(raw, "{") {
		return &pattern{raw: raw, exact: strings.ToLower(raw)}, nil
	}

	parts := strings.Split(raw[1:], "/")
	segs := make([]segment, 0, len(parts))
	seen := make(map[string]bool)
	params := 0

	for i, part := range parts {
		if !strings.HasPrefix(part, "{") || !strings.HasSuffix(part, "}") {
			if strings.ContainsAny(part, "{}") {
				return nil, fmt.Errorf("pattern %q: malformed segment %q", raw, part)
			}
			segs = append(segs, segment{literal: strings.ToLower(part)})
			continue
		}

		name := part[1 : len(part)-1]
		greedy := strings.HasSuffix(name, "...")
		if greedy {
			name = strings.TrimSuffix(name, "...")
			if i != len(parts)-1 {
				return nil, fmt.Errorf("pattern %q: greedy parameter %q must be last", raw, name)
			}
		}
		if name == "" {
			return nil, fmt.Errorf("pattern %q: empty parameter name", raw)
		}
		if seen[name] {
			return nil, fmt.Errorf("pattern %q: duplicate parameter %q", raw, name)
		}
		seen[name] = true
		params++
		segs = append(segs, segment{param: name, greedy: greedy})
	}

	if params > maxParams {
		return nil, fmt.Errorf("pattern %q: too many parameters (max %d)", raw, maxParams)
	}

	return &pattern{raw: raw, segments: segs, params: params}, nil
}

// match checks path against a compiled template, writing captures into vals.
// Captured slices are the raw (possibly percent-encoded) bytes of the path;
// decoding happens on materialization. Returns false on any structural
// mismatch, including empty captures and trailing-slash differences.
func (p *pattern) match(path string, vals *RouteValues) bool {
	if len(path) == 0 || path[0] != '/' {
		return false
	}

	i := 1
	for si, seg := range p.segments {
		if seg.greedy {
			// Terminal greedy capture takes the remainder, slashes included.
			if i >= len(path) {
				return false
			}
			if vals != nil {
				vals.add(seg.param, i, len(path)-i)
			}
			return true
		}

		if i > len(path) {
			return false
		}
		j := strings.IndexByte(path[i:], '/')
		var end int
		if j < 0 {
			end = len(path)
		} else {
			end = i + j
		}

		if seg.literal != "" {
			if !strings.EqualFold(path[i:end], seg.literal) {
				return false
			}
		} else {
			if end == i {
				return false
			}
			if vals != nil {
				vals.add(seg.param, i, end-i)
			}
		}

		if si == len(p.segments)-1 {
			return end == len(path)
		}
		if j < 0 {
			return false
		}
		i = end + 1
	}
	return false
}
