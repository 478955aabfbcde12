package response

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ETagFor computes the strong ETag for a serialized body: the quoted
// fixed-width hex of SHA-256 over the exact bytes.
func ETagFor(body []byte) string {
	sum := sha256.Sum256(body)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// MatchETag reports whether the If-None-Match header value matches etag.
// It handles the wildcard "*", comma-separated lists, and W/ weak prefixes
// (stripped for comparison per RFC 7232 section 2.3.2). Hex comparison is
// case-insensitive.
func MatchETag(inm, etag string) bool {
	if strings.TrimSpace(inm) == "*" {
		return true
	}
	normETag := stripWeak(etag)

	for inm != "" {
		for len(inm) > 0 && (inm[0] == ' ' || inm[0] == '\t' || inm[0] == ',') {
			inm = inm[1:]
		}
		if inm == "" {
			break
		}

		start := 0
		if len(inm) > 1 && inm[:2] == "W/" {
			start = 2
		}
		if start >= len(inm) || inm[start] != '"' {
			break
		}
		end := start + 1
		for end < len(inm) && inm[end] != '"' {
			end++
		}
		if end >= len(inm) {
			break
		}
		candidate := inm[:end+1]
		inm = inm[end+1:]

		if strings.EqualFold(stripWeak(candidate), normETag) {
			return true
		}
	}
	return false
}

func stripWeak(s string) string {
	if len(s) > 2 && s[:2] == "W/" {
		return s[2:]
	}
	return s
}
