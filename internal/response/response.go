// Package response shapes every HTTP response the service emits: canonical
// JSON bodies, strong ETags, conditional GET handling, and cache directives.
// Determinism matters here — identical inputs must produce identical bytes so
// edge caches see stable ETags.
package response

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	apierrors "github.com/badgesmith/badgesmith/internal/errors"
)

const contentTypeJSON = "application/json; charset=utf-8"

// Marshal serializes v canonically: fixed struct field order, no HTML
// escaping, no trailing newline.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Opts carries the optional inputs to OK.
type Opts struct {
	LastModified time.Time
}

// OK writes a 200 with the canonical JSON body, strong ETag, and cache
// headers. When the request's If-None-Match covers the computed ETag the
// response degrades to a 304 with identical headers and no body.
func OK(w http.ResponseWriter, r *http.Request, v any, cache CacheDirective, opts ...Opts) {
	body, err := Marshal(v)
	if err != nil {
		Error(w, apierrors.Wrap(err, apierrors.KindInternal, "Internal Server Error"))
		return
	}

	etag := ETagFor(body)
	h := w.Header()
	h.Set("Content-Type", contentTypeJSON)
	h.Set("ETag", etag)
	h.Set("Cache-Control", cache.String())
	h.Add("Vary", "Accept-Encoding")
	for _, o := range opts {
		if !o.LastModified.IsZero() {
			h.Set("Last-Modified", o.LastModified.UTC().Format(http.TimeFormat))
		}
	}

	if inm := r.Header.Get("If-None-Match"); inm != "" && MatchETag(inm, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(body)
	}
}

// Created writes a 201 with a no-cache body and optional Location header.
func Created(w http.ResponseWriter, v any, location string) {
	body, err := Marshal(v)
	if err != nil {
		Error(w, apierrors.Wrap(err, apierrors.KindInternal, "Internal Server Error"))
		return
	}

	h := w.Header()
	h.Set("Content-Type", contentTypeJSON)
	setNoCache(h)
	if location != "" {
		h.Set("Location", location)
	}
	w.WriteHeader(http.StatusCreated)
	w.Write(body)
}

// Error writes the APIError as JSON with no-cache headers. Responses built
// here never echo secrets; the error type enforces generic messages.
func Error(w http.ResponseWriter, e *apierrors.APIError) {
	body, err := Marshal(e)
	if err != nil {
		body = []byte(`{"message":"Internal Server Error"}`)
	}

	h := w.Header()
	h.Set("Content-Type", contentTypeJSON)
	setNoCache(h)
	w.WriteHeader(e.Status())
	w.Write(body)
}

// Redirect writes a 302 to location. Redirects are no-cache unless an
// explicit public directive is given.
func Redirect(w http.ResponseWriter, location string, cache *CacheDirective) {
	h := w.Header()
	h.Set("Location", location)
	if cache != nil {
		h.Set("Cache-Control", cache.String())
	} else {
		setNoCache(h)
	}
	w.WriteHeader(http.StatusFound)
}

// Options writes a 204 preflight response with the given headers.
func Options(w http.ResponseWriter, headers http.Header) {
	h := w.Header()
	for k, vv := range headers {
		for _, v := range vv {
			h.Add(k, v)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func setNoCache(h http.Header) {
	h.Set("Cache-Control", NoCache.String())
	h.Set("Pragma", "no-cache")
}
