package response

import (
	"strconv"
	"strings"
)

// CacheDirective describes how a response class may be cached by the CDN and
// by browsers. The zero value renders as no-store.
type CacheDirective struct {
	SMaxAge int
	MaxAge  int
	SWR     int
	SIE     int
	NoStore bool
}

// BadgeDefault is the caching profile for successful badge responses.
var BadgeDefault = CacheDirective{SMaxAge: 10, MaxAge: 5, SWR: 15, SIE: 60}

// ShortPublic caches briefly at the edge; used for degraded and "not found"
// badge bodies so recovery is picked up quickly.
func ShortPublic(maxAge int) CacheDirective {
	return CacheDirective{SMaxAge: maxAge, MaxAge: maxAge}
}

// NoCache is the directive for errors and mutation responses.
var NoCache = CacheDirective{NoStore: true}

// String renders the Cache-Control header value.
func (d CacheDirective) String() string {
	if d.NoStore || (d.SMaxAge == 0 && d.MaxAge == 0 && d.SWR == 0 && d.SIE == 0) {
		return "no-store, no-cache, must-revalidate"
	}

	var sb strings.Builder
	sb.WriteString("public")
	if d.SMaxAge > 0 {
		sb.WriteString(", s-maxage=")
		sb.WriteString(strconv.Itoa(d.SMaxAge))
	}
	sb.WriteString(", max-age=")
	sb.WriteString(strconv.Itoa(d.MaxAge))
	if d.SWR > 0 {
		sb.WriteString(", stale-while-revalidate=")
		sb.WriteString(strconv.Itoa(d.SWR))
	}
	if d.SIE > 0 {
		sb.WriteString(", stale-if-error=")
		sb.WriteString(strconv.Itoa(d.SIE))
	}
	return sb.String()
}
