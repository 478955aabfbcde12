// Package hmacauth validates signed ingestion requests. The pipeline is
// ordered so a replayed nonce costs at most one conditional write and never
// reaches signature verification, and so failures reveal nothing about which
// check rejected a forged request beyond its typed code.
package hmacauth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	apierrors "github.com/badgesmith/badgesmith/internal/errors"
	"github.com/badgesmith/badgesmith/internal/logging"
	"github.com/badgesmith/badgesmith/internal/noncestore"
	"github.com/badgesmith/badgesmith/internal/secrets"
	"go.uber.org/zap"
)

// Request headers consumed by the authenticator.
const (
	HeaderSignature  = "X-Signature"
	HeaderRepoSecret = "X-Repo-Secret"
	HeaderTimestamp  = "X-Timestamp"
	HeaderNonce      = "X-Nonce"
)

const signaturePrefix = "sha256="

// AuthenticatedRequest is the proof of a validated ingestion request.
type AuthenticatedRequest struct {
	RepoID    string
	Timestamp time.Time
	Nonce     string
}

// KeySource resolves the HMAC key for a repository identity.
type KeySource interface {
	RepoHmacKey(ctx context.Context, repoID string) ([]byte, error)
}

// Authenticator validates X-Signature requests against the nonce store and
// key source.
type Authenticator struct {
	nonces   noncestore.Store
	keys     KeySource
	skew     time.Duration
	nonceTTL time.Duration
	now      func() time.Time
}

// New creates an Authenticator. skew bounds |now - X-Timestamp|; nonceTTL is
// the replay window length.
func New(nonces noncestore.Store, keys KeySource, skew, nonceTTL time.Duration) *Authenticator {
	return &Authenticator{
		nonces:   nonces,
		keys:     keys,
		skew:     skew,
		nonceTTL: nonceTTL,
		now:      time.Now,
	}
}

// Validate runs the full pipeline over the request headers and exact body
// bytes. The returned error is typed per the response taxonomy; its message
// never carries secret material.
func (a *Authenticator) Validate(ctx context.Context, headers http.Header, body []byte) (*AuthenticatedRequest, *apierrors.APIError) {
	signature := strings.TrimSpace(headers.Get(HeaderSignature))
	repoID := strings.TrimSpace(headers.Get(HeaderRepoSecret))
	timestamp := strings.TrimSpace(headers.Get(HeaderTimestamp))
	nonce := strings.TrimSpace(headers.Get(HeaderNonce))

	if signature == "" || repoID == "" || timestamp == "" || nonce == "" {
		return nil, apierrors.New(apierrors.KindMissingHeaders, "Required authentication headers are missing")
	}

	ts, err := parseTimestamp(timestamp)
	if err != nil {
		return nil, apierrors.New(apierrors.KindInvalidTimestamp, "Request timestamp is invalid")
	}
	if drift := a.now().Sub(ts); drift > a.skew || drift < -a.skew {
		return nil, apierrors.New(apierrors.KindInvalidTimestamp, "Request timestamp is outside the accepted window")
	}

	// Reserve the nonce before any signature work. Replays burn one O(1)
	// conditional write per unique nonce and learn nothing about the key.
	reserved, err := a.nonces.TryReserve(ctx, nonce, repoID, a.nonceTTL)
	if err != nil {
		logging.Warn("nonce store unavailable", zap.Error(err))
		return nil, apierrors.Wrap(err, apierrors.KindInternal, "Internal Server Error")
	}
	if !reserved {
		logging.Debug("nonce replay rejected", zap.String("nonce", nonce))
		return nil, apierrors.New(apierrors.KindNonceUsed, "Nonce has already been used")
	}

	key, err := a.keys.RepoHmacKey(ctx, repoID)
	if err != nil {
		if err == secrets.ErrNotFound {
			// Same shape as a signature mismatch: no oracle for valid identities.
			return nil, apierrors.ErrUnauthorized
		}
		logging.Warn("hmac key lookup failed", zap.Error(err))
		return nil, apierrors.Wrap(err, apierrors.KindInternal, "Internal Server Error")
	}

	if !verifySignature(key, body, signature) {
		return nil, apierrors.New(apierrors.KindInvalidSignature, "Request signature is invalid")
	}

	return &AuthenticatedRequest{
		RepoID:    repoID,
		Timestamp: ts,
		Nonce:     nonce,
	}, nil
}

// parseTimestamp accepts RFC 3339 UTC instants only. Offsets other than
// +00:00 are rejected.
func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	if _, offset := t.Zone(); offset != 0 {
		return time.Time{}, &time.ParseError{Layout: time.RFC3339, Value: s, Message: ": non-UTC offset"}
	}
	return t.UTC(), nil
}

// verifySignature compares "sha256=<hex>" against HMAC-SHA256(key, body) in
// constant time. Hex comparison is case-insensitive via byte decoding.
func verifySignature(key, body []byte, signature string) bool {
	if len(signature) <= len(signaturePrefix) || !strings.EqualFold(signature[:len(signaturePrefix)], signaturePrefix) {
		return false
	}
	provided, err := hex.DecodeString(strings.ToLower(signature[len(signaturePrefix):]))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

// Sign computes the signature header value for key and body. Used by clients
// and tests.
func Sign(key, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
