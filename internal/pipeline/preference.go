package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/outpostmail/outpost/internal/api"
	"github.com/outpostmail/outpost/internal/prefcache"
)

// SendPreference is the resolved sending profile for exactly one recipient
// address. Immutable once constructed; it lives for one pipeline execution.
type SendPreference struct {
	Encrypt           bool
	Sign              bool
	MIMEType          string
	PublicKey         []byte
	Scheme            api.PackageScheme
	CleartextInline   bool
	CleartextMIME     bool
	PinnedKeyMismatch bool
}

// Resolver turns a set of recipient addresses into per-address send
// preferences via one batched remote key lookup, with an optional
// read-through cache in front.
type Resolver struct {
	client api.Client
	cache  prefcache.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewResolver creates a resolver. cache may be nil to disable caching.
func NewResolver(client api.Client, cache prefcache.Cache, ttl time.Duration, logger *slog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = prefcache.DefaultTTL
	}
	return &Resolver{
		client: client,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("component", "preference-resolver"),
	}
}

// Resolve fetches send preferences for every address. The remote lookup is
// one batched call; it is skipped only when the cache covers the whole
// request. Any underlying failure is returned as one opaque error — the
// caller cannot and must not distinguish network from key-parsing failure.
func (r *Resolver) Resolve(ctx context.Context, user api.Identity, emails []string) (map[string]SendPreference, error) {
	if len(emails) == 0 {
		return map[string]SendPreference{}, nil
	}

	keysByEmail, complete := r.fromCache(ctx, user, emails)
	if !complete {
		fetched, err := r.client.FetchSendPreferences(ctx, user, emails)
		if err != nil {
			return nil, fmt.Errorf("send preference fetch failed: %w", err)
		}
		keysByEmail = fetched
		r.fillCache(ctx, user, fetched)
	}

	prefs := make(map[string]SendPreference, len(emails))
	for _, email := range emails {
		keys, ok := keysByEmail[email]
		if !ok {
			continue
		}
		pref, err := preferenceFromKeys(keys)
		if err != nil {
			return nil, fmt.Errorf("recipient %s: %w", email, err)
		}
		prefs[email] = pref
	}
	return prefs, nil
}

// fromCache tries to serve the whole request from cache. A partial hit
// counts as a miss so the remote lookup stays one batched call.
func (r *Resolver) fromCache(ctx context.Context, user api.Identity, emails []string) (map[string]api.RecipientKeys, bool) {
	if r.cache == nil {
		return nil, false
	}

	out := make(map[string]api.RecipientKeys, len(emails))
	for _, email := range emails {
		keys, err := r.cache.Get(ctx, user, email)
		if err != nil {
			if !errors.Is(err, prefcache.ErrNotFound) {
				r.logger.Debug("preference cache read failed", "error", err)
			}
			return nil, false
		}
		out[email] = keys
	}
	return out, true
}

// fillCache stores fetched lookups. Cache failures are logged and ignored.
func (r *Resolver) fillCache(ctx context.Context, user api.Identity, fetched map[string]api.RecipientKeys) {
	if r.cache == nil {
		return
	}
	for email, keys := range fetched {
		if err := r.cache.Set(ctx, user, email, keys, r.ttl); err != nil {
			r.logger.Debug("preference cache write failed", "email", email, "error", err)
			return
		}
	}
}

// preferenceFromKeys maps one key-lookup result to a send preference.
func preferenceFromKeys(keys api.RecipientKeys) (SendPreference, error) {
	sendingKey := keys.SendingKey()
	mismatch := len(keys.Warnings) > 0

	if keys.Internal {
		if sendingKey == nil {
			return SendPreference{}, errors.New("internal recipient has no key usable for sending")
		}
		return SendPreference{
			Encrypt:           true,
			Sign:              true,
			MIMEType:          mimeOrDefault(keys.MIMEType, api.MIMETypeHTML),
			PublicKey:         []byte(sendingKey.PublicKey),
			Scheme:            api.SchemeInternal,
			PinnedKeyMismatch: mismatch,
		}, nil
	}

	if sendingKey != nil {
		return SendPreference{
			Encrypt:           true,
			Sign:              true,
			MIMEType:          api.MIMETypePGPMIME,
			PublicKey:         []byte(sendingKey.PublicKey),
			Scheme:            api.SchemePGPMIME,
			PinnedKeyMismatch: mismatch,
		}, nil
	}

	mime := mimeOrDefault(keys.MIMEType, api.MIMETypeHTML)
	return SendPreference{
		MIMEType:        mime,
		Scheme:          api.SchemeCleartext,
		CleartextInline: mime == api.MIMETypePlainText,
		CleartextMIME:   true,
	}, nil
}

func mimeOrDefault(mime, fallback string) string {
	if mime == "" {
		return fallback
	}
	return mime
}
