// Package signatory resolves approval roles and positions to concrete people.
package signatory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/docflow/docflow/internal/shared"
)

// ErrNotFound is returned by stores when no active signatory matches.
var ErrNotFound = errors.New("signatory: not found")

const (
	cachePrefix = "signatory"
	missMarker  = "-"
)

// Signatory is an assignable person.
type Signatory struct {
	ID         int64               `json:"id"`
	Kind       shared.AssigneeKind `json:"kind"`
	Name       string              `json:"name"`
	Email      string              `json:"email"`
	Role       string              `json:"role"`
	Position   string              `json:"position"`
	Department string              `json:"department"`
}

// Query selects a signatory by role and position, optionally scoped to a department.
type Query struct {
	Role       string
	Position   string
	Department string
}

func (q Query) key() string {
	return strings.Join([]string{cachePrefix, "q", strings.ToLower(q.Role), strings.ToLower(q.Position), strings.ToLower(q.Department)}, ":")
}

// Store is the authoritative signatory source.
type Store interface {
	Find(ctx context.Context, q Query) (Signatory, error)
	FindByID(ctx context.Context, kind shared.AssigneeKind, id int64) (Signatory, error)
}

// Directory resolves signatories through a Redis read-through cache.
type Directory struct {
	store   Store
	cache   *redis.Client
	ttl     time.Duration
	missTTL time.Duration
	group   singleflight.Group
	logger  *slog.Logger
}

// NewDirectory constructs a Directory. A nil cache disables caching.
func NewDirectory(store Store, cache *redis.Client, ttl time.Duration, logger *slog.Logger) *Directory {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{store: store, cache: cache, ttl: ttl, missTTL: ttl / 10, logger: logger}
}

// Resolve returns the signatory for q. The boolean is false when the position is unassigned.
func (d *Directory) Resolve(ctx context.Context, q Query) (Signatory, bool, error) {
	return d.lookup(ctx, q.key(), func(ctx context.Context) (Signatory, error) {
		return d.store.Find(ctx, q)
	})
}

// ResolveByID returns a specific person.
func (d *Directory) ResolveByID(ctx context.Context, kind shared.AssigneeKind, id int64) (Signatory, bool, error) {
	if id <= 0 {
		return Signatory{}, false, nil
	}
	key := strings.Join([]string{cachePrefix, "id", string(kind), strconv.FormatInt(id, 10)}, ":")
	return d.lookup(ctx, key, func(ctx context.Context) (Signatory, error) {
		return d.store.FindByID(ctx, kind, id)
	})
}

// Contact returns the delivery address of a person. Unknown people and people without an
// e-mail yield an empty address and no error; only lookup failures are errors.
func (d *Directory) Contact(ctx context.Context, kind shared.AssigneeKind, id int64) (string, error) {
	sig, ok, err := d.ResolveByID(ctx, kind, id)
	if err != nil {
		return "", fmt.Errorf("signatory: contact for %s %d: %w", kind, id, err)
	}
	if !ok {
		return "", nil
	}
	return strings.TrimSpace(sig.Email), nil
}

type lookupResult struct {
	sig   Signatory
	found bool
}

func (d *Directory) lookup(ctx context.Context, key string, load func(context.Context) (Signatory, error)) (Signatory, bool, error) {
	if sig, found, hit := d.fromCache(ctx, key); hit {
		return sig, found, nil
	}
	v, err, _ := d.group.Do(key, func() (interface{}, error) {
		sig, err := load(ctx)
		if errors.Is(err, ErrNotFound) {
			d.toCache(ctx, key, nil)
			return lookupResult{}, nil
		}
		if err != nil {
			return nil, err
		}
		d.toCache(ctx, key, &sig)
		return lookupResult{sig: sig, found: true}, nil
	})
	if err != nil {
		return Signatory{}, false, err
	}
	res := v.(lookupResult)
	return res.sig, res.found, nil
}

func (d *Directory) fromCache(ctx context.Context, key string) (Signatory, bool, bool) {
	if d.cache == nil {
		return Signatory{}, false, false
	}
	raw, err := d.cache.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			d.logger.Warn("signatory cache get", slog.String("key", key), slog.Any("error", err))
		}
		return Signatory{}, false, false
	}
	if raw == missMarker {
		return Signatory{}, false, true
	}
	var sig Signatory
	if err := json.Unmarshal([]byte(raw), &sig); err != nil {
		return Signatory{}, false, false
	}
	return sig, true, true
}

func (d *Directory) toCache(ctx context.Context, key string, sig *Signatory) {
	if d.cache == nil {
		return
	}
	value := missMarker
	ttl := d.missTTL
	if sig != nil {
		raw, err := json.Marshal(sig)
		if err != nil {
			return
		}
		value = string(raw)
		ttl = d.ttl
	}
	if err := d.cache.Set(ctx, key, value, ttl).Err(); err != nil {
		d.logger.Warn("signatory cache set", slog.String("key", key), slog.Any("error", err))
	}
}

// Invalidate drops every cached lookup, used after the signatory table changes.
func (d *Directory) Invalidate(ctx context.Context) error {
	if d.cache == nil {
		return nil
	}
	iter := d.cache.Scan(ctx, 0, cachePrefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		if err := d.cache.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
