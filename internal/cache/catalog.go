// Package cache keeps a Redis copy of the animal catalog so session start
// does not hit MySQL for every visitor.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/kiosk-session-server/internal/model"
)

const catalogKey = "catalog:animals"

// AnimalSource loads the authoritative catalog.
type AnimalSource interface {
	ListActive(ctx context.Context) ([]model.Animal, error)
}

// StaticAnimals serves a fixed catalog when no database is configured.
type StaticAnimals []model.Animal

func (s StaticAnimals) ListActive(context.Context) ([]model.Animal, error) {
	out := make([]model.Animal, 0, len(s))
	for _, a := range s {
		if a.IsActive {
			out = append(out, a)
		}
	}
	return out, nil
}

// DefaultAnimals is the catalog used by the sandbox setup.
var DefaultAnimals = StaticAnimals{
	{ID: "a1", Name: "Cat", ImageURL: "/static/animals/cat.png", IsActive: true},
	{ID: "a2", Name: "Dog", ImageURL: "/static/animals/dog.png", IsActive: true},
	{ID: "a3", Name: "Rabbit", ImageURL: "/static/animals/rabbit.png", IsActive: true},
	{ID: "a4", Name: "Fox", ImageURL: "/static/animals/fox.png", IsActive: true},
}

// Catalog reads through Redis to src.  A nil client disables caching.
type Catalog struct {
	src AnimalSource
	rdb *redis.Client
	ttl time.Duration
	log *log.Logger
}

func NewCatalog(src AnimalSource, rdb *redis.Client, ttl time.Duration, logger *log.Logger) *Catalog {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = log.New("cache")
	}
	return &Catalog{src: src, rdb: rdb, ttl: ttl, log: logger}
}

// Animals returns the active catalog.  Redis failures fall back to src.
func (c *Catalog) Animals(ctx context.Context) ([]model.Animal, error) {
	if c.rdb != nil {
		bs, err := c.rdb.Get(ctx, catalogKey).Bytes()
		switch {
		case err == nil:
			var out []model.Animal
			if json.Unmarshal(bs, &out) == nil {
				return out, nil
			}
		case !errors.Is(err, redis.Nil):
			c.log.Warnj(log.JSON{"msg": "catalog cache read failed", "error": err.Error()})
		}
	}

	animals, err := c.src.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if c.rdb != nil {
		if bs, err := json.Marshal(animals); err == nil {
			if err := c.rdb.Set(ctx, catalogKey, bs, c.ttl).Err(); err != nil {
				c.log.Warnj(log.JSON{"msg": "catalog cache write failed", "error": err.Error()})
			}
		}
	}
	return animals, nil
}

// IDs returns the ids of the active catalog, the snapshot stored on new
// sessions.
func (c *Catalog) IDs(ctx context.Context) ([]string, error) {
	animals, err := c.Animals(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(animals))
	for _, a := range animals {
		ids = append(ids, a.ID)
	}
	return ids, nil
}

// Invalidate drops the cached copy.
func (c *Catalog) Invalidate(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Del(ctx, catalogKey).Err()
}
