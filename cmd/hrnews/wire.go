package main

import (
	"log"
	"net/http"
	"time"

	"github.com/TobiSchelling/hrnews/internal/aggregate"
	"github.com/TobiSchelling/hrnews/internal/cache"
	"github.com/TobiSchelling/hrnews/internal/collect"
	"github.com/TobiSchelling/hrnews/internal/config"
	"github.com/TobiSchelling/hrnews/internal/database"
	"github.com/TobiSchelling/hrnews/internal/fetch"
	"github.com/TobiSchelling/hrnews/internal/localstore"
	"github.com/TobiSchelling/hrnews/internal/registry"
)

// app holds the wired engine and the resources it owns.
type app struct {
	engine *aggregate.Engine
	db     *database.DB
	redis  *cache.RedisStore
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
}

// build wires config into a ready engine.
func build(c *config.Config) (*app, error) {
	reg, err := registry.New(c.Descriptors())
	if err != nil {
		return nil, err
	}
	creds, err := c.Credentials()
	if err != nil {
		return nil, err
	}
	local := localstore.New(c.Local.Path)

	sources, err := collect.NewSources(reg.All(), collect.Options{
		Client:           &http.Client{Timeout: c.Fetch.Timeout},
		UserAgent:        c.Fetch.UserAgent,
		MaxItems:         c.Fetch.MaxItems,
		SummaryChars:     c.Fetch.SummaryChars,
		MaxBodyBytes:     c.Fetch.MaxBodyBytes,
		SearchWindowDays: c.Search.WindowDays,
		SearchPageSize:   c.Search.PageSize,
		SearchLanguage:   c.Search.Language,
		Credential:       creds.Resolve,
		Local:            local.Articles,
	})
	if err != nil {
		return nil, err
	}

	a := &app{}
	opts := []aggregate.Option{
		aggregate.WithTTL(c.Cache.TTL),
		aggregate.WithServeStale(c.Cache.ServeStale),
		aggregate.WithPassTimeout(c.Fetch.PassTimeout),
	}
	if c.Cache.RedisAddr != "" {
		a.redis = cache.NewRedisStore(c.Cache.RedisAddr, c.Cache.Retention)
		opts = append(opts, aggregate.WithStore(a.redis))
	}
	if c.Enrich.Enabled {
		opts = append(opts, aggregate.WithEnricher(
			fetch.NewContentFetcher(c.Enrich.Timeout, c.Fetch.UserAgent, c.Enrich.MaxPerPass, c.Fetch.SummaryChars)))
	}

	db, err := database.Open(c.DBPath())
	if err != nil {
		log.Printf("Pass history disabled: %v", err)
	} else {
		a.db = db
		opts = append(opts, aggregate.WithRecorder(db))
		if n, err := db.PrunePasses(time.Now().Add(-30 * 24 * time.Hour)); err == nil && n > 0 {
			log.Printf("Pruned %d old passes", n)
		}
	}

	a.engine = aggregate.New(reg, sources, opts...)
	return a, nil
}
