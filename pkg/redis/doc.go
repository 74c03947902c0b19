// Package redis provides connection helpers for the Redis-backed queue
// storage.
//
// Connect retries until the server answers a ping or the configured attempts
// are exhausted, which covers containerized setups where Redis starts
// alongside the application. Healthcheck returns a probe function suitable
// for liveness and readiness endpoints.
//
// Config fields carry env tags so they can be populated with
// github.com/caarlos0/env:
//
//	var cfg redis.Config
//	if err := env.Parse(&cfg); err != nil {
//	    log.Fatal(err)
//	}
//	client, err := redis.Connect(ctx, cfg)
package redis
