// Package redis implements store.Store on Redis using go-redis/v9.
//
// Runs, checkpoints, and events are Redis Hashes. Checkpoint write order is
// kept in a per-run Sorted Set, pending events in a per-(run, name) List,
// and correlation records are JSON strings written with SETNX so an
// existing key is never overwritten.
//
// The caller owns the client lifecycle; Close never closes it:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
