// Package store defines the aggregate persistence interface.
//
// Each subsystem (job, dlq, ratelimit) defines its own store interface.
// The composite [Store] composes them all. A single backend need only
// implement Store to satisfy every subsystem's persistence contract.
//
// # Available Backends
//
//   - store/redis — Redis backend, the production default
//   - store/memory — in-memory store for development and testing
//
// # Usage
//
//	import "github.com/gameforge/forgeq/store/redis"
//
//	s, err := redis.New("redis://localhost:6379/0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	mgr := queue.New(s, queue.WithDLQ(dlq.NewService(s)))
package store
