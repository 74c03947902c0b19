// Package queuekit wires a queue engine to one of the supported storage
// backends.
//
// The engine itself lives in pkg/queue and is backend-agnostic. This package
// holds the sealed backend selector: Config names one of the supported
// backend kinds (memory, redis, amqp, kafka) and New constructs the matching
// backend plus an engine on top of it. Unknown kinds fail fast at
// construction, never at dispatch time.
//
//	cfg := queuekit.Config{Backend: queuekit.BackendRedis, RedisURL: "redis://localhost:6379/0"}
//	engine, err := queuekit.New(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Shutdown(context.Background())
package queuekit
