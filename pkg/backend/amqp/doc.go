// Package amqp implements the queue backend on an AMQP 0-9-1 broker
// (RabbitMQ).
//
// Each logical queue maps to one broker queue "{prefix}{queue}" declared with
// a bounded priority range (x-max-priority) and a dead-letter exchange
// "{prefix}{queue}.dlx" bound to "{prefix}{queue}.dlq". Delay is not
// application polling: delayed jobs are published to "{prefix}{queue}.delayed"
// with a per-message TTL, and that queue's dead-letter routing redelivers the
// expired message into the real queue.
//
// The broker has no addressable message lookup, so GetJob, GetJobs,
// RemoveJob, UpdateProgress, and AddLog return queue.ErrUnsupported.
package amqp
