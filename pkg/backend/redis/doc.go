// Package redis implements the queue backend on Redis sorted structures.
//
// Layout per queue (all keys namespaced by a configurable prefix):
//
//	{prefix}{queue}:pending    list, FIFO of ready job ids
//	{prefix}{queue}:delayed    sorted set, score = due time (unix ms)
//	{prefix}{queue}:priority   sorted set, score = negated priority + enqueue time
//	{prefix}{queue}:active     set of claimed job ids
//	{prefix}{queue}:completed  set of completed job ids
//	{prefix}{queue}:failed     set of failed job ids
//	{prefix}{queue}:meta       hash, queue metadata (paused flag)
//	{prefix}{queue}:job:{id}       job record (JSON)
//	{prefix}{queue}:job:{id}:logs  list of log lines
//
// Fetching is a single Lua script that promotes due delayed jobs, pops the
// priority set before the pending list, and moves the claimed id into the
// active set. The claim is atomic, so concurrent fetchers from any process
// never receive the same job.
//
// Alongside the in-memory backend this is the only variant with full random
// access: GetJob, GetJobs, and RemoveJob are all supported.
package redis
