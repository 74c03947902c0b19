// Package kafka implements the queue backend on an append-only partitioned
// log with consumer-group offset tracking.
//
// Each logical queue maps to the topic "{prefix}{queue}"; failed jobs are
// copied to the sibling topic "{prefix}{queue}.dlq". Job metadata rides in
// message headers ("processAfter", "priority", "attempts") and is advisory:
// the transport enforces neither delay nor priority. A fetched message whose
// processAfter lies in the future is held back without committing its offset,
// and fetching from that queue pauses until the held message comes due; with
// one partition per topic no later commit can then advance the group offset
// past the held record. Completion commits the consumed offset; failure
// writes the dead-letter copy first and then commits, so the original is
// never replayed.
//
// The log has no addressable storage, so GetJob, GetJobs, RemoveJob,
// UpdateProgress, AddLog, and EmptyQueue return queue.ErrUnsupported.
package kafka
