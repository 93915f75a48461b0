/*
Package metrics exposes prometheus collectors for replication activity.

Counters cover certifications, replays, BF aborts, commits, and fragment
traffic (sent and applied, the latter labeled by fragment kind); gauges
track the server state, the number of active streaming appliers, and the
seqno the cluster is paused at. Each collector is incremented from
inside the package whose operation it describes rather than through an
observer layer.

Handler returns the scrape endpoint; Timer is a small helper for timing
one operation into a histogram.
*/
package metrics
