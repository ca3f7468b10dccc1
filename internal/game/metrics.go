package game

import "sync/atomic"

// Metrics counts the ingest and broadcast outcomes worth watching in
// production. Exposed on the /stats endpoint.
type Metrics struct {
	MovesAccepted      atomic.Int64
	RateLimited        atomic.Int64
	IdentityViolations atomic.Int64
	MalformedDropped   atomic.Int64
	BatchesFlushed     atomic.Int64
	MessagesBatched    atomic.Int64
	ChatRelayed        atomic.Int64
}

// Snapshot returns a read-only copy for HTTP output.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"moves_accepted":      m.MovesAccepted.Load(),
		"rate_limited":        m.RateLimited.Load(),
		"identity_violations": m.IdentityViolations.Load(),
		"malformed_dropped":   m.MalformedDropped.Load(),
		"batches_flushed":     m.BatchesFlushed.Load(),
		"messages_batched":    m.MessagesBatched.Load(),
		"chat_relayed":        m.ChatRelayed.Load(),
	}
}
