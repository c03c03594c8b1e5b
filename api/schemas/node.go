package schemas

import "time"

// -- Pool Models --

// Node is one pooled identity plus its usage and health bookkeeping. Nodes
// are owned by a pool manager and mutated in place on every selection and
// result report; values handed to callers are always defensive copies.
type Node struct {
	ID            string             `json:"id"`
	Identity      IdentityComponents `json:"identity"`
	Fingerprint   *Fingerprint       `json:"fingerprint,omitempty"`
	Region        string             `json:"region"`
	RequestCount  int                `json:"request_count"`
	ErrorCount    int                `json:"error_count"`
	SuccessRate   float64            `json:"success_rate"`
	CreatedAt     time.Time          `json:"created_at"`
	LastUsedAt    time.Time          `json:"last_used_at"`
	CooldownUntil time.Time          `json:"cooldown_until"`
	Active        bool               `json:"active"`
	Metadata      map[string]string  `json:"metadata,omitempty"`
}

// Clone returns a deep copy safe to hand outside the pool.
func (n *Node) Clone() Node {
	out := *n
	if n.Fingerprint != nil {
		fp := Fingerprint{ID: n.Fingerprint.ID, Data: make(map[string]any, len(n.Fingerprint.Data))}
		for k, v := range n.Fingerprint.Data {
			fp.Data[k] = v
		}
		out.Fingerprint = &fp
	}
	if n.Metadata != nil {
		out.Metadata = make(map[string]string, len(n.Metadata))
		for k, v := range n.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// SelectionMetadata describes how a selection was made.
type SelectionMetadata struct {
	Strategy          string    `json:"strategy"`
	AvailableNodes    int       `json:"available_nodes"`
	SelectedAt        time.Time `json:"selected_at"`
	EmergencyRotation bool      `json:"emergency_rotation"`
}

// Selection is the answer to one GetNextNode call: the chosen node, how long
// the caller should wait before using it, and up to three alternates drawn
// from the same candidate set.
type Selection struct {
	Node             Node              `json:"node"`
	RecommendedDelay time.Duration     `json:"recommended_delay"`
	Confidence       float64           `json:"confidence"`
	Alternatives     []Node            `json:"alternatives,omitempty"`
	Metadata         SelectionMetadata `json:"metadata"`
}

// PoolMetrics are process-wide counters for one pool manager instance. They
// accumulate until explicitly reset. RequestsPerSecond is instantaneous,
// derived from the gap to the previous request rather than a trailing
// average.
type PoolMetrics struct {
	TotalRequests     int64         `json:"total_requests"`
	Successes         int64         `json:"successes"`
	Failures          int64         `json:"failures"`
	ActiveNodes       int           `json:"active_nodes"`
	AvgResponseTime   time.Duration `json:"avg_response_time"`
	RequestsPerSecond float64       `json:"requests_per_second"`
}
