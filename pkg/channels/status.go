package channels

import "sync"

// Status is one account gateway's connection snapshot. Snapshots are
// replaced wholesale on every transition so readers never see a
// partially updated record.
type Status struct {
	AccountID      string `json:"account_id"`
	Running        bool   `json:"running"`
	Connected      bool   `json:"connected"`
	BaseURL        string `json:"base_url,omitempty"`
	BotUserID      string `json:"bot_user_id,omitempty"`
	LastError      string `json:"last_error,omitempty"`
	LastStartAt    int64  `json:"last_start_at,omitempty"`
	LastStopAt     int64  `json:"last_stop_at,omitempty"`
	LastInboundAt  int64  `json:"last_inbound_at,omitempty"`
	LastOutboundAt int64  `json:"last_outbound_at,omitempty"`
}

// StatusRegistry stores the latest snapshot per account.
type StatusRegistry interface {
	Get(accountID string) (Status, bool)
	Set(status Status)
	All() map[string]Status
}

// MemoryStatusRegistry is the default in-process registry.
type MemoryStatusRegistry struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

func NewMemoryStatusRegistry() *MemoryStatusRegistry {
	return &MemoryStatusRegistry{statuses: make(map[string]Status)}
}

func (r *MemoryStatusRegistry) Get(accountID string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.statuses[accountID]
	return s, ok
}

func (r *MemoryStatusRegistry) Set(status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[status.AccountID] = status
}

func (r *MemoryStatusRegistry) All() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Status, len(r.statuses))
	for id, s := range r.statuses {
		out[id] = s
	}
	return out
}
