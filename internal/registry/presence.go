package registry

import (
	"context"
	"sync"
	"time"

	"tonegate/internal/constants"
	"tonegate/internal/logger"
	"tonegate/pkg/metrics"
)

// Presence is one user's realtime state.
type Presence struct {
	UserID   string    `json:"user_id"`
	TenantID string    `json:"tenant_id"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
	Channels []string  `json:"channels,omitempty"`
}

// PresenceStore tracks who is connected and how recently they were active.
type PresenceStore struct {
	mu      sync.RWMutex
	entries map[string]*Presence

	registry      *Registry
	sweepInterval time.Duration
	maxIdle       time.Duration
	logger        logger.Logger
	now           func() time.Time
}

func NewPresenceStore(reg *Registry, sweepInterval, maxIdle time.Duration, log logger.Logger) *PresenceStore {
	if sweepInterval <= 0 {
		sweepInterval = constants.DefaultPresenceSweepInterval
	}
	if maxIdle <= 0 {
		maxIdle = constants.DefaultPresenceMaxIdle
	}
	return &PresenceStore{
		entries:       make(map[string]*Presence),
		registry:      reg,
		sweepInterval: sweepInterval,
		maxIdle:       maxIdle,
		logger:        log,
		now:           time.Now,
	}
}

// Update sets the user's status and refreshes last-seen. Unknown statuses
// are coerced to online.
func (p *PresenceStore) Update(userID, tenantID, status string) Presence {
	switch status {
	case constants.PresenceOnline, constants.PresenceAway, constants.PresenceBusy, constants.PresenceOffline:
	default:
		status = constants.PresenceOnline
	}

	p.mu.Lock()
	entry, ok := p.entries[userID]
	if !ok {
		entry = &Presence{UserID: userID, TenantID: tenantID}
		p.entries[userID] = entry
	}
	entry.Status = status
	entry.LastSeen = p.now()
	snapshot := *entry
	total := len(p.entries)
	p.mu.Unlock()

	metrics.TrackedPresence.Set(float64(total))
	return snapshot
}

// Touch refreshes last-seen without changing status.
func (p *PresenceStore) Touch(userID string) {
	p.mu.Lock()
	if entry, ok := p.entries[userID]; ok {
		entry.LastSeen = p.now()
	}
	p.mu.Unlock()
}

// Get returns a snapshot of the user's presence, including the channels
// the user has joined.
func (p *PresenceStore) Get(userID string) (Presence, bool) {
	p.mu.RLock()
	entry, ok := p.entries[userID]
	var snapshot Presence
	if ok {
		snapshot = *entry
	}
	p.mu.RUnlock()

	if !ok {
		return Presence{}, false
	}
	snapshot.Channels = p.registry.ChannelsOf(userID)
	return snapshot, true
}

// Sweep removes users that are offline and idle past the threshold, and
// detaches them from their channels. Returns the removed user ids.
func (p *PresenceStore) Sweep() []string {
	cutoff := p.now().Add(-p.maxIdle)

	p.mu.Lock()
	var removed []string
	for id, entry := range p.entries {
		if entry.Status == constants.PresenceOffline && entry.LastSeen.Before(cutoff) {
			delete(p.entries, id)
			removed = append(removed, id)
		}
	}
	total := len(p.entries)
	p.mu.Unlock()

	for _, id := range removed {
		p.registry.LeaveAll(id)
	}

	metrics.TrackedPresence.Set(float64(total))
	return removed
}

// StartSweeper runs Sweep on the configured interval until ctx ends.
func (p *PresenceStore) StartSweeper(ctx context.Context) error {
	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := p.Sweep(); len(removed) > 0 {
				p.logger.Infow("swept stale presence records",
					"count", len(removed),
				)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
