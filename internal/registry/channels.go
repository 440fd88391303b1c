package registry

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"tonegate/internal/constants"
	"tonegate/internal/logger"
	apperrors "tonegate/pkg/errors"
	"tonegate/pkg/metrics"
)

const shardCount = 32

// DefaultChannels exist on every instance from startup.
var DefaultChannels = []string{"general", "notifications", "transformations"}

// Channel is one named distribution scope. Members receive channel-scoped
// events; the permission set gates private and direct channels.
type Channel struct {
	Name        string
	Visibility  string
	Members     map[string]struct{}
	Permissions map[string]struct{}
	CreatedAt   time.Time
	Metadata    map[string]string
}

type channelShard struct {
	mu       sync.RWMutex
	channels map[string]*Channel
}

// Registry holds channels in a sharded map so unrelated channels never
// contend on one lock.
type Registry struct {
	shards [shardCount]*channelShard
	logger logger.Logger
}

func New(log logger.Logger, defaults []string) *Registry {
	r := &Registry{logger: log}
	for i := range r.shards {
		r.shards[i] = &channelShard{channels: make(map[string]*Channel)}
	}
	if defaults == nil {
		defaults = DefaultChannels
	}
	for _, name := range defaults {
		r.ensureChannel(name, constants.VisibilityPublic)
	}
	return r
}

func (r *Registry) shardFor(name string) *channelShard {
	h := fnv.New32a()
	h.Write([]byte(name))
	return r.shards[h.Sum32()%shardCount]
}

func (r *Registry) ensureChannel(name, visibility string) *Channel {
	shard := r.shardFor(name)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if ch, ok := shard.channels[name]; ok {
		return ch
	}
	ch := &Channel{
		Name:        name,
		Visibility:  visibility,
		Members:     make(map[string]struct{}),
		Permissions: make(map[string]struct{}),
		CreatedAt:   time.Now(),
	}
	shard.channels[name] = ch
	metrics.ChannelCount.Inc()
	return ch
}

// CreateChannel registers a channel with explicit visibility. Creating an
// existing channel is a no-op.
func (r *Registry) CreateChannel(name, visibility string) {
	r.ensureChannel(name, visibility)
}

// ValidateAccess reports whether userID may subscribe to the channel.
// Unknown channels are created public on first touch. Private and direct
// channels need membership, an explicit grant, or the wildcard grant.
func (r *Registry) ValidateAccess(userID, name string) error {
	shard := r.shardFor(name)
	shard.mu.RLock()
	ch, ok := shard.channels[name]
	if !ok {
		shard.mu.RUnlock()
		r.ensureChannel(name, constants.VisibilityPublic)
		return nil
	}
	defer shard.mu.RUnlock()

	if ch.Visibility == constants.VisibilityPublic {
		return nil
	}
	if _, member := ch.Members[userID]; member {
		return nil
	}
	if _, granted := ch.Permissions[userID]; granted {
		return nil
	}
	if _, wildcard := ch.Permissions[constants.WildcardGrant]; wildcard {
		return nil
	}

	r.logger.Debugw("channel access denied",
		"user_id", userID,
		"channel", name,
		"visibility", ch.Visibility,
	)
	return apperrors.ErrAccessDenied.WithDetail("channel", name)
}

// Grant allows userID into a non-public channel. The wildcard grant "*"
// admits everyone.
func (r *Registry) Grant(name, userID string) {
	shard := r.shardFor(name)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if ch, ok := shard.channels[name]; ok {
		ch.Permissions[userID] = struct{}{}
	}
}

func (r *Registry) Revoke(name, userID string) {
	shard := r.shardFor(name)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if ch, ok := shard.channels[name]; ok {
		delete(ch.Permissions, userID)
		delete(ch.Members, userID)
	}
}

// Join adds userID to the channel member set after an access check.
func (r *Registry) Join(name, userID string) error {
	if err := r.ValidateAccess(userID, name); err != nil {
		return err
	}

	shard := r.shardFor(name)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if ch, ok := shard.channels[name]; ok {
		ch.Members[userID] = struct{}{}
	}
	return nil
}

func (r *Registry) Leave(name, userID string) {
	shard := r.shardFor(name)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if ch, ok := shard.channels[name]; ok {
		delete(ch.Members, userID)
	}
}

// Members returns a sorted snapshot of the channel's member set.
func (r *Registry) Members(name string) []string {
	shard := r.shardFor(name)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	ch, ok := shard.channels[name]
	if !ok {
		return nil
	}
	members := make([]string, 0, len(ch.Members))
	for id := range ch.Members {
		members = append(members, id)
	}
	sort.Strings(members)
	return members
}

// ChannelsOf returns a sorted snapshot of the channels userID has joined.
func (r *Registry) ChannelsOf(userID string) []string {
	var joined []string
	for _, shard := range r.shards {
		shard.mu.RLock()
		for name, ch := range shard.channels {
			if _, ok := ch.Members[userID]; ok {
				joined = append(joined, name)
			}
		}
		shard.mu.RUnlock()
	}
	sort.Strings(joined)
	return joined
}

// LeaveAll removes userID from every channel. Used when presence sweeping
// evicts a stale user or a connection closes for good.
func (r *Registry) LeaveAll(userID string) {
	for _, shard := range r.shards {
		shard.mu.Lock()
		for _, ch := range shard.channels {
			delete(ch.Members, userID)
		}
		shard.mu.Unlock()
	}
}
