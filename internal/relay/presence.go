package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"shroud/internal/support"
)

const (
	PresenceKeyPrefix       = "shroud:instance:"
	DefaultPresenceInterval = 15 * time.Second
	DefaultPresenceTTL      = 30 * time.Second
)

// Instance describes one running engine sharing the redis relay.
type Instance struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Listen    string    `json:"listen"`
	StartedAt time.Time `json:"started_at"`
}

// Presence keeps this process's heartbeat key alive and lists its peers.
type Presence struct {
	client   *redis.Client
	self     Instance
	interval time.Duration
	ttl      time.Duration
}

func NewPresence(client *redis.Client, self Instance) *Presence {
	if strings.TrimSpace(self.ID) == "" {
		self.ID = support.GetInstanceID()
	}
	if strings.TrimSpace(self.Name) == "" {
		self.Name = self.ID
	}
	if self.StartedAt.IsZero() {
		self.StartedAt = time.Now().UTC()
	}
	return &Presence{
		client:   client,
		self:     self,
		interval: DefaultPresenceInterval,
		ttl:      DefaultPresenceTTL,
	}
}

func (p *Presence) Self() Instance {
	return p.self
}

// Beat writes the heartbeat once.
func (p *Presence) Beat(ctx context.Context) error {
	if p.client == nil {
		return errors.New("relay: redis client is nil")
	}
	value, err := json.Marshal(p.self)
	if err != nil {
		return err
	}
	return p.client.SetEx(ctx, PresenceKeyPrefix+p.self.ID, value, p.ttl).Err()
}

// Run beats every interval until ctx is done, then removes the key.
func (p *Presence) Run(ctx context.Context) {
	beat := func() {
		opCtx, cancel := redisTimeoutCtx(ctx)
		defer cancel()
		if err := p.Beat(opCtx); err != nil {
			log.Error("Failed to update instance heartbeat", "id", p.self.ID, "error", err)
		}
	}
	beat()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			cleanup, cancel := context.WithTimeout(context.Background(), redisRelayTimeout)
			if err := p.client.Del(cleanup, PresenceKeyPrefix+p.self.ID).Err(); err != nil {
				log.Debug("relay: failed to remove heartbeat", "id", p.self.ID, "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			beat()
		}
	}
}

// Peers lists every instance with a live heartbeat, this one included,
// ordered by id.
func (p *Presence) Peers(ctx context.Context) ([]Instance, error) {
	keys, err := p.client.Keys(ctx, PresenceKeyPrefix+"*").Result()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []Instance{}, nil
	}

	values, err := p.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Instance, 0, len(keys))
	for idx, key := range keys {
		inst := Instance{ID: strings.TrimPrefix(key, PresenceKeyPrefix)}
		if inst.ID == "" {
			continue
		}
		if idx < len(values) {
			if raw, ok := values[idx].(string); ok && strings.TrimSpace(raw) != "" {
				var payload Instance
				if err := json.Unmarshal([]byte(raw), &payload); err == nil {
					if id := strings.TrimSpace(payload.ID); id != "" {
						inst.ID = id
					}
					inst.Name = strings.TrimSpace(payload.Name)
					inst.Listen = payload.Listen
					inst.StartedAt = payload.StartedAt
				}
			}
		}
		if inst.Name == "" {
			inst.Name = inst.ID
		}
		out = append(out, inst)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
