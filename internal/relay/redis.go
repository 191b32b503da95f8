package relay

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"shroud/internal/support"
)

const (
	redisRelayChannel = "shroud:relay:updates"
	redisRelayTimeout = 5 * time.Second
)

type envelope struct {
	Origin string `json:"origin"`
	Update Update `json:"update"`
}

// Redis mirrors updates across processes through Redis pub/sub. Local
// subscribers see their own process's updates immediately; remote updates
// arrive through the channel subscription.
type Redis struct {
	*Local
	client *redis.Client
	origin string
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedis subscribes to the relay channel. An empty origin uses the
// process instance id.
func NewRedis(ctx context.Context, client *redis.Client, origin string) (*Redis, error) {
	if client == nil {
		return nil, errors.New("relay: redis client is nil")
	}
	if origin == "" {
		origin = support.GetInstanceID()
	}
	syncCtx, cancel := context.WithCancel(ctx)

	pubsub := client.Subscribe(syncCtx, redisRelayChannel)
	// Block until the subscription is confirmed.
	if _, err := pubsub.Receive(syncCtx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, err
	}

	r := &Redis{
		Local:  NewLocal(),
		client: client,
		origin: origin,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go r.receive(syncCtx, pubsub)
	return r, nil
}

func (r *Redis) Publish(ctx context.Context, u Update) error {
	r.Local.deliver(u)

	payload, err := json.Marshal(envelope{Origin: r.origin, Update: u})
	if err != nil {
		return err
	}
	opCtx, cancel := redisTimeoutCtx(ctx)
	defer cancel()
	return r.client.Publish(opCtx, redisRelayChannel, payload).Err()
}

func (r *Redis) receive(ctx context.Context, pubsub *redis.PubSub) {
	defer close(r.done)
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.Error("relay: subscription error", "error", err)
			time.Sleep(time.Second)
			continue
		}

		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Error("relay: invalid payload", "error", err)
			continue
		}
		if env.Origin == r.origin {
			continue
		}
		env.Update.Origin = env.Origin
		r.Local.deliver(env.Update)
		log.Debug("relay: remote update", "kind", env.Update.Kind, "origin", env.Origin)
	}
}

func (r *Redis) Close() error {
	r.cancel()
	<-r.done
	return r.Local.Close()
}

func redisTimeoutCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= redisRelayTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, redisRelayTimeout)
}
