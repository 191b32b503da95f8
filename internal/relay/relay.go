// Package relay carries controller state changes to render-side consumers.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

type Kind string

const (
	KindIdentity   Kind = "identity"
	KindPublicIP   Kind = "public-ip"
	KindPrivacy    Kind = "privacy"
	KindProxy      Kind = "proxy"
	KindNetworkLog Kind = "network-log"
	KindActivity   Kind = "activity"
	KindGeo        Kind = "geo"
)

type Update struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	Time    time.Time       `json:"time"`
	// Origin names the instance that published a remote update. It is empty
	// for updates published in this process.
	Origin string `json:"-"`
}

// Remote reports whether u was published by another instance.
func (u Update) Remote() bool {
	return u.Origin != ""
}

func NewUpdate(kind Kind, v any) (Update, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Update{}, fmt.Errorf("relay: encode %s: %w", kind, err)
	}
	return Update{Kind: kind, Payload: payload, Time: time.Now().UTC()}, nil
}

// Decode unmarshals the payload of u into a T.
func Decode[T any](u Update) (T, error) {
	var v T
	if err := json.Unmarshal(u.Payload, &v); err != nil {
		return v, fmt.Errorf("relay: decode %s: %w", u.Kind, err)
	}
	return v, nil
}

type Publisher interface {
	Publish(ctx context.Context, u Update) error
}

// Subscriber hands out update streams. With kinds given, only updates of
// those kinds are delivered. The returned cancel func releases the
// subscription and closes the channel.
type Subscriber interface {
	Subscribe(buffer int, kinds ...Kind) (<-chan Update, func())
}

type Relay interface {
	Publisher
	Subscriber
	Close() error
}

// Local fans updates out to in-process subscribers. A subscriber that falls
// behind loses updates rather than blocking the publisher.
type Local struct {
	mu     sync.RWMutex
	subs   map[int]*subscription
	nextID int
	closed bool
}

type subscription struct {
	ch    chan Update
	kinds map[Kind]struct{}
}

func (s *subscription) wants(k Kind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

func NewLocal() *Local {
	return &Local{subs: make(map[int]*subscription)}
}

func (l *Local) Publish(ctx context.Context, u Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.deliver(u)
	return nil
}

func (l *Local) deliver(u Update) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for id, sub := range l.subs {
		if !sub.wants(u.Kind) {
			continue
		}
		select {
		case sub.ch <- u:
		default:
			log.Warn("relay: subscriber lagging, dropping update", "subscriber", id, "kind", u.Kind)
		}
	}
}

func (l *Local) Subscribe(buffer int, kinds ...Kind) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Update, buffer)
	sub := &subscription{ch: ch}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := l.nextID
	l.nextID++
	l.subs[id] = sub
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			if existing, ok := l.subs[id]; ok {
				delete(l.subs, id)
				close(existing.ch)
			}
			l.mu.Unlock()
		})
	}
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for id, sub := range l.subs {
		delete(l.subs, id)
		close(sub.ch)
	}
	return nil
}
