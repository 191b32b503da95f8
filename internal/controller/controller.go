// Package controller owns the engine state and serialises every change to it
// through one goroutine.
package controller

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"shroud/internal/filter"
	"shroud/internal/geo"
	"shroud/internal/identity"
	"shroud/internal/metrics"
	"shroud/internal/netlog"
	"shroud/internal/privacy"
	"shroud/internal/proxy"
	"shroud/internal/relay"
	"shroud/internal/ringlog"
)

var (
	ErrStopped        = errors.New("controller stopped")
	ErrNoDataClearer  = errors.New("host cannot clear browsing data")
	ErrInvalidRequest = errors.New("invalid request")
)

const (
	defaultActivityCapacity = 20
	commandQueueSize        = 64
	publishTimeout          = 5 * time.Second
)

// DataClearer drops cookies, storage and caches of the browsing session.
type DataClearer interface {
	ClearData(ctx context.Context) error
}

// ClientSource yields the HTTP client of the live session.
type ClientSource interface {
	Client() *http.Client
}

type Deps struct {
	Manager *proxy.Manager
	Session ClientSource
	Prober  proxy.Prober
	NetLog  *netlog.Log

	// Optional.
	Publisher relay.Publisher
	Clearer   DataClearer
	Pipeline  *filter.Pipeline
	Metrics   *metrics.Metrics
}

type Options struct {
	ActivityCapacity int
	Profile          *identity.Profile
	Privacy          *privacy.Settings
	Rand             *rand.Rand
}

// State is the full engine view handed to the control surface.
type State struct {
	Profile  identity.Profile `json:"spoof"`
	Privacy  privacy.Settings `json:"privacy"`
	Proxy    proxy.Status     `json:"proxy"`
	Profiles proxy.Document   `json:"proxyProfiles"`
	Geo      geo.Result       `json:"geo"`
	Activity []ActivityEntry  `json:"logs"`
	Network  []netlog.Entry   `json:"network"`
}

type command func(ctx context.Context)

type Controller struct {
	deps Deps
	rng  *rand.Rand

	cmds    chan command
	stopped chan struct{}
	started atomic.Bool
	runCtx  context.Context

	// Owned by the loop goroutine.
	profile identity.Profile
	privacy privacy.Settings
	geo     geo.Result

	activity *ringlog.Ring[ActivityEntry]
	filterSt atomic.Pointer[filter.State]
}

func New(deps Deps, opts Options) *Controller {
	if opts.ActivityCapacity <= 0 {
		opts.ActivityCapacity = defaultActivityCapacity
	}
	if opts.Rand == nil {
		opts.Rand = identity.NewRand(nil)
	}
	if deps.NetLog == nil {
		deps.NetLog = netlog.New(netlog.DefaultCapacity)
	}

	c := &Controller{
		deps:     deps,
		rng:      opts.Rand,
		cmds:     make(chan command, commandQueueSize),
		stopped:  make(chan struct{}),
		runCtx:   context.Background(),
		activity: ringlog.New[ActivityEntry](opts.ActivityCapacity),
	}
	if opts.Profile != nil {
		c.profile = opts.Profile.Clone()
	} else {
		c.profile = identity.Generate(c.rng)
	}
	if opts.Privacy != nil {
		c.privacy = *opts.Privacy
	} else {
		c.privacy = privacy.Default()
	}
	c.commitFilterState()

	if deps.Manager != nil {
		deps.Manager.SetHooks(proxy.Hooks{
			OnState: func(s proxy.State) {
				if deps.Metrics != nil {
					deps.Metrics.ProxyState(s.String())
				}
			},
			OnAttempt: func(err error) {
				if deps.Metrics != nil {
					deps.Metrics.VerifyAttempt(err == nil)
				}
			},
		})
	}
	deps.NetLog.OnAppend(func(e netlog.Entry) {
		c.publish(relay.KindNetworkLog, e)
	})
	return c
}

// Run processes commands until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("controller already running")
	}
	c.runCtx = ctx
	defer close(c.stopped)

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-c.cmds:
			cmd(ctx)
		}
	}
}

// do runs fn on the loop goroutine and waits for it.
func (c *Controller) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func(context.Context) {
		defer close(done)
		fn()
	}
	select {
	case c.cmds <- wrapped:
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn without waiting. Used to hand async results back.
func (c *Controller) post(fn func()) {
	select {
	case c.cmds <- func(context.Context) { fn() }:
	case <-c.stopped:
	}
}

// Snapshot satisfies filter.StateSource. It never blocks on the loop.
func (c *Controller) Snapshot() filter.State {
	return *c.filterSt.Load()
}

func (c *Controller) commitFilterState() {
	st := filter.State{Profile: c.profile.Clone(), Privacy: c.privacy}
	c.filterSt.Store(&st)
}

func (c *Controller) State(ctx context.Context) (State, error) {
	var st State
	err := c.do(ctx, func() {
		st = State{
			Profile:  c.profile.Clone(),
			Privacy:  c.privacy,
			Geo:      c.geo,
			Activity: c.activity.Snapshot(),
			Network:  c.deps.NetLog.Entries(),
		}
		if c.deps.Manager != nil {
			st.Proxy = c.deps.Manager.Status()
			st.Profiles = c.deps.Manager.Profiles()
		}
	})
	return st, err
}

func (c *Controller) publish(kind relay.Kind, v any) {
	if c.deps.Publisher == nil {
		return
	}
	u, err := relay.NewUpdate(kind, v)
	if err != nil {
		log.Warn("controller: failed to encode update", "kind", kind, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := c.deps.Publisher.Publish(ctx, u); err != nil {
		log.Warn("controller: failed to publish update", "kind", kind, "error", err)
		return
	}
	if c.deps.Metrics != nil {
		c.deps.Metrics.RelayUpdate(string(kind))
	}
}
