// Package surface computes the values every environment-reporting surface
// reports to a page, and installs them on a host.
//
// All reads go through one immutable snapshot that is swapped atomically, so
// a reader never observes a half-applied profile and re-applying a profile
// never stacks overrides.
package surface

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"shroud/internal/identity"
	"shroud/internal/noise"
	"shroud/internal/privacy"
	"shroud/internal/relay"
)

var ErrSurfaceUnavailable = errors.New("surface not available on host")

// Snapshot is the state every surface reads from.
type Snapshot struct {
	Profile  identity.Profile
	Privacy  privacy.Settings
	PublicIP string
	Seed     uint32
	Version  uint64
}

type Adapter struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]

	rtcInitialized atomic.Bool
	offerRejected  atomic.Bool
}

// New builds an adapter with a fresh session seed.
func New(profile identity.Profile, settings privacy.Settings) *Adapter {
	return NewWithSeed(profile, settings, noise.NewSessionSeed())
}

func NewWithSeed(profile identity.Profile, settings privacy.Settings, seed uint32) *Adapter {
	a := &Adapter{}
	a.current.Store(&Snapshot{Profile: profile.Clone(), Privacy: settings, Seed: seed, Version: 1})
	return a
}

func (a *Adapter) Snapshot() *Snapshot {
	return a.current.Load()
}

func (a *Adapter) Apply(profile identity.Profile) {
	a.update(func(s *Snapshot) {
		s.Profile = profile.Clone()
		s.Profile.Webdriver = false
	})
}

func (a *Adapter) SetPrivacy(settings privacy.Settings) {
	a.update(func(s *Snapshot) { s.Privacy = settings })
}

func (a *Adapter) SetPublicIP(ip string) {
	if ip == "" {
		return
	}
	a.update(func(s *Snapshot) { s.PublicIP = ip })
}

func (a *Adapter) update(fn func(*Snapshot)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := *a.current.Load()
	fn(&next)
	next.Version++
	a.current.Store(&next)
}

// Installer pushes one surface's values onto a host.
type Installer interface {
	Name() string
	Install(ctx context.Context, snap *Snapshot) error
}

// Host exposes the surfaces it can override.
type Host interface {
	Installers() []Installer
}

// ApplyTo installs the current snapshot on every surface of host. Surfaces
// the host lacks are skipped; other failures are collected.
func (a *Adapter) ApplyTo(ctx context.Context, host Host) error {
	snap := a.Snapshot()
	var errs []error
	for _, inst := range host.Installers() {
		err := inst.Install(ctx, snap)
		switch {
		case err == nil:
		case errors.Is(err, ErrSurfaceUnavailable):
			log.Debug("surface skipped", "surface", inst.Name(), "reason", err)
		default:
			log.Warn("surface override failed", "surface", inst.Name(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Follow applies this process's identity, public address and privacy
// updates from sub until ctx ends. Updates published by other instances are
// ignored. onApplied, if set, runs on its own goroutine after updates are
// applied; while it is busy, further updates coalesce into one more call.
func (a *Adapter) Follow(ctx context.Context, sub relay.Subscriber, onApplied func(relay.Kind)) {
	updates, cancel := sub.Subscribe(64, relay.KindIdentity, relay.KindPublicIP, relay.KindPrivacy)
	defer cancel()

	refresh := make(chan relay.Kind, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for kind := range refresh {
			if onApplied != nil {
				onApplied(kind)
			}
		}
	}()
	defer func() {
		close(refresh)
		<-done
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Remote() {
				log.Debug("surface: ignoring remote update", "kind", u.Kind, "origin", u.Origin)
				continue
			}
			if !a.applyUpdate(u) {
				continue
			}
			select {
			case refresh <- u.Kind:
			default:
			}
		}
	}
}

func (a *Adapter) applyUpdate(u relay.Update) bool {
	switch u.Kind {
	case relay.KindIdentity:
		p, err := relay.Decode[identity.Profile](u)
		if err != nil {
			log.Warn("surface: bad identity update", "error", err)
			return false
		}
		a.Apply(p)
	case relay.KindPublicIP:
		ip, err := relay.Decode[string](u)
		if err != nil {
			log.Warn("surface: bad public ip update", "error", err)
			return false
		}
		a.SetPublicIP(ip)
	case relay.KindPrivacy:
		s, err := relay.Decode[privacy.Settings](u)
		if err != nil {
			log.Warn("surface: bad privacy update", "error", err)
			return false
		}
		a.SetPrivacy(s)
	default:
		return false
	}
	return true
}
