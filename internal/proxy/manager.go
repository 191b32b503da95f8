package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"shroud/internal/geo"
	"shroud/internal/session"
)

type State int

const (
	Disabled State = iota
	Applying
	Active
	Verifying
	Failed
)

func (s State) String() string {
	switch s {
	case Applying:
		return "applying"
	case Active:
		return "active"
	case Verifying:
		return "verifying"
	case Failed:
		return "failed"
	default:
		return "disabled"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	ErrNoConfig         = errors.New("no proxy configured")
	ErrVerifySuperseded = errors.New("proxy configuration changed during verification")
)

// Session is the egress rule capability of a network session.
type Session interface {
	SetRoute(ctx context.Context, r session.Route) error
	ClearRoute(ctx context.Context) error
	Client() *http.Client
}

// Prober performs the IP identification round trip.
type Prober interface {
	Lookup(ctx context.Context, client *http.Client) (geo.Result, error)
}

// Store persists the profile document as a whole.
type Store interface {
	Load(ctx context.Context) (Document, error)
	Save(ctx context.Context, doc Document) error
}

type Options struct {
	Attempts     int
	RetryDelay   time.Duration
	ProbeTimeout time.Duration
	// NewIsolated builds the throwaway session used by TestConnection.
	NewIsolated func() Session
}

type Hooks struct {
	OnState   func(State)
	OnAttempt func(err error)
}

type Status struct {
	State     State   `json:"state"`
	Config    *Config `json:"config,omitempty"`
	ActiveID  string  `json:"activeId,omitempty"`
	LastError string  `json:"lastError,omitempty"`
}

type TestResult struct {
	OK      bool   `json:"ok"`
	IP      string `json:"ip,omitempty"`
	Country string `json:"country,omitempty"`
	Error   string `json:"error,omitempty"`
}

var sleepFunc = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type Manager struct {
	sess   Session
	prober Prober
	store  Store
	opts   Options
	hooks  Hooks

	mu         sync.Mutex
	state      State
	cfg        *Config
	doc        Document
	generation uint64
	lastErr    string
}

func NewManager(sess Session, prober Prober, store Store, opts Options) *Manager {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 1500 * time.Millisecond
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 8 * time.Second
	}
	if opts.NewIsolated == nil {
		opts.NewIsolated = func() Session { return session.New("proxy-test") }
	}
	return &Manager{sess: sess, prober: prober, store: store, opts: opts}
}

func (m *Manager) SetHooks(h Hooks) {
	m.mu.Lock()
	m.hooks = h
	m.mu.Unlock()
}

// Load reads the persisted profiles and re-selects the active one. A store
// failure leaves an empty profile list.
func (m *Manager) Load(ctx context.Context) error {
	doc, err := m.store.Load(ctx)
	if err != nil {
		log.Warn("proxy: failed to load profiles", "error", err)
		doc = Document{}
	}

	m.mu.Lock()
	m.doc = doc.Clone()
	activeID := m.doc.ActiveID
	m.mu.Unlock()

	if activeID == "" {
		return err
	}
	if _, ok := doc.Find(activeID); !ok {
		m.mu.Lock()
		m.doc.ActiveID = ""
		m.mu.Unlock()
		return err
	}
	if selErr := m.Select(ctx, activeID); selErr != nil {
		return errors.Join(err, selErr)
	}
	return err
}

// SetConfig validates and applies in. Invalid input leaves every piece of
// state as it was. An input without a host clears the proxy.
func (m *Manager) SetConfig(ctx context.Context, in Input) (*Config, error) {
	if in.IsClear() {
		return nil, m.Clear(ctx)
	}
	cfg, err := BuildConfig(in)
	if err != nil {
		log.Error("proxy: rejected configuration", "error", err)
		return nil, err
	}
	return cfg, m.install(ctx, cfg)
}

// Replace installs an already decoded configuration after re-validating it.
func (m *Manager) Replace(ctx context.Context, cfg *Config) error {
	if cfg == nil {
		return m.Clear(ctx)
	}
	validated, err := Revalidate(*cfg)
	if err != nil {
		log.Error("proxy: rejected imported configuration", "error", err)
		return err
	}
	return m.install(ctx, validated)
}

// Clear removes the configuration and the active profile reference.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.cfg = nil
	m.doc.ActiveID = ""
	m.generation++
	doc := m.doc.Clone()
	m.mu.Unlock()

	applyErr := m.Apply(ctx, nil)
	return errors.Join(applyErr, m.persist(ctx, doc))
}

func (m *Manager) install(ctx context.Context, cfg *Config) error {
	m.mu.Lock()
	m.cfg = cfg
	m.generation++
	m.mu.Unlock()
	return m.Apply(ctx, cfg)
}

// Apply pushes cfg to the session, or clears the session rules for nil.
// Failures are logged and leave the manager in Failed.
func (m *Manager) Apply(ctx context.Context, cfg *Config) error {
	if cfg == nil {
		err := m.sess.ClearRoute(ctx)
		if err != nil {
			log.Error("proxy: failed to disable proxy", "error", err)
			m.transition(Failed, err)
			return err
		}
		log.Info("proxy disabled")
		m.transition(Disabled, nil)
		return nil
	}

	m.transition(Applying, nil)
	if err := m.sess.SetRoute(ctx, cfg.Route()); err != nil {
		log.Error("proxy: failed to apply proxy", "proxy", cfg.URL(), "error", err)
		m.transition(Failed, err)
		return err
	}
	log.Info("proxy applied", "proxy", cfg.URL(), "bypass", len(cfg.BypassList()))
	return nil
}

// Verify checks connectivity through the configured proxy. It makes up to
// Attempts round trips spaced by RetryDelay, each bounded by ProbeTimeout.
// When the last failure looks like a dead proxy the manager reverts to no
// proxy and drops the active profile reference.
func (m *Manager) Verify(ctx context.Context) (geo.Result, error) {
	m.mu.Lock()
	cfg := m.cfg
	gen := m.generation
	m.mu.Unlock()

	if cfg == nil {
		return geo.Result{}, ErrNoConfig
	}
	m.transition(Verifying, nil)

	res, err := m.probe(ctx, m.sess.Client(), m.opts.Attempts)

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		log.Debug("proxy: discarding stale verification", "proxy", cfg.URL())
		return res, ErrVerifySuperseded
	}
	m.mu.Unlock()

	if err == nil {
		log.Info("proxy verified", "proxy", cfg.URL(), "ip", res.IP, "country", res.CountryCode)
		m.transition(Active, nil)
		return res, nil
	}

	if IsConnectionFailure(err) {
		log.Warn("proxy unreachable, reverting to direct connection", "proxy", cfg.URL(), "error", err)
		m.revert(ctx, gen, err)
		return res, err
	}

	log.Error("proxy verification failed", "proxy", cfg.URL(), "attempts", m.opts.Attempts, "error", err)
	m.transition(Failed, err)
	return res, err
}

func (m *Manager) revert(ctx context.Context, gen uint64, cause error) {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return
	}
	m.cfg = nil
	m.doc.ActiveID = ""
	m.generation++
	doc := m.doc.Clone()
	m.mu.Unlock()

	if err := m.sess.ClearRoute(ctx); err != nil {
		log.Error("proxy: failed to clear rules during revert", "error", err)
	}
	_ = m.persist(ctx, doc)
	m.transition(Disabled, cause)
}

// TestConnection probes in through a fresh session. Manager state and the
// live session are never touched.
func (m *Manager) TestConnection(ctx context.Context, in Input) TestResult {
	cfg, err := BuildConfig(in)
	if err != nil {
		return TestResult{Error: err.Error()}
	}

	iso := m.opts.NewIsolated()
	if closer, ok := iso.(interface{ Close() }); ok {
		defer closer.Close()
	}
	if err := iso.SetRoute(ctx, cfg.Route()); err != nil {
		return TestResult{Error: err.Error()}
	}

	res, err := m.probe(ctx, iso.Client(), 1)
	if err != nil {
		return TestResult{Error: err.Error()}
	}
	return TestResult{OK: true, IP: res.IP, Country: res.CountryName}
}

func (m *Manager) probe(ctx context.Context, client *http.Client, attempts int) (geo.Result, error) {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
		res, err := m.prober.Lookup(attemptCtx, client)
		cancel()

		m.mu.Lock()
		onAttempt := m.hooks.OnAttempt
		m.mu.Unlock()
		if onAttempt != nil {
			onAttempt(err)
		}

		if err == nil {
			return res, nil
		}
		lastErr = err
		log.Debug("proxy probe failed", "attempt", attempt, "of", attempts, "error", err)

		if attempt < attempts {
			if sleepErr := sleepFunc(ctx, m.opts.RetryDelay); sleepErr != nil {
				return geo.Result{}, fmt.Errorf("%w (after %d attempts)", lastErr, attempt)
			}
		}
	}
	return geo.Result{}, lastErr
}

// SaveProfile validates in, stores it as the newest profile and makes it
// active.
func (m *Manager) SaveProfile(ctx context.Context, name string, in Input) (Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Profile{}, ErrInvalidProfileName
	}
	cfg, err := BuildConfig(in)
	if err != nil {
		log.Error("proxy: rejected profile", "name", name, "error", err)
		return Profile{}, err
	}

	profile := Profile{ID: uuid.NewString(), Name: name, Config: *cfg}

	m.mu.Lock()
	m.doc.Profiles = append([]Profile{profile}, m.doc.Profiles...)
	m.doc.ActiveID = profile.ID
	active := *cfg
	m.cfg = &active
	m.generation++
	doc := m.doc.Clone()
	m.mu.Unlock()

	applyErr := m.Apply(ctx, &active)
	return profile, errors.Join(applyErr, m.persist(ctx, doc))
}

// Select makes a stored profile the active configuration and applies it.
func (m *Manager) Select(ctx context.Context, id string) error {
	m.mu.Lock()
	profile, ok := m.doc.Find(id)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProfileNotFound, id)
	}
	m.doc.ActiveID = id
	active := profile.Config
	active.BypassRules = append([]string(nil), profile.Config.BypassRules...)
	m.cfg = &active
	m.generation++
	doc := m.doc.Clone()
	m.mu.Unlock()

	applyErr := m.Apply(ctx, &active)
	return errors.Join(applyErr, m.persist(ctx, doc))
}

// Delete removes a profile. Deleting the active profile only drops the
// reference; the applied configuration stays in place.
func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	kept := m.doc.Profiles[:0:0]
	for _, p := range m.doc.Profiles {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	removed := len(kept) != len(m.doc.Profiles)
	m.doc.Profiles = kept
	if m.doc.ActiveID == id {
		m.doc.ActiveID = ""
	}
	doc := m.doc.Clone()
	m.mu.Unlock()

	if !removed {
		return false, nil
	}
	return true, m.persist(ctx, doc)
}

func (m *Manager) Profiles() Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.Clone()
}

func (m *Manager) Current() *Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg == nil {
		return nil
	}
	cfg := *m.cfg
	cfg.BypassRules = append([]string(nil), m.cfg.BypassRules...)
	return &cfg
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{State: m.state, ActiveID: m.doc.ActiveID, LastError: m.lastErr}
	if m.cfg != nil {
		cfg := *m.cfg
		st.Config = &cfg
	}
	return st
}

func (m *Manager) transition(next State, cause error) {
	m.mu.Lock()
	m.state = next
	if cause != nil {
		m.lastErr = cause.Error()
	} else if next != Failed {
		m.lastErr = ""
	}
	onState := m.hooks.OnState
	m.mu.Unlock()

	if onState != nil {
		onState(next)
	}
}

func (m *Manager) persist(ctx context.Context, doc Document) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.Save(ctx, doc); err != nil {
		log.Warn("proxy: failed to save profiles", "error", err)
		return err
	}
	return nil
}

var connectionFailureSignatures = []string{
	"err_proxy_connection_failed",
	"err_tunnel_connection_failed",
	"err_socks_connection_failed",
	"proxyconnect",
	"socks connect",
	"socks4 connect failed",
	"proxy connect returned",
	"tunnel connection failed",
}

// IsConnectionFailure reports whether err looks like the proxy itself could
// not be reached or refused to tunnel.
func IsConnectionFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range connectionFailureSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
