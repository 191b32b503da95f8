// Package session provides isolated network sessions whose outbound traffic
// can be routed through an upstream proxy.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/net/proxy"

	"shroud/internal/support"
)

var ErrUnsupportedScheme = errors.New("unsupported proxy scheme")

const defaultDialTimeout = 10 * time.Second

// Route describes an upstream proxy applied to a session.
type Route struct {
	Scheme   string
	Host     string
	Port     int
	Username string
	Password string
	Bypass   []string
}

func (r Route) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

func (r Route) HasAuth() bool {
	return r.Username != "" || r.Password != ""
}

// Session owns one cookie jar and one transport. Routes can be swapped while
// clients obtained from Client keep working.
type Session struct {
	name        string
	dialTimeout time.Duration

	mu        sync.RWMutex
	route     *Route
	transport *http.Transport
	jar       *cookiejar.Jar
	client    *http.Client
}

type Option func(*Session)

func WithDialTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.dialTimeout = d
		}
	}
}

func New(name string, opts ...Option) *Session {
	s := &Session{name: name, dialTimeout: defaultDialTimeout}
	for _, opt := range opts {
		opt(s)
	}
	s.jar, _ = cookiejar.New(nil)
	s.transport = s.directTransport()
	s.client = &http.Client{Transport: roundTripperFunc(s.roundTrip), Jar: jarFunc{s}}
	return s
}

func (s *Session) Name() string {
	return s.name
}

// SetRoute installs r as the session's upstream proxy.
func (s *Session) SetRoute(ctx context.Context, r Route) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	scheme, ok := support.NormalizeProxyScheme(r.Scheme)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, r.Scheme)
	}
	r.Scheme = scheme
	transport, err := s.transportFor(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	old := s.transport
	routeCopy := r
	routeCopy.Bypass = append([]string(nil), r.Bypass...)
	s.route = &routeCopy
	s.transport = transport
	s.mu.Unlock()

	old.CloseIdleConnections()
	log.Debug("session route applied", "session", s.name, "scheme", r.Scheme, "proxy", r.Address())
	return nil
}

// ClearRoute switches the session back to direct connections.
func (s *Session) ClearRoute(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	old := s.transport
	s.route = nil
	s.transport = s.directTransport()
	s.mu.Unlock()

	old.CloseIdleConnections()
	log.Debug("session route cleared", "session", s.name)
	return nil
}

func (s *Session) Route() (Route, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.route == nil {
		return Route{}, false
	}
	return *s.route, true
}

// Client returns an HTTP client bound to this session. It follows later
// route changes.
func (s *Session) Client() *http.Client {
	return s.client
}

// DialContext opens a raw connection to addr honoring the current route.
func (s *Session) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	s.mu.RLock()
	route := s.route
	s.mu.RUnlock()

	if route == nil {
		return s.dialer().DialContext(ctx, network, addr)
	}
	host, _, _ := net.SplitHostPort(addr)
	if MatchBypass(host, route.Bypass) {
		return s.dialer().DialContext(ctx, network, addr)
	}

	if support.IsSocksScheme(route.Scheme) {
		return s.dialSOCKS(ctx, *route, network, addr)
	}
	return dialHTTPConnect(ctx, s.dialer(), *route, addr)
}

// ClearData drops cookies and pooled connections.
func (s *Session) ClearData(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.jar = jar
	transport := s.transport
	s.mu.Unlock()

	transport.CloseIdleConnections()
	return nil
}

func (s *Session) Close() {
	s.mu.RLock()
	transport := s.transport
	s.mu.RUnlock()
	transport.CloseIdleConnections()
}

func (s *Session) roundTrip(req *http.Request) (*http.Response, error) {
	s.mu.RLock()
	transport := s.transport
	s.mu.RUnlock()
	return transport.RoundTrip(req)
}

func (s *Session) dialer() *net.Dialer {
	return &net.Dialer{Timeout: s.dialTimeout}
}

func (s *Session) directTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 nil,
		DialContext:           s.dialer().DialContext,
		MaxIdleConns:          32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

func (s *Session) transportFor(r Route) (*http.Transport, error) {
	transport := s.directTransport()

	switch {
	case r.Scheme == support.SchemeHTTP:
		proxyURL := &url.URL{Scheme: "http", Host: r.Address()}
		if r.HasAuth() {
			proxyURL.User = url.UserPassword(r.Username, r.Password)
		}
		bypass := append([]string(nil), r.Bypass...)
		transport.Proxy = func(req *http.Request) (*url.URL, error) {
			if MatchBypass(req.URL.Hostname(), bypass) {
				return nil, nil
			}
			return proxyURL, nil
		}

	case support.IsSocksScheme(r.Scheme):
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, _, _ := net.SplitHostPort(addr)
			if MatchBypass(host, r.Bypass) {
				return s.dialer().DialContext(ctx, network, addr)
			}
			return s.dialSOCKS(ctx, r, network, addr)
		}

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, r.Scheme)
	}

	return transport, nil
}

func (s *Session) dialSOCKS(ctx context.Context, r Route, network, addr string) (net.Conn, error) {
	if r.Scheme == support.SchemeSOCKS4 {
		return dialSOCKS4(ctx, r, addr, s.dialTimeout)
	}
	return s.dialSOCKS5(ctx, r, network, addr)
}

func (s *Session) dialSOCKS5(ctx context.Context, r Route, network, addr string) (net.Conn, error) {
	var auth *proxy.Auth
	if r.HasAuth() {
		auth = &proxy.Auth{User: r.Username, Password: r.Password}
	}
	socksDialer, err := proxy.SOCKS5("tcp", r.Address(), auth, s.dialer())
	if err != nil {
		return nil, err
	}
	if cd, ok := socksDialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, addr)
	}
	return socksDialer.Dial(network, addr)
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// jarFunc forwards to the session's current jar so ClearData takes effect
// for clients handed out earlier.
type jarFunc struct{ s *Session }

func (j jarFunc) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.s.mu.RLock()
	jar := j.s.jar
	j.s.mu.RUnlock()
	jar.SetCookies(u, cookies)
}

func (j jarFunc) Cookies(u *url.URL) []*http.Cookie {
	j.s.mu.RLock()
	jar := j.s.jar
	j.s.mu.RUnlock()
	return jar.Cookies(u)
}
