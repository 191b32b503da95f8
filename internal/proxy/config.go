// Package proxy owns the upstream proxy configuration of the managed session:
// validation, saved profiles, application and connectivity verification.
package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"unicode"

	"shroud/internal/session"
	"shroud/internal/support"
)

var (
	ErrInvalidHost        = errors.New("proxy host is empty or contains whitespace")
	ErrInvalidPort        = errors.New("proxy port is not a valid tcp port")
	ErrUnsupportedScheme  = errors.New("unsupported proxy type")
	ErrInvalidProfileName = errors.New("proxy profile name is empty")
	ErrProfileNotFound    = errors.New("proxy profile not found")
)

const defaultPort = 80

// LocalBypassRules are added when BypassLocal is set.
var LocalBypassRules = []string{"<local>", "localhost", "127.0.0.1", "[::1]", "*.local", "*.internal"}

// Config is a validated proxy configuration. Build it with BuildConfig.
type Config struct {
	Scheme      string   `json:"type"`
	Host        string   `json:"host"`
	Port        int      `json:"port"`
	Username    string   `json:"username,omitempty"`
	Password    string   `json:"password,omitempty"`
	AuthEnabled bool     `json:"authEnabled"`
	BypassLocal bool     `json:"bypassLocal"`
	BypassRules []string `json:"bypassRules,omitempty"`
}

// Port accepts both JSON numbers and strings.
type Port string

func (p *Port) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*p = Port(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("port: %w", err)
	}
	*p = Port(s)
	return nil
}

// Input is raw, unvalidated proxy input.
type Input struct {
	Type        string `json:"type"`
	Host        string `json:"host"`
	Port        Port   `json:"port"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	AuthEnabled bool   `json:"authEnabled"`
	BypassLocal *bool  `json:"bypassLocal,omitempty"`
	BypassRules string `json:"bypassRules"`
}

// IsClear reports whether the input asks to remove the proxy.
func (in Input) IsClear() bool {
	return strings.TrimSpace(in.Host) == ""
}

// BuildConfig validates in. It returns a complete Config or an error, never a
// partially filled one.
func BuildConfig(in Input) (*Config, error) {
	host := strings.TrimSpace(in.Host)
	if host == "" || strings.IndexFunc(host, unicode.IsSpace) >= 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHost, in.Host)
	}
	host = strings.Trim(host, "[]")

	port := defaultPort
	if raw := strings.TrimSpace(string(in.Port)); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 65535 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPort, raw)
		}
		port = parsed
	}

	scheme, ok := support.NormalizeProxyScheme(in.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, in.Type)
	}

	bypassLocal := true
	if in.BypassLocal != nil {
		bypassLocal = *in.BypassLocal
	}

	cfg := &Config{
		Scheme:      scheme,
		Host:        host,
		Port:        port,
		AuthEnabled: in.AuthEnabled,
		BypassLocal: bypassLocal,
		BypassRules: SplitBypassRules(in.BypassRules),
	}
	if in.AuthEnabled {
		cfg.Username = in.Username
		cfg.Password = in.Password
	}
	return cfg, nil
}

// Revalidate runs an already decoded Config back through BuildConfig.
func Revalidate(cfg Config) (*Config, error) {
	bypassLocal := cfg.BypassLocal
	return BuildConfig(Input{
		Type:        cfg.Scheme,
		Host:        cfg.Host,
		Port:        Port(strconv.Itoa(cfg.Port)),
		Username:    cfg.Username,
		Password:    cfg.Password,
		AuthEnabled: cfg.AuthEnabled,
		BypassLocal: &bypassLocal,
		BypassRules: strings.Join(cfg.BypassRules, ";"),
	})
}

// SplitBypassRules splits user rules on ';' or ','.
func SplitBypassRules(raw string) []string {
	var out []string
	for _, entry := range strings.FieldsFunc(raw, func(r rune) bool { return r == ';' || r == ',' }) {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// URL renders the proxy without credentials, e.g. socks5://10.0.0.1:1080.
func (c Config) URL() string {
	return c.Scheme + "://" + c.Address()
}

// BypassList is the effective bypass list, local rules first.
func (c Config) BypassList() []string {
	var out []string
	if c.BypassLocal {
		out = append(out, LocalBypassRules...)
	}
	return append(out, c.BypassRules...)
}

// Route converts the configuration into session egress rules.
func (c Config) Route() session.Route {
	r := session.Route{
		Scheme: c.Scheme,
		Host:   c.Host,
		Port:   c.Port,
		Bypass: c.BypassList(),
	}
	if c.AuthEnabled {
		r.Username = c.Username
		r.Password = c.Password
	}
	return r
}

// Profile is a named, saved proxy configuration.
type Profile struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Config Config `json:"config"`
}

// Document is the persisted profile list plus the active profile id.
type Document struct {
	Profiles []Profile `json:"profiles"`
	ActiveID string    `json:"activeId,omitempty"`
}

func (d Document) Clone() Document {
	out := Document{ActiveID: d.ActiveID, Profiles: make([]Profile, len(d.Profiles))}
	for i, p := range d.Profiles {
		p.Config.BypassRules = append([]string(nil), p.Config.BypassRules...)
		out.Profiles[i] = p
	}
	return out
}

func (d Document) Find(id string) (Profile, bool) {
	for _, p := range d.Profiles {
		if p.ID == id {
			return p, true
		}
	}
	return Profile{}, false
}
