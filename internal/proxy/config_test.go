package proxy

import (
	"encoding/json"
	"errors"
	"slices"
	"testing"
)

func TestBuildConfig_RejectsWhitespaceHost(t *testing.T) {
	if cfg, err := BuildConfig(Input{Host: "a b", Port: "80"}); !errors.Is(err, ErrInvalidHost) || cfg != nil {
		t.Fatalf("BuildConfig(a b) = %v, %v", cfg, err)
	}
	if _, err := BuildConfig(Input{Host: "   ", Port: "80"}); !errors.Is(err, ErrInvalidHost) {
		t.Fatalf("blank host err = %v", err)
	}
}

func TestBuildConfig_RejectsOutOfRangePort(t *testing.T) {
	for _, port := range []Port{"70000", "0", "-1", "http"} {
		if cfg, err := BuildConfig(Input{Host: "x", Port: port}); !errors.Is(err, ErrInvalidPort) || cfg != nil {
			t.Fatalf("port %q: cfg=%v err=%v", port, cfg, err)
		}
	}
}

func TestBuildConfig_AcceptsSocks5WithoutAuth(t *testing.T) {
	cfg, err := BuildConfig(Input{Host: "10.0.0.1", Port: "1080", Type: "socks5"})
	if err != nil {
		t.Fatalf("BuildConfig: %v", err)
	}
	if cfg.Scheme != "socks5" || cfg.Port != 1080 || cfg.AuthEnabled {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if !cfg.BypassLocal {
		t.Fatal("bypassLocal should default to true")
	}
}

func TestBuildConfig_DefaultsAndNormalization(t *testing.T) {
	cfg, err := BuildConfig(Input{Host: "proxy.example", Type: "HTTPS"})
	if err != nil {
		t.Fatalf("BuildConfig: %v", err)
	}
	if cfg.Port != 80 || cfg.Scheme != "http" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}

	if _, err := BuildConfig(Input{Host: "x", Port: "1", Type: "quic"}); !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("err = %v, want ErrUnsupportedScheme", err)
	}
}

func TestBuildConfig_CredentialsOnlyWithAuth(t *testing.T) {
	cfg, _ := BuildConfig(Input{Host: "x", Port: "8080", Username: "u", Password: "p"})
	if cfg.Username != "" || cfg.Route().HasAuth() {
		t.Fatalf("credentials kept without authEnabled: %+v", cfg)
	}
	cfg, _ = BuildConfig(Input{Host: "x", Port: "8080", Username: "u", Password: "p", AuthEnabled: true})
	if r := cfg.Route(); r.Username != "u" || r.Password != "p" {
		t.Fatalf("credentials dropped: %+v", r)
	}
}

func TestBypassList(t *testing.T) {
	off := false
	cfg, _ := BuildConfig(Input{Host: "x", Port: "1", BypassRules: "intra.corp; *.lan,,10.*"})
	want := append(slices.Clone(LocalBypassRules), "intra.corp", "*.lan", "10.*")
	if got := cfg.BypassList(); !slices.Equal(got, want) {
		t.Fatalf("BypassList = %v, want %v", got, want)
	}

	cfg, _ = BuildConfig(Input{Host: "x", Port: "1", BypassLocal: &off})
	if len(cfg.BypassList()) != 0 {
		t.Fatalf("bypass list should be empty, got %v", cfg.BypassList())
	}
}

func TestInput_PortFromNumberOrString(t *testing.T) {
	var a, b Input
	if err := json.Unmarshal([]byte(`{"host":"x","port":3128}`), &a); err != nil {
		t.Fatalf("number port: %v", err)
	}
	if err := json.Unmarshal([]byte(`{"host":"x","port":"3128"}`), &b); err != nil {
		t.Fatalf("string port: %v", err)
	}
	if a.Port != "3128" || b.Port != "3128" {
		t.Fatalf("ports = %q %q", a.Port, b.Port)
	}
}

func TestRevalidate(t *testing.T) {
	if _, err := Revalidate(Config{Scheme: "socks4", Host: "h", Port: 99999}); !errors.Is(err, ErrInvalidPort) {
		t.Fatalf("err = %v", err)
	}
	cfg, err := Revalidate(Config{Scheme: "socks4", Host: "h", Port: 1080, BypassRules: []string{"a", "b"}})
	if err != nil || !slices.Equal(cfg.BypassRules, []string{"a", "b"}) || cfg.BypassLocal {
		t.Fatalf("Revalidate = %+v, %v", cfg, err)
	}
}
