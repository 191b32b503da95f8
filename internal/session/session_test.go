package session

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestSetRoute_RejectsUnknownScheme(t *testing.T) {
	s := New("test")
	err := s.SetRoute(context.Background(), Route{Scheme: "ftp", Host: "127.0.0.1", Port: 21})
	if !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("err = %v, want ErrUnsupportedScheme", err)
	}
	if _, ok := s.Route(); ok {
		t.Fatal("route installed despite error")
	}
}

func TestHTTPRoute_ForwardsThroughProxy(t *testing.T) {
	var seenURL, seenAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenURL = r.URL.String()
		seenAuth = r.Header.Get("Proxy-Authorization")
		_, _ = io.WriteString(w, "via-proxy")
	}))
	defer upstream.Close()

	host, port := splitServer(t, upstream.URL)
	s := New("managed")
	if err := s.SetRoute(context.Background(), Route{Scheme: "https", Host: host, Port: port, Username: "u", Password: "p"}); err != nil {
		t.Fatalf("SetRoute: %v", err)
	}
	if r, _ := s.Route(); r.Scheme != "http" {
		t.Fatalf("stored scheme = %q, want normalized http", r.Scheme)
	}

	resp, err := s.Client().Get("http://target.invalid/path")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if string(body) != "via-proxy" {
		t.Fatalf("body = %q", body)
	}
	if seenURL != "http://target.invalid/path" {
		t.Fatalf("proxy saw %q, want absolute target URL", seenURL)
	}
	if !strings.HasPrefix(seenAuth, "Basic ") {
		t.Fatalf("missing proxy credentials: %q", seenAuth)
	}
}

func TestHTTPRoute_BypassGoesDirect(t *testing.T) {
	proxyHits := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxyHits++
	}))
	defer upstream.Close()

	direct := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "direct")
	}))
	defer direct.Close()

	host, port := splitServer(t, upstream.URL)
	s := New("managed")
	if err := s.SetRoute(context.Background(), Route{Scheme: "http", Host: host, Port: port, Bypass: []string{"127.0.0.1"}}); err != nil {
		t.Fatalf("SetRoute: %v", err)
	}

	resp, err := s.Client().Get(direct.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "direct" || proxyHits != 0 {
		t.Fatalf("bypassed host went through proxy: body=%q hits=%d", body, proxyHits)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	a, b := New("a"), New("b")
	if err := a.SetRoute(context.Background(), Route{Scheme: "socks5", Host: "127.0.0.1", Port: 1080}); err != nil {
		t.Fatalf("SetRoute: %v", err)
	}
	if _, ok := b.Route(); ok {
		t.Fatal("route leaked into a different session")
	}
	if err := a.ClearRoute(context.Background()); err != nil {
		t.Fatalf("ClearRoute: %v", err)
	}
	if _, ok := a.Route(); ok {
		t.Fatal("route not cleared")
	}
}

func TestClearData_DropsCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "1"})
	}))
	defer srv.Close()

	s := New("managed")
	client := s.Client()
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()

	u, _ := url.Parse(srv.URL)
	if len(client.Jar.Cookies(u)) != 1 {
		t.Fatal("cookie not stored")
	}
	if err := s.ClearData(context.Background()); err != nil {
		t.Fatalf("ClearData: %v", err)
	}
	if len(client.Jar.Cookies(u)) != 0 {
		t.Fatal("cookie survived ClearData")
	}
}

func TestDialSOCKS4_WritesRequestAndAcceptsGrant(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	got := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		n, _ := conn.Read(buf)
		got <- buf[:n]
		_, _ = conn.Write([]byte{0x00, 0x5A, 0, 0, 0, 0, 0, 0})
	}()

	host, port := splitServer(t, "http://"+ln.Addr().String())
	route := Route{Scheme: "socks4", Host: host, Port: port, Username: "bob"}
	conn, err := dialSOCKS4(context.Background(), route, "example.com:443", time.Second)
	if err != nil {
		t.Fatalf("dialSOCKS4: %v", err)
	}
	conn.Close()

	req := <-got
	if req[0] != 0x04 || req[1] != 0x01 || req[2] != 0x01 || req[3] != 0xBB {
		t.Fatalf("unexpected request header % x", req[:4])
	}
	if !strings.Contains(string(req), "bob\x00example.com\x00") {
		t.Fatalf("socks4a user/domain fields missing: %q", req)
	}
}

func TestDialSOCKS4_RejectedGrant(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		_, _ = conn.Read(buf)
		_, _ = conn.Write([]byte{0x00, 0x5B, 0, 0, 0, 0, 0, 0})
	}()

	host, port := splitServer(t, "http://"+ln.Addr().String())
	if _, err := dialSOCKS4(context.Background(), Route{Host: host, Port: port}, "10.0.0.1:80", time.Second); err == nil {
		t.Fatal("expected rejection error")
	}
}

func closedPort(t *testing.T) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()
	return "127.0.0.1", addr.Port
}

func TestDialContext_UnreachableProxyErrors(t *testing.T) {
	host, port := closedPort(t)
	want := map[string]string{
		"socks4": "socks connect",
		"socks5": "socks connect",
		"http":   "proxyconnect",
	}
	for scheme, prefix := range want {
		sess := New("dead-" + scheme)
		if err := sess.SetRoute(context.Background(), Route{Scheme: scheme, Host: host, Port: port}); err != nil {
			t.Fatalf("SetRoute(%s): %v", scheme, err)
		}
		_, err := sess.DialContext(context.Background(), "tcp", "203.0.113.10:80")
		if err == nil {
			t.Fatalf("%s: expected dial error", scheme)
		}
		if !strings.Contains(err.Error(), prefix) {
			t.Fatalf("%s: error %q lacks %q", scheme, err, prefix)
		}
		sess.Close()
	}
}

func TestMatchBypass(t *testing.T) {
	rules := []string{"<local>", "localhost", "127.0.0.1", "[::1]", "*.local", "*.internal"}
	cases := map[string]bool{
		"intranet":          true,
		"localhost":         true,
		"127.0.0.1":         true,
		"::1":               true,
		"[::1]":             true,
		"printer.local":     true,
		"api.corp.internal": true,
		"example.com":       false,
		"10.0.0.1":          false,
		"":                  false,
	}
	for host, want := range cases {
		if got := MatchBypass(host, rules); got != want {
			t.Fatalf("MatchBypass(%q) = %v, want %v", host, got, want)
		}
	}
}

func splitServer(t *testing.T, raw string) (string, int) {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	port, err := net.LookupPort("tcp", u.Port())
	if err != nil {
		t.Fatalf("port %q: %v", u.Port(), err)
	}
	return u.Hostname(), port
}
