package session

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

// dialSOCKS4 opens a SOCKS4/4a tunnel to target. Errors carry the
// "socks connect" prefix x/net/proxy uses for SOCKS5, whether the proxy was
// unreachable or refused the request.
func dialSOCKS4(ctx context.Context, r Route, target string, timeout time.Duration) (net.Conn, error) {
	conn, err := handshakeSOCKS4(ctx, r, target, timeout)
	if err != nil {
		return nil, fmt.Errorf("socks connect tcp %s->%s: %w", r.Address(), target, err)
	}
	return conn, nil
}

func handshakeSOCKS4(ctx context.Context, r Route, target string, timeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", r.Address())
	if err != nil {
		return nil, err
	}

	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		_ = conn.Close()
		return nil, fmt.Errorf("invalid target port %q", portStr)
	}

	ipBytes := net.ParseIP(host).To4()
	var domainName string
	if ipBytes == nil {
		// SOCKS4a: let the proxy resolve the name.
		ipBytes = []byte{0x00, 0x00, 0x00, 0x01}
		domainName = host
	}

	userField := r.Username
	if r.Username != "" && r.Password != "" {
		userField = r.Username + ":" + r.Password
	}

	req := []byte{0x04, 0x01, byte(port >> 8), byte(port)}
	req = append(req, ipBytes...)
	req = append(req, userField...)
	req = append(req, 0x00)
	if domainName != "" {
		req = append(req, domainName...)
		req = append(req, 0x00)
	}

	setHandshakeDeadline(ctx, conn, timeout)

	if _, err := conn.Write(req); err != nil {
		_ = conn.Close()
		return nil, err
	}

	resp := make([]byte, 8)
	if _, err := io.ReadFull(conn, resp); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if resp[1] != 0x5A {
		_ = conn.Close()
		return nil, fmt.Errorf("socks4 connect failed with code %d", resp[1])
	}

	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}

// dialHTTPConnect opens a tunnel to target through an HTTP proxy. Errors are
// prefixed like net/http's own proxy dial failures.
func dialHTTPConnect(ctx context.Context, dialer *net.Dialer, r Route, target string) (net.Conn, error) {
	conn, err := handshakeHTTPConnect(ctx, dialer, r, target)
	if err != nil {
		return nil, fmt.Errorf("proxyconnect tcp %s: %w", r.Address(), err)
	}
	return conn, nil
}

func handshakeHTTPConnect(ctx context.Context, dialer *net.Dialer, r Route, target string) (net.Conn, error) {
	conn, err := dialer.DialContext(ctx, "tcp", r.Address())
	if err != nil {
		return nil, err
	}
	setHandshakeDeadline(ctx, conn, dialer.Timeout)

	req := "CONNECT " + target + " HTTP/1.1\r\nHost: " + target + "\r\n"
	if r.HasAuth() {
		token := base64.StdEncoding.EncodeToString([]byte(r.Username + ":" + r.Password))
		req += "Proxy-Authorization: Basic " + token + "\r\n"
	}
	req += "\r\n"

	if _, err := io.WriteString(conn, req); err != nil {
		_ = conn.Close()
		return nil, err
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodConnect})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_ = conn.Close()
		return nil, fmt.Errorf("proxy CONNECT returned %s", resp.Status)
	}
	if br.Buffered() > 0 {
		_ = conn.Close()
		return nil, fmt.Errorf("proxy sent data before tunnel was ready")
	}

	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}

func setHandshakeDeadline(ctx context.Context, conn net.Conn, timeout time.Duration) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		return
	}
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	_ = conn.SetDeadline(time.Now().Add(timeout))
}
