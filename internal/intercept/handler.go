// Package intercept runs a local forward proxy that sends every request
// through the filter pipeline and out over the managed session.
package intercept

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"shroud/internal/filter"
)

const connectEstablishedResponse = "HTTP/1.1 200 Connection Established\r\nProxy-Agent: shroud\r\n\r\n"

// Upstream is the egress path; session.Session satisfies it.
type Upstream interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
	Client() *http.Client
}

var (
	dialUpstreamFunc = func(ctx context.Context, up Upstream, addr string) (net.Conn, error) {
		return up.DialContext(ctx, "tcp", addr)
	}
	roundTripFunc = func(up Upstream, req *http.Request) (*http.Response, error) {
		return up.Client().Transport.RoundTrip(req)
	}
)

var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

type Options struct {
	// FirstParty is used when a request carries no referer.
	FirstParty string
	Username   string
	Password   string
}

type Handler struct {
	pipeline *filter.Pipeline
	upstream Upstream
	opts     Options

	// OnOutcome observes every handled request.
	OnOutcome func(method, outcome string)
}

func NewHandler(pipeline *filter.Pipeline, upstream Upstream, opts Options) *Handler {
	return &Handler{pipeline: pipeline, upstream: upstream, opts: opts}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authenticateClient(w, r) {
		h.outcome(r.Method, "unauthorized")
		return
	}

	switch strings.ToUpper(r.Method) {
	case http.MethodConnect:
		h.handleConnect(w, r)
	default:
		h.handleHTTP(w, r)
	}
}

func (h *Handler) authenticateClient(w http.ResponseWriter, r *http.Request) bool {
	if h.opts.Username == "" {
		return true
	}

	header := strings.TrimSpace(r.Header.Get("Proxy-Authorization"))
	scheme, encoded, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Basic") {
		writeProxyAuthRequired(w)
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		writeProxyAuthRequired(w)
		return false
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok || user != h.opts.Username || pass != h.opts.Password {
		writeProxyAuthRequired(w)
		return false
	}
	return true
}

func writeProxyAuthRequired(w http.ResponseWriter) {
	w.Header().Set("Proxy-Authenticate", `Basic realm="shroud"`)
	w.WriteHeader(http.StatusProxyAuthRequired)
	_, _ = w.Write([]byte("Proxy authentication required"))
}

func (h *Handler) handleHTTP(w http.ResponseWriter, r *http.Request) {
	targetURL := r.URL
	if !targetURL.IsAbs() {
		targetURL = &url.URL{
			Scheme:   "http",
			Host:     r.Host,
			Path:     r.URL.Path,
			RawQuery: r.URL.RawQuery,
		}
	}
	target := targetURL.String()
	resourceType := resourceTypeOf(r)

	decision := h.pipeline.Before(&filter.Request{
		URL:           target,
		Method:        r.Method,
		ResourceType:  resourceType,
		Header:        r.Header,
		FirstPartyURL: h.firstPartyFor(r, target, resourceType),
	})
	if decision.Action == filter.Block {
		w.Header().Set("X-Shroud-Blocked", decision.Reason)
		http.Error(w, decision.Reason, http.StatusForbidden)
		h.outcome(r.Method, "blocked")
		return
	}

	header := r.Header.Clone()
	if decision.Action == filter.Modify {
		header = decision.Header
	}
	removeHopHeaders(header)

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		http.Error(w, "failed to build upstream request", http.StatusInternalServerError)
		h.outcome(r.Method, "error")
		return
	}
	outReq.Header = header
	outReq.ContentLength = r.ContentLength

	resp, err := roundTripFunc(h.upstream, outReq)
	if err != nil {
		h.pipeline.Failed(target, resourceType, err)
		log.Debug("intercept: upstream request failed", "url", target, "error", err)
		http.Error(w, "upstream request failed", http.StatusBadGateway)
		h.outcome(r.Method, "error")
		return
	}
	defer resp.Body.Close()

	filtered := h.pipeline.After(&filter.Response{
		URL:           target,
		FirstPartyURL: h.firstPartyFor(r, target, resourceType),
		ResourceType:  resourceType,
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
	})
	removeHopHeaders(filtered)
	copyHeaders(w.Header(), filtered)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Warn("intercept: failed to copy response body", "url", target, "error", err)
	}

	h.pipeline.Completed(target, resourceType, resp.StatusCode)
	h.outcome(r.Method, "forwarded")
}

// handleConnect tunnels to r.Host. Only the host is visible, so only the
// blocking stages apply.
func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}

	clientConn, buf, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, "failed to hijack connection", http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := clientConn.Close(); err != nil {
			log.Debug("intercept: client connection close", "error", err)
		}
	}()
	_ = clientConn.SetDeadline(time.Time{})

	target := r.Host
	host := target
	if hostname, _, err := net.SplitHostPort(target); err == nil {
		host = hostname
	}
	tunnelURL := "https://" + host + "/"

	decision := h.pipeline.Before(&filter.Request{
		URL:           tunnelURL,
		Method:        http.MethodConnect,
		ResourceType:  "other",
		FirstPartyURL: h.firstPartyFor(r, tunnelURL, "other"),
	})
	if decision.Action == filter.Block {
		writeHijackedResponse(buf, http.StatusForbidden, decision.Reason)
		h.outcome(r.Method, "blocked")
		return
	}

	upConn, err := dialUpstreamFunc(r.Context(), h.upstream, target)
	if err != nil {
		h.pipeline.Failed(tunnelURL, "other", err)
		writeHijackedResponse(buf, http.StatusBadGateway, "Failed to connect upstream")
		h.outcome(r.Method, "error")
		return
	}

	if _, err := clientConn.Write([]byte(connectEstablishedResponse)); err != nil {
		_ = upConn.Close()
		return
	}
	h.pipeline.Completed(tunnelURL, "other", http.StatusOK)
	h.outcome(r.Method, "tunneled")

	// Bytes the client sent after the CONNECT line are already buffered.
	if n := buf.Reader.Buffered(); n > 0 {
		pending, _ := buf.Reader.Peek(n)
		if _, err := upConn.Write(pending); err != nil {
			_ = upConn.Close()
			return
		}
	}
	pipeConnections(clientConn, upConn)
}

// firstPartyFor picks the site a request belongs to. A top-level document
// navigation is its own first party.
func (h *Handler) firstPartyFor(r *http.Request, target, resourceType string) string {
	if resourceType == "main_frame" {
		return target
	}
	if ref := strings.TrimSpace(r.Header.Get("Referer")); ref != "" {
		return ref
	}
	return h.opts.FirstParty
}

func (h *Handler) outcome(method, outcome string) {
	if h.OnOutcome != nil {
		h.OnOutcome(method, outcome)
	}
}

// resourceTypeOf maps fetch metadata to the resource type names the filter
// understands.
func resourceTypeOf(r *http.Request) string {
	if r.Header.Get("Ping-To") != "" || strings.EqualFold(r.Header.Get("Content-Type"), "text/ping") {
		return "ping"
	}
	switch strings.ToLower(r.Header.Get("Sec-Fetch-Dest")) {
	case "document":
		return "main_frame"
	case "iframe", "frame":
		return "sub_frame"
	case "script":
		return "script"
	case "style":
		return "stylesheet"
	case "image":
		return "image"
	case "font":
		return "font"
	case "audio", "video", "track":
		return "media"
	case "object", "embed":
		return "object"
	case "report":
		return "csp_report"
	case "empty":
		return "xmlhttprequest"
	default:
		return "other"
	}
}

func writeHijackedResponse(buf *bufio.ReadWriter, status int, message string) {
	fmt.Fprintf(buf, "HTTP/1.1 %d %s\r\nContent-Type: text/plain\r\nContent-Length: %d\r\n\r\n%s",
		status,
		http.StatusText(status),
		len(message),
		message,
	)
	_ = buf.Flush()
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func removeHopHeaders(h http.Header) {
	for _, name := range hopHeaders {
		for key := range h {
			if strings.EqualFold(key, name) {
				delete(h, key)
			}
		}
	}
}

func pipeConnections(left, right net.Conn) {
	errCh := make(chan error, 2)

	go func() {
		_, err := io.Copy(left, right)
		errCh <- err
	}()

	go func() {
		_, err := io.Copy(right, left)
		errCh <- err
	}()

	<-errCh
	left.Close()
	right.Close()
}
