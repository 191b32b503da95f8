// Package filter implements the ordered request/response inspection chain
// applied to every transaction on the managed session.
package filter

import (
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"shroud/internal/identity"
	"shroud/internal/netlog"
	"shroud/internal/privacy"
)

type Action int

const (
	Allow Action = iota
	Block
	Modify
)

func (a Action) String() string {
	switch a {
	case Block:
		return "block"
	case Modify:
		return "modify"
	default:
		return "allow"
	}
}

const (
	ReasonTrackingRequest = "blocked: tracking request"
	ReasonTracker         = "blocked: tracker"
	ReasonAd              = "blocked: ad"
)

// Request is the metadata a stage may inspect. Header is owned by the caller
// and never mutated by the pipeline.
type Request struct {
	URL           string
	Method        string
	ResourceType  string
	Header        http.Header
	FirstPartyURL string
}

type Response struct {
	URL           string
	FirstPartyURL string
	ResourceType  string
	StatusCode    int
	Header        http.Header
}

// Decision is the outcome of one stage or of the whole chain. Header holds
// the full rewritten request header when Action is Modify.
type Decision struct {
	Action Action
	Reason string
	Header http.Header
}

// Stage inspects a request given the current state. Returning Block stops
// the chain; Modify hands the rewritten header to later stages.
type Stage struct {
	Name string
	Run  func(req *Request, st State) Decision
}

// State is the read-only view of controller state the stages consult.
type State struct {
	Profile identity.Profile
	Privacy privacy.Settings
}

// StateSource yields the current state snapshot.
type StateSource interface {
	Snapshot() State
}

type StateFunc func() State

func (f StateFunc) Snapshot() State { return f() }

type patternSet struct {
	trackers []string
	ads      []string
}

type Pipeline struct {
	source   StateSource
	netlog   *netlog.Log
	patterns atomic.Pointer[patternSet]
	stages   []Stage

	// OnDecision observes the final decision of every request.
	OnDecision func(stage string, d Decision)
}

func New(source StateSource, nl *netlog.Log) *Pipeline {
	if nl == nil {
		nl = netlog.New(netlog.DefaultCapacity)
	}
	p := &Pipeline{source: source, netlog: nl}
	p.SetExtraPatterns(nil, nil)
	p.stages = []Stage{
		{Name: "tracking-guard", Run: trackingGuard},
		{Name: "pattern-match", Run: p.patternMatch},
		{Name: "header-synthesis", Run: synthesizeHeaders},
	}
	return p
}

// SetExtraPatterns appends configured patterns to the fixed lists.
func (p *Pipeline) SetExtraPatterns(trackers, ads []string) {
	set := &patternSet{
		trackers: append(append([]string(nil), trackerPatterns...), nonEmpty(trackers)...),
		ads:      append(append([]string(nil), adPatterns...), nonEmpty(ads)...),
	}
	p.patterns.Store(set)
}

func (p *Pipeline) NetworkLog() *netlog.Log {
	return p.netlog
}

// Before runs the request stages in order and returns the combined decision.
// Blocked requests are recorded in the network log.
func (p *Pipeline) Before(req *Request) Decision {
	st := p.source.Snapshot()

	current := *req
	current.Header = cloneHeader(req.Header)
	final := Decision{Action: Allow}
	stageName := ""

	for _, stage := range p.stages {
		d := stage.Run(&current, st)
		switch d.Action {
		case Block:
			p.netlog.Blocked(req.URL, req.ResourceType, d.Reason)
			log.Debug("request blocked", "url", req.URL, "stage", stage.Name, "reason", d.Reason)
			p.observe(stage.Name, d)
			return d
		case Modify:
			current.Header = d.Header
			final = Decision{Action: Modify, Header: d.Header}
			stageName = stage.Name
		}
	}

	p.observe(stageName, final)
	return final
}

// After filters response headers. The returned header is a copy; the input
// is left untouched.
func (p *Pipeline) After(resp *Response) http.Header {
	st := p.source.Snapshot()
	out := cloneHeader(resp.Header)
	if !st.Privacy.BlockThirdPartyCookies || out == nil {
		return out
	}
	if !IsThirdParty(resp.URL, resp.FirstPartyURL) {
		return out
	}
	for key := range out {
		if strings.EqualFold(key, "Set-Cookie") {
			delete(out, key)
		}
	}
	return out
}

func (p *Pipeline) Completed(rawURL, resourceType string, status int) {
	p.netlog.Completed(rawURL, resourceType, status)
}

func (p *Pipeline) Failed(rawURL, resourceType string, err error) {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	p.netlog.Failed(rawURL, resourceType, reason)
}

func (p *Pipeline) observe(stage string, d Decision) {
	if p.OnDecision != nil {
		p.OnDecision(stage, d)
	}
}

func (p *Pipeline) patternMatch(req *Request, st State) Decision {
	set := p.patterns.Load()
	if st.Privacy.BlockTrackers && containsAny(req.URL, set.trackers) {
		return Decision{Action: Block, Reason: ReasonTracker}
	}
	if st.Privacy.BlockAds && containsAny(req.URL, set.ads) {
		return Decision{Action: Block, Reason: ReasonAd}
	}
	return Decision{Action: Allow}
}

func trackingGuard(req *Request, st State) Decision {
	if !st.Privacy.AIPatternGuard {
		return Decision{Action: Allow}
	}
	switch strings.ToLower(req.ResourceType) {
	case "beacon", "ping", "csp_report":
		return Decision{Action: Block, Reason: ReasonTrackingRequest}
	}
	lower := strings.ToLower(req.URL)
	if containsAny(lower, campaignParams) || containsAny(lower, telemetrySegments) {
		return Decision{Action: Block, Reason: ReasonTrackingRequest}
	}
	return Decision{Action: Allow}
}

// IsThirdParty reports whether rawURL's host differs from firstParty's host.
// Missing or unparsable first-party URLs count as first party.
func IsThirdParty(rawURL, firstParty string) bool {
	if strings.TrimSpace(firstParty) == "" {
		return false
	}
	reqURL, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	fpURL, err := url.Parse(firstParty)
	if err != nil {
		return false
	}
	reqHost, fpHost := reqURL.Hostname(), fpURL.Hostname()
	return reqHost != "" && fpHost != "" && !strings.EqualFold(reqHost, fpHost)
}

func containsAny(s string, patterns []string) bool {
	for _, pattern := range patterns {
		if strings.Contains(s, pattern) {
			return true
		}
	}
	return false
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}
