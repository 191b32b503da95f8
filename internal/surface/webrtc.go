package surface

import (
	"context"
	"errors"
	"net/netip"
	"regexp"
)

var (
	ErrWebRTCBlocked = errors.New("WebRTC is blocked")
	ErrOfferRejected = errors.New("WebRTC temporarily unavailable")
)

var ipv4Literal = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

var cgnat = netip.MustParsePrefix("100.64.0.0/10")

type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type ICECandidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
}

// PeerConnection is the subset of a real-time transport connection the guard
// wraps.
type PeerConnection interface {
	CreateOffer(ctx context.Context) (SessionDescription, error)
	SetLocalDescription(ctx context.Context, desc SessionDescription) error
	OnICECandidate(fn func(ICECandidate))
	Close() error
}

type PeerConnectionFactory func() (PeerConnection, error)

// NewPeerConnection builds a connection through factory with address
// rewriting applied. The first offer of the first connection created by the
// adapter is rejected once.
func (a *Adapter) NewPeerConnection(factory PeerConnectionFactory) (PeerConnection, error) {
	if a.Snapshot().Privacy.BlockWebRTC {
		return nil, ErrWebRTCBlocked
	}
	if a.rtcInitialized.CompareAndSwap(false, true) {
		a.offerRejected.Store(true)
	}
	pc, err := factory()
	if err != nil {
		return nil, err
	}
	return &guardedPeer{inner: pc, adapter: a}, nil
}

type guardedPeer struct {
	inner   PeerConnection
	adapter *Adapter
}

func (g *guardedPeer) CreateOffer(ctx context.Context) (SessionDescription, error) {
	if g.adapter.offerRejected.CompareAndSwap(true, false) {
		return SessionDescription{}, ErrOfferRejected
	}
	return g.inner.CreateOffer(ctx)
}

func (g *guardedPeer) SetLocalDescription(ctx context.Context, desc SessionDescription) error {
	if desc.SDP != "" {
		desc.SDP = g.adapter.RewriteAddresses(desc.SDP)
	}
	return g.inner.SetLocalDescription(ctx, desc)
}

func (g *guardedPeer) OnICECandidate(fn func(ICECandidate)) {
	if fn == nil {
		return
	}
	g.inner.OnICECandidate(func(c ICECandidate) {
		if c.Candidate != "" {
			c.Candidate = g.adapter.RewriteAddresses(c.Candidate)
		}
		fn(c)
	})
}

func (g *guardedPeer) Close() error {
	return g.inner.Close()
}

// RewriteAddresses replaces non-public IPv4 literals in s with the public
// address. Without a known public address s is returned unchanged.
func (a *Adapter) RewriteAddresses(s string) string {
	public := a.Snapshot().PublicIP
	if public == "" || s == "" {
		return s
	}
	return ipv4Literal.ReplaceAllStringFunc(s, func(lit string) string {
		addr, err := netip.ParseAddr(lit)
		if err != nil || !addr.Is4() {
			return lit
		}
		if isNonPublic(addr) {
			return public
		}
		return lit
	})
}

func isNonPublic(addr netip.Addr) bool {
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() ||
		addr.IsUnspecified() || cgnat.Contains(addr)
}
