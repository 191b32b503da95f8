package surface

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"shroud/internal/identity"
	"shroud/internal/privacy"
	"shroud/internal/relay"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func testProfile() identity.Profile {
	p := identity.Derive(identity.Profile{UserAgent: chromeUA}, identity.NewRand(nil))
	p.CanvasNoise = 0.3
	p.Timezone = "Asia/Tokyo"
	p.Language = "en-US"
	p.Languages = []string{"en-US", "en"}
	p.WebGL = identity.WebGL{Vendor: "Google Inc. (NVIDIA)", Renderer: "ANGLE (NVIDIA GeForce GTX 1660)"}
	return p
}

func grayCanvas(w, h int) *ImageCanvas {
	c := NewImageCanvas(w, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			c.SetRGBA(x, y, color.RGBA{R: 128, G: 128, B: 128, A: 255})
		}
	}
	return c
}

func TestExportCanvas_StableWithinSession(t *testing.T) {
	a := NewWithSeed(testProfile(), privacy.Default(), 42)
	c := grayCanvas(100, 60)

	first, err := a.ExportCanvas(c, "")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	second, err := a.ExportCanvas(c, "image/png")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("two exports in one session differ")
	}

	raw, _ := c.Encode("image/png")
	if bytes.Equal(first, raw) {
		t.Fatal("export carries no noise")
	}
}

func TestExportCanvas_RestoresPixels(t *testing.T) {
	a := NewWithSeed(testProfile(), privacy.Default(), 7)
	c := grayCanvas(40, 40)
	before, _ := c.Encode("image/png")

	if _, err := a.ExportCanvas(c, ""); err != nil {
		t.Fatalf("export: %v", err)
	}
	after, _ := c.Encode("image/png")
	if !bytes.Equal(before, after) {
		t.Fatal("canvas pixels changed after export")
	}
}

func TestExportCanvas_DifferentSessionsDiffer(t *testing.T) {
	p := testProfile()
	a := NewWithSeed(p, privacy.Default(), 1)
	b := NewWithSeed(p, privacy.Default(), 2)

	outA, _ := a.ExportCanvas(grayCanvas(100, 100), "")
	outB, _ := b.ExportCanvas(grayCanvas(100, 100), "")
	if bytes.Equal(outA, outB) {
		t.Fatal("different session seeds produced identical exports")
	}
}

func TestExportCanvas_JPEGUntouched(t *testing.T) {
	a := NewWithSeed(testProfile(), privacy.Default(), 3)
	c := grayCanvas(50, 50)
	raw, _ := c.Encode("image/jpeg")
	got, err := a.ExportCanvas(c, "image/jpeg")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !bytes.Equal(raw, got) {
		t.Fatal("jpeg export was noised")
	}
}

func TestExportCanvas_ZeroSizeAndZeroNoise(t *testing.T) {
	p := testProfile()
	p.CanvasNoise = 0
	a := NewWithSeed(p, privacy.Default(), 3)
	c := grayCanvas(20, 20)
	raw, _ := c.Encode("")
	got, _ := a.ExportCanvas(c, "")
	if !bytes.Equal(raw, got) {
		t.Fatal("zero magnitude should leave export unchanged")
	}
	if _, err := a.ExportCanvas(NewImageCanvas(0, 0), ""); err != nil {
		t.Fatalf("zero sized canvas: %v", err)
	}
}

func TestWebGLParameterAndContext(t *testing.T) {
	a := NewWithSeed(testProfile(), privacy.Default(), 1)
	if got := a.WebGLParameter(UnmaskedVendorWebGL, nil); got != "Google Inc. (NVIDIA)" {
		t.Fatalf("vendor = %v", got)
	}
	if got := a.WebGLParameter(UnmaskedRendererWebGL, nil); got != "ANGLE (NVIDIA GeForce GTX 1660)" {
		t.Fatalf("renderer = %v", got)
	}
	if got := a.WebGLParameter(7938, func(int) any { return "native" }); got != "native" {
		t.Fatalf("other parameter = %v", got)
	}

	if a.AllowContext("webgl") || a.AllowContext("webgl2") {
		t.Fatal("webgl contexts allowed while blocked")
	}
	if !a.AllowContext("2d") {
		t.Fatal("2d context denied")
	}

	settings := privacy.Default()
	settings.BlockWebGL = false
	a.SetPrivacy(settings)
	if !a.AllowContext("webgl") {
		t.Fatal("webgl denied after unblocking")
	}
}

func TestChannelData_NoisedCopy(t *testing.T) {
	a := NewWithSeed(testProfile(), privacy.Default(), 9)
	samples := make([]float32, 3000)
	for i := range samples {
		samples[i] = 0.25
	}
	buf := &AudioBuffer{SampleRate: 44100, Channels: [][]float32{samples}}

	first, err := a.ChannelData(buf, 0)
	if err != nil {
		t.Fatalf("channel data: %v", err)
	}
	second, _ := a.ChannelData(buf, 0)

	changed := false
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("sample %d differs between reads", i)
		}
		if diff := math.Abs(float64(first[i] - 0.25)); diff > 1e-5 {
			t.Fatalf("sample %d moved by %v", i, diff)
		}
		if first[i] != 0.25 {
			changed = true
		}
		if samples[i] != 0.25 {
			t.Fatal("source buffer mutated")
		}
	}
	if !changed {
		t.Fatal("no noise applied")
	}

	if _, err := a.ChannelData(buf, 1); err == nil {
		t.Fatal("expected error for missing channel")
	}
}

type fakePeer struct {
	offers   int
	local    SessionDescription
	listener func(ICECandidate)
}

func (f *fakePeer) CreateOffer(context.Context) (SessionDescription, error) {
	f.offers++
	return SessionDescription{Type: "offer", SDP: "v=0"}, nil
}

func (f *fakePeer) SetLocalDescription(_ context.Context, d SessionDescription) error {
	f.local = d
	return nil
}

func (f *fakePeer) OnICECandidate(fn func(ICECandidate)) { f.listener = fn }
func (f *fakePeer) Close() error                         { return nil }

func TestNewPeerConnection_Blocked(t *testing.T) {
	a := NewWithSeed(testProfile(), privacy.Default(), 1)
	_, err := a.NewPeerConnection(func() (PeerConnection, error) { return &fakePeer{}, nil })
	if !errors.Is(err, ErrWebRTCBlocked) {
		t.Fatalf("err = %v, want ErrWebRTCBlocked", err)
	}
}

func TestNewPeerConnection_FirstOfferRejectedOnce(t *testing.T) {
	settings := privacy.Default()
	settings.BlockWebRTC = false
	a := NewWithSeed(testProfile(), settings, 1)
	a.SetPublicIP("203.0.113.9")

	inner := &fakePeer{}
	pc, err := a.NewPeerConnection(func() (PeerConnection, error) { return inner, nil })
	if err != nil {
		t.Fatalf("new peer: %v", err)
	}
	if _, err := pc.CreateOffer(context.Background()); !errors.Is(err, ErrOfferRejected) {
		t.Fatalf("first offer err = %v", err)
	}
	if _, err := pc.CreateOffer(context.Background()); err != nil {
		t.Fatalf("second offer: %v", err)
	}

	other, _ := a.NewPeerConnection(func() (PeerConnection, error) { return &fakePeer{}, nil })
	if _, err := other.CreateOffer(context.Background()); err != nil {
		t.Fatalf("second connection offer: %v", err)
	}

	sdp := "c=IN IP4 192.168.1.20\r\na=candidate:1 1 udp 2122260223 10.0.0.5 54400 typ host\r\na=candidate:2 1 udp 1 8.8.8.8 3478 typ srflx"
	if err := pc.SetLocalDescription(context.Background(), SessionDescription{Type: "offer", SDP: sdp}); err != nil {
		t.Fatalf("set local: %v", err)
	}
	want := "c=IN IP4 203.0.113.9\r\na=candidate:1 1 udp 2122260223 203.0.113.9 54400 typ host\r\na=candidate:2 1 udp 1 8.8.8.8 3478 typ srflx"
	if inner.local.SDP != want {
		t.Fatalf("sdp = %q", inner.local.SDP)
	}

	var got ICECandidate
	pc.OnICECandidate(func(c ICECandidate) { got = c })
	inner.listener(ICECandidate{Candidate: "candidate:1 1 udp 1 100.72.1.1 5000 typ host"})
	if got.Candidate != "candidate:1 1 udp 1 203.0.113.9 5000 typ host" {
		t.Fatalf("candidate = %q", got.Candidate)
	}
}

func TestRewriteAddresses_NoPublicIP(t *testing.T) {
	a := NewWithSeed(testProfile(), privacy.Default(), 1)
	if got := a.RewriteAddresses("192.168.0.1"); got != "192.168.0.1" {
		t.Fatalf("rewrite without public ip = %q", got)
	}
}

type fakeMedia struct{}

func (fakeMedia) EnumerateDevices(context.Context) ([]MediaDevice, error) {
	return []MediaDevice{{DeviceID: "cam", Kind: "videoinput"}}, nil
}

func (fakeMedia) GetUserMedia(context.Context, map[string]any) (any, error) {
	return "stream", nil
}

func TestMediaDevicesGated(t *testing.T) {
	a := NewWithSeed(testProfile(), privacy.Default(), 1)
	devices, err := a.EnumerateDevices(context.Background(), fakeMedia{})
	if err != nil || len(devices) != 0 {
		t.Fatalf("blocked enumerate = %v, %v", devices, err)
	}
	if _, err := a.GetUserMedia(context.Background(), fakeMedia{}, nil); !errors.Is(err, ErrWebRTCBlocked) {
		t.Fatalf("blocked getUserMedia err = %v", err)
	}

	settings := privacy.Default()
	settings.BlockWebRTC = false
	a.SetPrivacy(settings)
	devices, _ = a.EnumerateDevices(context.Background(), fakeMedia{})
	if len(devices) != 1 {
		t.Fatalf("unblocked enumerate = %v", devices)
	}
}

func TestNavigator(t *testing.T) {
	p := testProfile()
	p.Webdriver = true
	a := NewWithSeed(p, privacy.Default(), 1)
	nav := a.Navigator()

	if nav.Webdriver {
		t.Fatal("webdriver reported true")
	}
	if nav.UserAgent != chromeUA || nav.Platform != "Win32" {
		t.Fatalf("navigator = %q %q", nav.UserAgent, nav.Platform)
	}
	if len(nav.Plugins) != 3 || len(nav.MimeTypes) != 4 {
		t.Fatalf("plugins %d mime types %d", len(nav.Plugins), len(nav.MimeTypes))
	}
	if nav.UserAgentData == nil {
		t.Fatal("chrome agent without user agent data")
	}

	all := nav.UserAgentData.HighEntropyValues(nil)
	if all["uaFullVersion"] != "120.0.0.0" {
		t.Fatalf("uaFullVersion = %v", all["uaFullVersion"])
	}
	some := nav.UserAgentData.HighEntropyValues([]string{"platform", "bitness", "bogus"})
	if len(some) != 2 || some["platform"] != "Windows" {
		t.Fatalf("filtered hints = %v", some)
	}
}

func TestApply_SwapsWholeSnapshot(t *testing.T) {
	a := NewWithSeed(testProfile(), privacy.Default(), 5)
	before := a.Snapshot()

	next := testProfile()
	next.HardwareConcurrency = 32
	a.Apply(next)
	a.Apply(next)

	after := a.Snapshot()
	if after.Profile.HardwareConcurrency != 32 {
		t.Fatalf("hardware concurrency = %d", after.Profile.HardwareConcurrency)
	}
	if before.Profile.HardwareConcurrency == 32 {
		t.Fatal("old snapshot was mutated")
	}
	if after.Seed != before.Seed || after.Version != before.Version+2 {
		t.Fatalf("seed %d->%d version %d->%d", before.Seed, after.Seed, before.Version, after.Version)
	}
}

func TestDateTimeFormat_ForcesProfileZone(t *testing.T) {
	a := NewWithSeed(testProfile(), privacy.Default(), 1)
	f := a.DateTimeFormat("fr-FR", DateTimeOptions{TimeZone: "America/New_York", TimeStyle: "medium"})

	opts := f.ResolvedOptions()
	if opts.Locale != "en-US" || opts.TimeZone != "Asia/Tokyo" {
		t.Fatalf("resolved = %+v", opts)
	}
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if got := f.TimezoneOffset(ts); got != -540 {
		t.Fatalf("offset = %d", got)
	}
	if got := f.Format(ts); got != "9:00:00 AM" {
		t.Fatalf("format = %q", got)
	}
	if got := a.FormatTime(ts); got != "3/1/2024, 9:00:00 AM" {
		t.Fatalf("FormatTime = %q", got)
	}
}

func TestDateTimeFormat_UnknownZoneFallsBackToUTC(t *testing.T) {
	p := testProfile()
	p.Timezone = "Nowhere/Land"
	a := NewWithSeed(p, privacy.Default(), 1)
	if got := a.DateTimeFormat("", DateTimeOptions{}).ResolvedOptions().TimeZone; got != "UTC" {
		t.Fatalf("zone = %q", got)
	}
}

func TestBattery_UnboundedDischarge(t *testing.T) {
	p := testProfile()
	p.Battery = identity.Battery{Charging: true, Level: 0.8}
	a := NewWithSeed(p, privacy.Default(), 1)
	if b := a.Battery(); b.DischargingTime != nil || b.Level != 0.8 {
		t.Fatalf("battery = %+v", b)
	}
}

type stubInstaller struct {
	name  string
	err   error
	calls int
}

func (s *stubInstaller) Name() string { return s.name }
func (s *stubInstaller) Install(context.Context, *Snapshot) error {
	s.calls++
	return s.err
}

type stubHost []Installer

func (h stubHost) Installers() []Installer { return h }

func TestApplyTo_SkipsUnavailableSurfaces(t *testing.T) {
	a := NewWithSeed(testProfile(), privacy.Default(), 1)
	ok := &stubInstaller{name: "navigator"}
	missing := &stubInstaller{name: "battery", err: ErrSurfaceUnavailable}
	if err := a.ApplyTo(context.Background(), stubHost{missing, ok}); err != nil {
		t.Fatalf("ApplyTo: %v", err)
	}
	if ok.calls != 1 || missing.calls != 1 {
		t.Fatalf("calls ok=%d missing=%d", ok.calls, missing.calls)
	}

	broken := &stubInstaller{name: "screen", err: errors.New("boom")}
	if err := a.ApplyTo(context.Background(), stubHost{broken, ok}); err == nil {
		t.Fatal("expected installer error")
	}
	if ok.calls != 2 {
		t.Fatal("later installers skipped after failure")
	}
}

func TestFollow_AppliesRelayUpdates(t *testing.T) {
	bus := relay.NewLocal()
	defer bus.Close()

	a := NewWithSeed(testProfile(), privacy.Default(), 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	applied := make(chan relay.Kind, 4)
	ready := make(chan struct{})
	go func() {
		close(ready)
		a.Follow(ctx, bus, func(k relay.Kind) { applied <- k })
	}()
	<-ready

	u, _ := relay.NewUpdate(relay.KindPublicIP, "198.51.100.7")
	deadline := time.After(2 * time.Second)
	for {
		_ = bus.Publish(ctx, u)
		select {
		case k := <-applied:
			if k != relay.KindPublicIP {
				t.Fatalf("applied kind = %s", k)
			}
			if got := a.Snapshot().PublicIP; got != "198.51.100.7" {
				t.Fatalf("public ip = %q", got)
			}
			return
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("update never applied")
		}
	}
}

func waitSnapshot(t *testing.T, a *Adapter, what string, cond func(*Snapshot) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond(a.Snapshot()) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestFollow_StateUpdatesSurviveNetworkLogFlood(t *testing.T) {
	bus := relay.NewLocal()
	defer bus.Close()

	a := NewWithSeed(testProfile(), privacy.Default(), 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	entered := make(chan relay.Kind, 8)
	release := make(chan struct{})
	go a.Follow(ctx, bus, func(k relay.Kind) {
		entered <- k
		<-release
	})

	first := testProfile()
	first.UserAgent = "first-UA"
	u1, _ := relay.NewUpdate(relay.KindIdentity, first)
	deadline := time.After(2 * time.Second)
	for waiting := true; waiting; {
		_ = bus.Publish(ctx, u1)
		select {
		case <-entered:
			waiting = false
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("first identity never applied")
		}
	}

	// The host refresh is stuck while the page floods the log.
	for i := 0; i < 500; i++ {
		entry, _ := relay.NewUpdate(relay.KindNetworkLog, i)
		_ = bus.Publish(ctx, entry)
	}
	second := testProfile()
	second.UserAgent = "second-UA"
	u2, _ := relay.NewUpdate(relay.KindIdentity, second)
	_ = bus.Publish(ctx, u2)

	waitSnapshot(t, a, "second identity", func(s *Snapshot) bool { return s.Profile.UserAgent == "second-UA" })

	close(release)
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("host refresh did not run again for the newer identity")
	}
}

func TestFollow_IgnoresOtherInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clientA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer clientA.Close()
	defer clientB.Close()

	busA, err := relay.NewRedis(ctx, clientA, "instance-a")
	if err != nil {
		t.Fatalf("NewRedis a: %v", err)
	}
	defer busA.Close()
	busB, err := relay.NewRedis(ctx, clientB, "instance-b")
	if err != nil {
		t.Fatalf("NewRedis b: %v", err)
	}
	defer busB.Close()

	local := testProfile()
	a := NewWithSeed(local, privacy.Default(), 1)
	go a.Follow(ctx, busB, nil)

	ready, _ := relay.NewUpdate(relay.KindPublicIP, "198.51.100.1")
	deadline := time.Now().Add(2 * time.Second)
	for a.Snapshot().PublicIP != "198.51.100.1" {
		if time.Now().After(deadline) {
			t.Fatal("adapter never followed instance b")
		}
		_ = busB.Publish(ctx, ready)
		time.Sleep(20 * time.Millisecond)
	}

	seen, stop := busB.Subscribe(8, relay.KindIdentity)
	defer stop()

	remote := testProfile()
	remote.UserAgent = "A-remote-UA"
	u, _ := relay.NewUpdate(relay.KindIdentity, remote)
	if err := busA.Publish(ctx, u); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case got := <-seen:
		if !got.Remote() || got.Origin != "instance-a" {
			t.Fatalf("remote update = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("remote update never reached instance b")
	}

	after, _ := relay.NewUpdate(relay.KindPublicIP, "198.51.100.2")
	_ = busB.Publish(ctx, after)
	waitSnapshot(t, a, "local update after the remote one", func(s *Snapshot) bool { return s.PublicIP == "198.51.100.2" })

	if got := a.Snapshot().Profile.UserAgent; got != local.UserAgent {
		t.Fatalf("adapter took another instance's identity: %q", got)
	}
}
