package surface

import (
	"strings"

	"shroud/internal/identity"
)

type Plugin struct {
	Name        string `json:"name"`
	Filename    string `json:"filename"`
	Description string `json:"description"`
}

type MimeType struct {
	Type        string `json:"type"`
	Suffixes    string `json:"suffixes"`
	Description string `json:"description"`
}

var defaultPlugins = []Plugin{
	{Name: "Chrome PDF Plugin", Filename: "internal-pdf-viewer", Description: "Portable Document Format"},
	{Name: "Chrome PDF Viewer", Filename: "mhjfbmdgcfjbbpaeojofohoefgiehjai"},
	{Name: "Native Client", Filename: "internal-nacl-plugin"},
}

var defaultMimeTypes = []MimeType{
	{Type: "application/pdf", Suffixes: "pdf", Description: "Portable Document Format"},
	{Type: "application/x-google-chrome-pdf", Suffixes: "pdf", Description: "Portable Document Format"},
	{Type: "application/x-nacl", Description: "Native Client Executable"},
	{Type: "application/x-pnacl", Description: "Portable Native Client Executable"},
}

// NavigatorView is what navigator-style property reads return.
type NavigatorView struct {
	UserAgent           string              `json:"userAgent"`
	Platform            string              `json:"platform"`
	Vendor              string              `json:"vendor"`
	Language            string              `json:"language"`
	Languages           []string            `json:"languages"`
	HardwareConcurrency int                 `json:"hardwareConcurrency"`
	DeviceMemory        int                 `json:"deviceMemory"`
	DoNotTrack          string              `json:"doNotTrack"`
	MaxTouchPoints      int                 `json:"maxTouchPoints"`
	Webdriver           bool                `json:"webdriver"`
	Plugins             []Plugin            `json:"plugins"`
	MimeTypes           []MimeType          `json:"mimeTypes"`
	Connection          identity.Connection `json:"connection"`
	UserAgentData       *UserAgentData      `json:"userAgentData,omitempty"`
}

// UserAgentData is the low-entropy client hint view. It is nil for agents
// that do not expose client hints.
type UserAgentData struct {
	Brands   []identity.Brand `json:"brands"`
	Mobile   bool             `json:"mobile"`
	Platform string           `json:"platform"`

	hints identity.ClientHints
}

func (a *Adapter) Navigator() NavigatorView {
	return a.Snapshot().Navigator()
}

func (s *Snapshot) Navigator() NavigatorView {
	p := s.Profile

	languages := append([]string(nil), p.Languages...)
	if len(languages) == 0 && p.Language != "" {
		languages = []string{p.Language}
	}
	conn := p.Connection
	if conn.EffectiveType == "" {
		conn.EffectiveType = "4g"
	}
	if conn.Downlink == 0 {
		conn.Downlink = 10
	}
	if conn.RTT == 0 {
		conn.RTT = 120
	}

	view := NavigatorView{
		UserAgent:           p.UserAgent,
		Platform:            p.Platform,
		Vendor:              p.Vendor,
		Language:            p.Language,
		Languages:           languages,
		HardwareConcurrency: p.HardwareConcurrency,
		DeviceMemory:        p.DeviceMemory,
		DoNotTrack:          p.DoNotTrack,
		MaxTouchPoints:      p.MaxTouchPoints,
		Webdriver:           false,
		Plugins:             append([]Plugin(nil), defaultPlugins...),
		MimeTypes:           append([]MimeType(nil), defaultMimeTypes...),
		Connection:          conn,
	}
	if len(p.ClientHints.Brands) > 0 {
		hints := p.ClientHints
		hints.Brands = append([]identity.Brand(nil), p.ClientHints.Brands...)
		platform := hints.Platform
		if platform == "" {
			platform = "Windows"
		}
		view.UserAgentData = &UserAgentData{
			Brands:   hints.Brands,
			Mobile:   hints.Mobile,
			Platform: platform,
			hints:    hints,
		}
	}
	return view
}

// HighEntropyValues answers a high entropy hint request. A nil hint list
// returns every value; otherwise only the known requested keys.
func (d *UserAgentData) HighEntropyValues(hints []string) map[string]any {
	h := d.hints
	version := "120"
	for _, b := range h.Brands {
		if b.Brand == "Google Chrome" || b.Brand == "Microsoft Edge" {
			version = b.Version
		}
	}
	values := map[string]any{
		"architecture":    firstNonEmpty(h.Architecture, "x86"),
		"bitness":         firstNonEmpty(h.Bitness, "64"),
		"model":           h.Model,
		"platform":        d.Platform,
		"platformVersion": firstNonEmpty(h.PlatformVersion, "10.0.0"),
		"uaFullVersion":   version + ".0.0.0",
		"fullVersionList": append([]identity.Brand(nil), h.Brands...),
	}
	if hints == nil {
		return values
	}
	out := make(map[string]any, len(hints))
	for _, key := range hints {
		if v, ok := values[key]; ok {
			out[key] = v
		}
	}
	return out
}

type ScreenView struct {
	Width            int     `json:"width"`
	Height           int     `json:"height"`
	AvailWidth       int     `json:"availWidth"`
	AvailHeight      int     `json:"availHeight"`
	ColorDepth       int     `json:"colorDepth"`
	PixelDepth       int     `json:"pixelDepth"`
	DevicePixelRatio float64 `json:"devicePixelRatio"`
}

func (a *Adapter) Screen() ScreenView {
	return a.Snapshot().Screen()
}

func (s *Snapshot) Screen() ScreenView {
	scr := s.Profile.Screen
	ratio := scr.PixelRatio
	if ratio == 0 {
		ratio = 1
	}
	return ScreenView{
		Width:            scr.Width,
		Height:           scr.Height,
		AvailWidth:       scr.AvailWidth,
		AvailHeight:      scr.AvailHeight,
		ColorDepth:       scr.ColorDepth,
		PixelDepth:       scr.ColorDepth,
		DevicePixelRatio: ratio,
	}
}

// BatteryView reports DischargingTime as nil for an unbounded value.
type BatteryView struct {
	Charging        bool     `json:"charging"`
	ChargingTime    float64  `json:"chargingTime"`
	DischargingTime *float64 `json:"dischargingTime"`
	Level           float64  `json:"level"`
}

func (a *Adapter) Battery() BatteryView {
	b := a.Snapshot().Profile.Battery
	view := BatteryView{Charging: b.Charging, ChargingTime: b.ChargingTime, Level: b.Level}
	if b.DischargingTime != nil {
		v := *b.DischargingTime
		view.DischargingTime = &v
	}
	if view.Level == 0 && view.Charging {
		view.Level = 1
	}
	return view
}

// Fonts is the font inventory reported to font enumeration probes.
func (a *Adapter) Fonts() []string {
	return append([]string(nil), a.Snapshot().Profile.Fonts...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
