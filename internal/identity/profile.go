// Package identity models the synthetic device identity and generates
// internally consistent instances of it.
package identity

// Profile is the full synthetic fingerprint. JSON names follow the settings
// document exchanged with the control surface.
type Profile struct {
	UserAgent           string      `json:"ua"`
	Platform            string      `json:"platform"`
	Vendor              string      `json:"vendor"`
	DeviceModel         string      `json:"deviceModel"`
	HardwareConcurrency int         `json:"hardwareConcurrency"`
	DeviceMemory        int         `json:"deviceMemory"`
	Screen              Screen      `json:"screen"`
	Language            string      `json:"language"`
	Languages           []string    `json:"languages"`
	Timezone            string      `json:"timezone"`
	WebGL               WebGL       `json:"webgl"`
	CanvasNoise         float64     `json:"canvasNoise"`
	Fonts               []string    `json:"fonts"`
	Connection          Connection  `json:"connection"`
	DoNotTrack          string      `json:"doNotTrack"`
	MaxTouchPoints      int         `json:"maxTouchPoints"`
	Webdriver           bool        `json:"webdriver"`
	ClientHints         ClientHints `json:"userAgentData"`
	Battery             Battery     `json:"battery"`
	TLSVersion          string      `json:"tlsVersion"`
	TLSCipher           string      `json:"tlsCipher"`
}

type Screen struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AvailWidth  int     `json:"availWidth"`
	AvailHeight int     `json:"availHeight"`
	ColorDepth  int     `json:"colorDepth"`
	PixelRatio  float64 `json:"devicePixelRatio"`
}

type WebGL struct {
	Vendor   string `json:"vendor"`
	Renderer string `json:"renderer"`
}

type Connection struct {
	EffectiveType string  `json:"effectiveType"`
	Downlink      float64 `json:"downlink"`
	RTT           int     `json:"rtt"`
	SaveData      bool    `json:"saveData"`
}

type Brand struct {
	Brand   string `json:"brand"`
	Version string `json:"version"`
}

// ClientHints carries the user-agent-data and Sec-CH-UA metadata.
type ClientHints struct {
	Brands          []Brand `json:"brands"`
	Mobile          bool    `json:"mobile"`
	Platform        string  `json:"platform"`
	PlatformVersion string  `json:"platformVersion"`
	Architecture    string  `json:"architecture"`
	Bitness         string  `json:"bitness"`
	Model           string  `json:"model"`
}

// Battery mirrors the battery status surface. A nil DischargingTime reports
// an unbounded discharge time.
type Battery struct {
	Charging        bool     `json:"charging"`
	ChargingTime    float64  `json:"chargingTime"`
	DischargingTime *float64 `json:"dischargingTime,omitempty"`
	Level           float64  `json:"level"`
}

// Clone returns a deep copy so callers can mutate slices freely.
func (p Profile) Clone() Profile {
	out := p
	out.Languages = append([]string(nil), p.Languages...)
	out.Fonts = append([]string(nil), p.Fonts...)
	out.ClientHints.Brands = append([]Brand(nil), p.ClientHints.Brands...)
	if p.Battery.DischargingTime != nil {
		v := *p.Battery.DischargingTime
		out.Battery.DischargingTime = &v
	}
	return out
}

// PrimaryLanguage is the first entry of Languages, falling back to Language.
func (p Profile) PrimaryLanguage() string {
	if len(p.Languages) > 0 && p.Languages[0] != "" {
		return p.Languages[0]
	}
	return p.Language
}
