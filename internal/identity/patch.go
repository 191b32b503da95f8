package identity

// Patch is a partial Profile. A nil pointer or nil slice leaves the base
// field untouched. Fields covered:
//
//	ua, platform, vendor, deviceModel, hardwareConcurrency, deviceMemory,
//	screen, language, languages, timezone, webgl, canvasNoise, fonts,
//	connection, doNotTrack, maxTouchPoints, userAgentData, battery,
//	tlsVersion, tlsCipher
//
// The automation flag is not patchable; it always reads false.
type Patch struct {
	UserAgent           *string      `json:"ua,omitempty"`
	Platform            *string      `json:"platform,omitempty"`
	Vendor              *string      `json:"vendor,omitempty"`
	DeviceModel         *string      `json:"deviceModel,omitempty"`
	HardwareConcurrency *int         `json:"hardwareConcurrency,omitempty"`
	DeviceMemory        *int         `json:"deviceMemory,omitempty"`
	Screen              *Screen      `json:"screen,omitempty"`
	Language            *string      `json:"language,omitempty"`
	Languages           []string     `json:"languages,omitempty"`
	Timezone            *string      `json:"timezone,omitempty"`
	WebGL               *WebGL       `json:"webgl,omitempty"`
	CanvasNoise         *float64     `json:"canvasNoise,omitempty"`
	Fonts               []string     `json:"fonts,omitempty"`
	Connection          *Connection  `json:"connection,omitempty"`
	DoNotTrack          *string      `json:"doNotTrack,omitempty"`
	MaxTouchPoints      *int         `json:"maxTouchPoints,omitempty"`
	ClientHints         *ClientHints `json:"userAgentData,omitempty"`
	Battery             *Battery     `json:"battery,omitempty"`
	TLSVersion          *string      `json:"tlsVersion,omitempty"`
	TLSCipher           *string      `json:"tlsCipher,omitempty"`
}

func (pt Patch) IsEmpty() bool {
	return pt.UserAgent == nil && pt.Platform == nil && pt.Vendor == nil && pt.DeviceModel == nil &&
		pt.HardwareConcurrency == nil && pt.DeviceMemory == nil && pt.Screen == nil &&
		pt.Language == nil && pt.Languages == nil && pt.Timezone == nil && pt.WebGL == nil &&
		pt.CanvasNoise == nil && pt.Fonts == nil && pt.Connection == nil && pt.DoNotTrack == nil &&
		pt.MaxTouchPoints == nil && pt.ClientHints == nil && pt.Battery == nil &&
		pt.TLSVersion == nil && pt.TLSCipher == nil
}

// MergePatch returns base with every set field of patch applied.
func MergePatch(base Profile, patch Patch) Profile {
	out := base.Clone()

	setString(&out.UserAgent, patch.UserAgent)
	setString(&out.Platform, patch.Platform)
	setString(&out.Vendor, patch.Vendor)
	setString(&out.DeviceModel, patch.DeviceModel)
	setInt(&out.HardwareConcurrency, patch.HardwareConcurrency)
	setInt(&out.DeviceMemory, patch.DeviceMemory)
	if patch.Screen != nil {
		out.Screen = *patch.Screen
	}
	setString(&out.Language, patch.Language)
	if patch.Languages != nil {
		out.Languages = append([]string(nil), patch.Languages...)
	}
	setString(&out.Timezone, patch.Timezone)
	if patch.WebGL != nil {
		out.WebGL = *patch.WebGL
	}
	if patch.CanvasNoise != nil {
		out.CanvasNoise = *patch.CanvasNoise
	}
	if patch.Fonts != nil {
		out.Fonts = append([]string(nil), patch.Fonts...)
	}
	if patch.Connection != nil {
		out.Connection = *patch.Connection
	}
	setString(&out.DoNotTrack, patch.DoNotTrack)
	setInt(&out.MaxTouchPoints, patch.MaxTouchPoints)
	if patch.ClientHints != nil {
		hints := *patch.ClientHints
		hints.Brands = append([]Brand(nil), patch.ClientHints.Brands...)
		out.ClientHints = hints
	}
	if patch.Battery != nil {
		battery := *patch.Battery
		if patch.Battery.DischargingTime != nil {
			v := *patch.Battery.DischargingTime
			battery.DischargingTime = &v
		}
		out.Battery = battery
	}
	setString(&out.TLSVersion, patch.TLSVersion)
	setString(&out.TLSCipher, patch.TLSCipher)

	out.Webdriver = false
	return out
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}
