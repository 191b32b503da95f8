package identity

import (
	crand "crypto/rand"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"
)

type OSFamily string

const (
	OSWindows OSFamily = "windows"
	OSMac     OSFamily = "mac"
	OSLinux   OSFamily = "linux"
	OSAndroid OSFamily = "android"
	OSIOS     OSFamily = "ios"
)

const (
	vendorApple  = "Apple Computer, Inc."
	vendorGoogle = "Google Inc."
)

var chromeVersionPattern = regexp.MustCompile(`(?:Chrome|CriOS)/(\d+)`)

// FamilyOf reports the operating system family implied by a user agent.
func FamilyOf(ua string) OSFamily {
	switch {
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"):
		return OSIOS
	case strings.Contains(ua, "Android"):
		return OSAndroid
	case strings.Contains(ua, "Macintosh"), strings.Contains(ua, "Mac OS X"):
		return OSMac
	case strings.Contains(ua, "Win"):
		return OSWindows
	default:
		return OSLinux
	}
}

// NewRand returns a deterministic source when seed is non-nil and a
// CSPRNG-seeded source otherwise.
func NewRand(seed *uint64) *rand.Rand {
	if seed != nil {
		return rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
	}
	var key [32]byte
	if _, err := crand.Read(key[:]); err != nil {
		now := uint64(time.Now().UnixNano())
		return rand.New(rand.NewPCG(now, now>>1))
	}
	return rand.New(rand.NewChaCha8(key))
}

// Generate draws every axis independently, then derives platform, vendor,
// device model and client hints from the chosen user agent.
func Generate(rng *rand.Rand) Profile {
	if rng == nil {
		rng = NewRand(nil)
	}

	res := pick(rng, screenResolutions)
	locale := pick(rng, localePairs)
	font := pick(rng, fontStacks)

	p := Profile{
		UserAgent:           pick(rng, userAgents),
		HardwareConcurrency: pick(rng, coreCounts),
		DeviceMemory:        pick(rng, memorySizes),
		Screen: Screen{
			Width:       res.width,
			Height:      res.height,
			AvailWidth:  res.width,
			AvailHeight: res.height - taskbarHeight,
			ColorDepth:  pick(rng, colorDepths),
			PixelRatio:  pick(rng, pixelRatios),
		},
		Language:       locale.primary,
		Languages:      []string{locale.primary, locale.secondary},
		Timezone:       pick(rng, timezones),
		WebGL:          pick(rng, webGLPairs),
		CanvasNoise:    canvasNoiseMin + rng.Float64()*(canvasNoiseMax-canvasNoiseMin),
		Fonts:          append([]string(nil), font...),
		Connection:     pick(rng, networkTiers),
		DoNotTrack:     pick(rng, doNotTrack),
		MaxTouchPoints: pick(rng, touchPoints),
		Webdriver:      false,
		Battery:        Battery{Charging: true, ChargingTime: 0, Level: 1},
		TLSVersion:     "TLSv1.3",
		TLSCipher:      "TLS_AES_256_GCM_SHA384",
	}

	return derive(p, rng)
}

// Derive recomputes the user-agent dependent axes of p. Device models for
// macOS are drawn from rng; other families use fixed values.
func Derive(p Profile, rng *rand.Rand) Profile {
	if rng == nil {
		rng = NewRand(nil)
	}
	return derive(p.Clone(), rng)
}

func derive(p Profile, rng *rand.Rand) Profile {
	family := FamilyOf(p.UserAgent)

	switch family {
	case OSMac:
		p.Platform = "MacIntel"
		p.Vendor = vendorApple
		p.DeviceModel = pick(rng, macDeviceModels)
	case OSWindows:
		p.Platform = "Win32"
		p.Vendor = vendorGoogle
		p.DeviceModel = "PC"
	case OSAndroid:
		p.Platform = "Linux armv81"
		p.Vendor = vendorGoogle
		p.DeviceModel = "Pixel 7"
	case OSIOS:
		p.Platform = "iPhone"
		p.Vendor = vendorApple
		p.DeviceModel = "iPhone"
	default:
		p.Platform = "Linux x86_64"
		p.Vendor = vendorGoogle
		p.DeviceModel = "PC"
	}

	p.ClientHints = clientHintsFor(p.UserAgent, family, p.DeviceModel)
	return p
}

func clientHintsFor(ua string, family OSFamily, model string) ClientHints {
	hints := ClientHints{
		Platform:     PlatformName(family),
		Architecture: "x86",
		Bitness:      "64",
	}

	switch family {
	case OSWindows:
		hints.PlatformVersion = "10.0.0"
	case OSMac:
		hints.PlatformVersion = "10.15.7"
	case OSLinux:
		hints.PlatformVersion = "6.5.0"
	case OSAndroid, OSIOS:
		hints.Mobile = true
		hints.Architecture = "arm"
		hints.Model = model
	}

	if m := chromeVersionPattern.FindStringSubmatch(ua); m != nil {
		major := m[1]
		product := "Google Chrome"
		if strings.Contains(ua, "Edg/") {
			product = "Microsoft Edge"
		}
		hints.Brands = []Brand{
			{Brand: "Chromium", Version: major},
			{Brand: "Not(A:Brand", Version: "24"},
			{Brand: product, Version: major},
		}
	}
	return hints
}

// PlatformName is the Sec-CH-UA-Platform label for a family.
func PlatformName(family OSFamily) string {
	switch family {
	case OSMac:
		return "macOS"
	case OSWindows:
		return "Windows"
	case OSAndroid:
		return "Android"
	case OSIOS:
		return "iOS"
	default:
		return "Linux"
	}
}

// PlatformNameFromPlatform maps a navigator platform string to the client
// hint platform label.
func PlatformNameFromPlatform(platform string) string {
	switch {
	case strings.HasPrefix(platform, "Mac"):
		return "macOS"
	case strings.HasPrefix(platform, "Win"):
		return "Windows"
	case platform == "iPhone" || platform == "iPad":
		return "iOS"
	case strings.Contains(platform, "arm"):
		return "Android"
	default:
		return "Linux"
	}
}

// ApplyGeoHint merge-patches locale and timezone. Unknown countries and
// unloadable timezones are ignored; when neither resolves p is returned as is.
func ApplyGeoHint(p Profile, countryCode, timezoneHint string) Profile {
	patch := Patch{}

	if locale, ok := countryLocales[strings.ToUpper(strings.TrimSpace(countryCode))]; ok {
		patch.Language = &locale.primary
		patch.Languages = []string{locale.primary, locale.secondary}
	}

	if tz := strings.TrimSpace(timezoneHint); tz != "" {
		if _, err := time.LoadLocation(tz); err == nil {
			patch.Timezone = &tz
		}
	}

	if patch.IsEmpty() {
		return p
	}
	return MergePatch(p, patch)
}

// SetExplicitUserAgent replaces only the user agent. Platform, vendor and
// device model are left as they were, which can produce a profile whose
// axes disagree.
func SetExplicitUserAgent(p Profile, ua string) Profile {
	out := p.Clone()
	out.UserAgent = ua
	return out
}

// AcceptLanguage renders "primary,secondary;q=0.9".
func AcceptLanguage(p Profile) string {
	primary := p.PrimaryLanguage()
	if primary == "" {
		return ""
	}
	secondary := ""
	if len(p.Languages) > 1 {
		secondary = p.Languages[1]
	}
	if secondary == "" {
		if i := strings.IndexByte(primary, '-'); i > 0 {
			secondary = primary[:i]
		}
	}
	if secondary == "" || secondary == primary {
		return primary
	}
	return primary + "," + secondary + ";q=0.9"
}

// BrandHeader renders the Sec-CH-UA value for the profile's brand list.
func BrandHeader(p Profile) string {
	parts := make([]string, 0, len(p.ClientHints.Brands))
	for _, b := range p.ClientHints.Brands {
		parts = append(parts, `"`+b.Brand+`";v="`+b.Version+`"`)
	}
	return strings.Join(parts, ", ")
}

func pick[T any](rng *rand.Rand, items []T) T {
	return items[rng.IntN(len(items))]
}
