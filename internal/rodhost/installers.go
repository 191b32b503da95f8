package rodhost

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod/lib/proto"

	"shroud/internal/identity"
	"shroud/internal/surface"
)

type userAgentInstaller struct{ h *Host }

func (userAgentInstaller) Name() string { return "user-agent" }

func (i userAgentInstaller) Install(ctx context.Context, snap *surface.Snapshot) error {
	if snap.Profile.UserAgent == "" {
		return surface.ErrSurfaceUnavailable
	}
	return userAgentOverride(snap.Profile).Call(bind(ctx, i.h.client))
}

func userAgentOverride(p identity.Profile) proto.NetworkSetUserAgentOverride {
	req := proto.NetworkSetUserAgentOverride{
		UserAgent:      p.UserAgent,
		AcceptLanguage: identity.AcceptLanguage(p),
		Platform:       p.Platform,
	}
	hints := p.ClientHints
	if len(hints.Brands) == 0 {
		return req
	}

	brands := make([]*proto.EmulationUserAgentBrandVersion, 0, len(hints.Brands))
	for _, b := range hints.Brands {
		brands = append(brands, &proto.EmulationUserAgentBrandVersion{Brand: b.Brand, Version: b.Version})
	}
	platform := hints.Platform
	if platform == "" {
		platform = identity.PlatformNameFromPlatform(p.Platform)
	}
	req.UserAgentMetadata = &proto.EmulationUserAgentMetadata{
		Brands:          brands,
		FullVersionList: brands,
		Platform:        platform,
		PlatformVersion: hints.PlatformVersion,
		Architecture:    hints.Architecture,
		Model:           hints.Model,
		Mobile:          hints.Mobile,
		Bitness:         hints.Bitness,
	}
	return req
}

type timezoneInstaller struct{ h *Host }

func (timezoneInstaller) Name() string { return "timezone" }

func (i timezoneInstaller) Install(ctx context.Context, snap *surface.Snapshot) error {
	if snap.Profile.Timezone == "" {
		return surface.ErrSurfaceUnavailable
	}
	return proto.EmulationSetTimezoneOverride{TimezoneID: snap.Profile.Timezone}.Call(bind(ctx, i.h.client))
}

type localeInstaller struct{ h *Host }

func (localeInstaller) Name() string { return "locale" }

func (i localeInstaller) Install(ctx context.Context, snap *surface.Snapshot) error {
	if snap.Profile.Language == "" {
		return surface.ErrSurfaceUnavailable
	}
	return proto.EmulationSetLocaleOverride{Locale: snap.Profile.Language}.Call(bind(ctx, i.h.client))
}

type viewportInstaller struct{ h *Host }

func (viewportInstaller) Name() string { return "viewport" }

func (i viewportInstaller) Install(ctx context.Context, snap *surface.Snapshot) error {
	scr := snap.Screen()
	if scr.Width <= 0 || scr.Height <= 0 {
		return surface.ErrSurfaceUnavailable
	}
	width, height := scr.AvailWidth, scr.AvailHeight
	if width <= 0 || height <= 0 {
		width, height = scr.Width, scr.Height
	}
	return proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: scr.DevicePixelRatio,
		Mobile:            snap.Profile.ClientHints.Mobile,
	}.Call(bind(ctx, i.h.client))
}

// scriptInstaller registers the page script that answers navigator, screen
// and WebGL reads. Each install replaces the previous script.
type scriptInstaller struct{ h *Host }

func (scriptInstaller) Name() string { return "page-script" }

func (i scriptInstaller) Install(ctx context.Context, snap *surface.Snapshot) error {
	source, err := pageScript(snap)
	if err != nil {
		return err
	}
	c := bind(ctx, i.h.client)

	i.h.scriptMu.Lock()
	defer i.h.scriptMu.Unlock()
	if i.h.scriptID != "" {
		if err := (proto.PageRemoveScriptToEvaluateOnNewDocument{Identifier: i.h.scriptID}).Call(c); err != nil {
			return err
		}
		i.h.scriptID = ""
	}
	res, err := proto.PageAddScriptToEvaluateOnNewDocument{Source: source}.Call(c)
	if err != nil {
		return err
	}
	i.h.scriptID = res.Identifier
	return nil
}

type scriptPayload struct {
	Navigator  surface.NavigatorView `json:"navigator"`
	Screen     surface.ScreenView    `json:"screen"`
	WebGL      identity.WebGL        `json:"webgl"`
	BlockWebGL bool                  `json:"blockWebgl"`
}

const pageScriptTemplate = `(() => {
  const v = %s;
  const define = (obj, key, val) => {
    try { Object.defineProperty(obj, key, { get: () => val, configurable: true }); } catch (e) {}
  };
  const nav = Object.getPrototypeOf(navigator);
  for (const key of ["userAgent", "platform", "vendor", "language", "hardwareConcurrency",
    "deviceMemory", "doNotTrack", "maxTouchPoints", "webdriver"]) {
    define(nav, key, v.navigator[key]);
  }
  define(nav, "languages", Object.freeze((v.navigator.languages || []).slice()));
  const scr = Object.getPrototypeOf(screen);
  for (const key of ["width", "height", "availWidth", "availHeight", "colorDepth", "pixelDepth"]) {
    define(scr, key, v.screen[key]);
  }
  define(window, "devicePixelRatio", v.screen.devicePixelRatio);
  for (const proto of [window.WebGLRenderingContext, window.WebGL2RenderingContext]) {
    if (!proto) continue;
    const original = proto.prototype.getParameter;
    proto.prototype.getParameter = function (p) {
      if (p === 37445) return v.webgl.vendor;
      if (p === 37446) return v.webgl.renderer;
      return original.call(this, p);
    };
  }
  if (v.blockWebgl) {
    const getContext = HTMLCanvasElement.prototype.getContext;
    HTMLCanvasElement.prototype.getContext = function (type, ...rest) {
      if (type === "webgl" || type === "webgl2" || type === "experimental-webgl") return null;
      return getContext.call(this, type, ...rest);
    };
  }
})();`

func pageScript(snap *surface.Snapshot) (string, error) {
	data, err := json.Marshal(scriptPayload{
		Navigator:  snap.Navigator(),
		Screen:     snap.Screen(),
		WebGL:      snap.Profile.WebGL,
		BlockWebGL: snap.Privacy.BlockWebGL,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(pageScriptTemplate, data), nil
}
