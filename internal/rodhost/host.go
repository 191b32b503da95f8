// Package rodhost drives a Chromium page through the DevTools protocol and
// exposes it as a surface host: profile overrides are issued as CDP
// commands and page traffic is routed through the filter pipeline.
package rodhost

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"shroud/internal/filter"
	"shroud/internal/surface"
)

type Options struct {
	Headless bool
	// Proxy is handed to Chromium as --proxy-server for traffic the
	// request hijacker does not see.
	Proxy string
	// Bin overrides the browser binary; empty lets rod fetch one.
	Bin string
}

type Host struct {
	client proto.Client

	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher
	router   *rod.HijackRouter

	document atomic.Value // string

	scriptMu sync.Mutex
	scriptID proto.PageScriptIdentifier
}

// Launch starts Chromium and opens a stealth page.
func Launch(ctx context.Context, opts Options) (*Host, error) {
	l := launcher.New().Context(ctx).Headless(opts.Headless)
	if opts.Proxy != "" {
		l = l.Proxy(opts.Proxy)
	}
	if opts.Bin != "" {
		l = l.Bin(opts.Bin)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, err
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, err
	}

	page, err := stealth.Page(browser)
	if err != nil {
		_ = browser.Close()
		l.Kill()
		return nil, err
	}

	log.Info("browser host started", "headless", opts.Headless, "proxy", opts.Proxy)
	return &Host{client: page, browser: browser, page: page, launcher: l}, nil
}

func (h *Host) Installers() []surface.Installer {
	return []surface.Installer{
		userAgentInstaller{h},
		timezoneInstaller{h},
		localeInstaller{h},
		viewportInstaller{h},
		scriptInstaller{h},
	}
}

// Navigate loads rawURL in the managed page.
func (h *Host) Navigate(rawURL string) error {
	if h.page == nil {
		return surface.ErrSurfaceUnavailable
	}
	h.document.Store(rawURL)
	return h.page.Navigate(rawURL)
}

// ClearData drops cookies and the HTTP cache, plus the storage of the
// current document's origin.
func (h *Host) ClearData(ctx context.Context) error {
	c := bind(ctx, h.client)
	errs := []error{
		proto.NetworkClearBrowserCookies{}.Call(c),
		proto.NetworkClearBrowserCache{}.Call(c),
	}
	if origin := originOf(h.documentURL()); origin != "" {
		errs = append(errs, proto.StorageClearDataForOrigin{Origin: origin, StorageTypes: "all"}.Call(c))
	}
	return errors.Join(errs...)
}

// Intercept routes every page request through p. Allowed requests are
// fetched with client so they leave through the managed session.
func (h *Host) Intercept(p *filter.Pipeline, client *http.Client) error {
	if h.page == nil {
		return surface.ErrSurfaceUnavailable
	}
	router := h.page.HijackRequests()
	if err := router.Add("*", "", func(hj *rod.Hijack) {
		h.serveHijack(p, client, hj)
	}); err != nil {
		return err
	}
	go router.Run()
	h.router = router
	return nil
}

func (h *Host) Close() error {
	var errs []error
	if h.router != nil {
		errs = append(errs, h.router.Stop())
	}
	if h.browser != nil {
		errs = append(errs, h.browser.Close())
	}
	if h.launcher != nil {
		h.launcher.Kill()
		h.launcher.Cleanup()
	}
	return errors.Join(errs...)
}

func (h *Host) documentURL() string {
	v, _ := h.document.Load().(string)
	return v
}

// boundClient carries ctx into proto calls while keeping the page session.
type boundClient struct {
	ctx context.Context
	proto.Client
}

func (b boundClient) GetContext() context.Context { return b.ctx }

func (b boundClient) GetSessionID() proto.TargetSessionID {
	if s, ok := b.Client.(proto.Sessionable); ok {
		return s.GetSessionID()
	}
	return ""
}

func bind(ctx context.Context, c proto.Client) boundClient {
	if ctx == nil {
		ctx = context.Background()
	}
	return boundClient{ctx: ctx, Client: c}
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
