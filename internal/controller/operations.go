package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"shroud/internal/config"
	"shroud/internal/geo"
	"shroud/internal/identity"
	"shroud/internal/privacy"
	"shroud/internal/proxy"
	"shroud/internal/relay"
)

// GenerateRequest selects how a new identity is produced. An explicit user
// agent replaces only the agent string.
type GenerateRequest struct {
	Random    bool   `json:"random"`
	UserAgent string `json:"ua"`
}

func (c *Controller) GenerateIdentity(ctx context.Context, req GenerateRequest) (identity.Profile, error) {
	var out identity.Profile
	err := c.do(ctx, func() {
		ua := strings.TrimSpace(req.UserAgent)
		switch {
		case req.Random:
			c.profile = identity.Generate(c.rng)
			c.logActivity("generated random identity", false)
		case ua != "":
			c.profile = identity.SetExplicitUserAgent(c.profile, ua)
			c.logActivity("user agent updated", false)
		default:
			c.profile = identity.Generate(c.rng)
			c.logActivity("generated new identity", false)
		}
		c.identityChanged()
		out = c.profile.Clone()
	})
	return out, err
}

// PatchIdentity merges a partial profile into the current one.
func (c *Controller) PatchIdentity(ctx context.Context, patch identity.Patch) (identity.Profile, error) {
	var out identity.Profile
	err := c.do(ctx, func() {
		if patch.IsEmpty() {
			out = c.profile.Clone()
			return
		}
		c.profile = identity.MergePatch(c.profile, patch)
		c.identityChanged()
		c.logActivity("identity updated", false)
		out = c.profile.Clone()
	})
	return out, err
}

func (c *Controller) SetPrivacy(ctx context.Context, patch privacy.Patch) (privacy.Settings, error) {
	var out privacy.Settings
	err := c.do(ctx, func() {
		c.privacy = privacy.Merge(c.privacy, patch)
		c.privacyChanged()
		c.logActivity("privacy settings updated", false)
		out = c.privacy
	})
	return out, err
}

// SetProxy validates and applies in, then verifies it in the background. An
// input without a host removes the proxy.
func (c *Controller) SetProxy(ctx context.Context, in proxy.Input) (proxy.Status, error) {
	var (
		status proxy.Status
		opErr  error
	)
	err := c.do(ctx, func() {
		m := c.deps.Manager
		if in.IsClear() {
			if opErr = m.Clear(ctx); opErr != nil {
				c.logActivity(fmt.Sprintf("failed to disable proxy: %v", opErr), true)
			} else {
				c.logActivity("proxy settings removed", false)
			}
			c.proxyChanged()
			status = m.Status()
			return
		}

		cfg, err := m.SetConfig(ctx, in)
		if err != nil {
			opErr = err
			if cfg == nil {
				c.logActivity(fmt.Sprintf("proxy rejected: %v", err), true)
			} else {
				c.logActivity(fmt.Sprintf("failed to apply proxy: %v", err), true)
			}
			c.proxyChanged()
			status = m.Status()
			return
		}
		c.logActivity("proxy set: "+cfg.URL(), false, "proxy", cfg.URL())
		c.proxyChanged()
		c.startVerify()
		status = m.Status()
	})
	if err != nil {
		return proxy.Status{}, err
	}
	return status, opErr
}

func (c *Controller) ClearProxy(ctx context.Context) (proxy.Status, error) {
	return c.SetProxy(ctx, proxy.Input{})
}

func (c *Controller) SaveProxyProfile(ctx context.Context, name string, in proxy.Input) (proxy.Profile, error) {
	var (
		profile proxy.Profile
		opErr   error
	)
	err := c.do(ctx, func() {
		profile, opErr = c.deps.Manager.SaveProfile(ctx, name, in)
		if profile.ID == "" {
			c.logActivity(fmt.Sprintf("proxy profile rejected: %v", opErr), true)
			return
		}
		c.logActivity("saved new proxy: "+profile.Name, false)
		if opErr != nil {
			c.logActivity(fmt.Sprintf("proxy error: %v", opErr), true)
		}
		c.proxyChanged()
		if c.routeApplied() {
			c.startVerify()
		}
	})
	if err != nil {
		return proxy.Profile{}, err
	}
	return profile, opErr
}

func (c *Controller) SelectProxyProfile(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty profile id", ErrInvalidRequest)
	}
	var opErr error
	err := c.do(ctx, func() {
		m := c.deps.Manager
		profile, ok := m.Profiles().Find(id)
		if !ok {
			opErr = fmt.Errorf("%w: %s", proxy.ErrProfileNotFound, id)
			return
		}
		opErr = m.Select(ctx, id)
		c.proxyChanged()
		if !c.routeApplied() {
			c.logActivity(fmt.Sprintf("proxy error: %v", opErr), true)
			return
		}
		if opErr != nil {
			c.logActivity(fmt.Sprintf("proxy error: %v", opErr), true)
		}
		c.logActivity("activated saved proxy: "+profile.Name, false)
		c.startVerify()
	})
	if err != nil {
		return err
	}
	return opErr
}

// DeleteProxyProfile removes a stored profile. The applied proxy is kept even
// when the deleted profile was the active one.
func (c *Controller) DeleteProxyProfile(ctx context.Context, id string) (bool, error) {
	if strings.TrimSpace(id) == "" {
		return false, fmt.Errorf("%w: empty profile id", ErrInvalidRequest)
	}
	var (
		removed bool
		opErr   error
	)
	err := c.do(ctx, func() {
		removed, opErr = c.deps.Manager.Delete(ctx, id)
		if removed {
			c.logActivity("saved proxy deleted", false)
			c.proxyChanged()
		}
	})
	if err != nil {
		return false, err
	}
	return removed, opErr
}

// TestProxy probes in through an isolated session. It runs on the caller's
// goroutine and leaves all controller state untouched apart from the log.
func (c *Controller) TestProxy(ctx context.Context, in proxy.Input) proxy.TestResult {
	res := c.deps.Manager.TestConnection(ctx, in)
	c.post(func() {
		if res.OK {
			c.logActivity(fmt.Sprintf("proxy test succeeded: %s (%s)", res.IP, res.Country), false)
		} else {
			c.logActivity("proxy test failed: "+res.Error, true)
		}
	})
	return res
}

// RefreshGeo looks up the public address over the live session. The lookup
// runs on the caller's goroutine; only the result goes through the loop.
func (c *Controller) RefreshGeo(ctx context.Context) (geo.Result, error) {
	res, err := c.deps.Prober.Lookup(ctx, c.deps.Session.Client())
	if err != nil {
		c.post(func() { c.logActivity(fmt.Sprintf("geo lookup failed: %v", err), true) })
		return res, err
	}
	if doErr := c.do(ctx, func() { c.setGeo(res) }); doErr != nil {
		return res, doErr
	}
	return res, nil
}

func (c *Controller) ClearData(ctx context.Context) error {
	if c.deps.Clearer == nil {
		return ErrNoDataClearer
	}
	if err := c.deps.Clearer.ClearData(ctx); err != nil {
		c.post(func() { c.logActivity(fmt.Sprintf("failed to clear data: %v", err), true) })
		return err
	}
	return c.do(ctx, func() {
		c.logActivity("all browsing data cleared (cookies, storage, cache)", false)
	})
}

// Start loads the stored proxy profiles and verifies the restored proxy.
func (c *Controller) Start(ctx context.Context) error {
	var loadErr error
	err := c.do(ctx, func() {
		m := c.deps.Manager
		loadErr = m.Load(ctx)
		if cfg := m.Current(); cfg != nil {
			c.logActivity("restored saved proxy: "+cfg.URL(), false)
			c.proxyChanged()
			c.startVerify()
		}
	})
	if err != nil {
		return err
	}
	return loadErr
}

// ApplyConfig applies the hot-reloadable parts of cfg.
func (c *Controller) ApplyConfig(ctx context.Context, cfg *config.Config) error {
	return c.do(ctx, func() {
		if c.deps.Pipeline != nil {
			c.deps.Pipeline.SetExtraPatterns(cfg.Filter.ExtraTrackerPatterns, cfg.Filter.ExtraAdPatterns)
		}
		c.logActivity("configuration reloaded", false)
	})
}

// routeApplied reports whether the manager's configuration reached the
// session. A failed apply leaves the manager in Failed.
func (c *Controller) routeApplied() bool {
	return c.deps.Manager.Status().State != proxy.Failed
}

func (c *Controller) startVerify() {
	ctx := c.runCtx
	go func() {
		res, err := c.deps.Manager.Verify(ctx)
		c.post(func() { c.onVerified(res, err) })
	}()
}

func (c *Controller) onVerified(res geo.Result, err error) {
	switch {
	case err == nil:
		c.logActivity(fmt.Sprintf("proxy verified: %s (%s)", res.IP, res.CountryName), false)
		c.profile = identity.ApplyGeoHint(c.profile, res.CountryCode, res.Timezone)
		c.identityChanged()
		c.setGeo(res)
	case errors.Is(err, proxy.ErrVerifySuperseded), errors.Is(err, proxy.ErrNoConfig):
		return
	case c.deps.Manager.Status().State == proxy.Disabled:
		c.logActivity(fmt.Sprintf("proxy unreachable, reverted to direct connection: %v", err), true)
	default:
		c.logActivity(fmt.Sprintf("proxy verification failed: %v", err), true)
	}
	c.proxyChanged()
}

func (c *Controller) setGeo(res geo.Result) {
	c.geo = res
	c.publish(relay.KindGeo, res)
	if res.IP != "" {
		c.publish(relay.KindPublicIP, res.IP)
	}
}

func (c *Controller) identityChanged() {
	c.commitFilterState()
	c.publish(relay.KindIdentity, c.profile)
}

func (c *Controller) privacyChanged() {
	c.commitFilterState()
	c.publish(relay.KindPrivacy, c.privacy)
}

func (c *Controller) proxyChanged() {
	m := c.deps.Manager
	c.publish(relay.KindProxy, struct {
		Status   proxy.Status   `json:"status"`
		Profiles proxy.Document `json:"profiles"`
	}{m.Status(), m.Profiles()})
}
