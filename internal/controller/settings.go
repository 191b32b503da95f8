package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"shroud/internal/identity"
	"shroud/internal/privacy"
	"shroud/internal/proxy"
)

// SettingsDocument is the exported settings file.
type SettingsDocument struct {
	Spoof   identity.Profile `json:"spoof"`
	Proxy   *proxy.Config    `json:"proxy"`
	Privacy privacy.Settings `json:"privacy"`
}

type importDocument struct {
	Spoof   *identity.Patch `json:"spoof"`
	Proxy   json.RawMessage `json:"proxy"`
	Privacy *privacy.Patch  `json:"privacy"`
}

// importedProxy accepts bypass rules as a joined string or a list.
type importedProxy struct {
	proxy.Input
	BypassRules json.RawMessage `json:"bypassRules"`
}

func (c *Controller) ExportSettings(ctx context.Context) ([]byte, error) {
	var doc SettingsDocument
	err := c.do(ctx, func() {
		doc = SettingsDocument{
			Spoof:   c.profile.Clone(),
			Proxy:   c.deps.Manager.Current(),
			Privacy: c.privacy,
		}
		c.logActivity("settings exported", false)
	})
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(doc, "", "  ")
}

// ImportSettings merges identity and privacy from data and replaces the
// proxy when the document carries one. A document with an invalid proxy is
// rejected as a whole.
func (c *Controller) ImportSettings(ctx context.Context, data []byte) error {
	var doc importDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: settings document: %v", ErrInvalidRequest, err)
	}

	var (
		replaceProxy bool
		cfg          *proxy.Config
	)
	if len(doc.Proxy) > 0 {
		replaceProxy = true
		if !bytes.Equal(bytes.TrimSpace(doc.Proxy), []byte("null")) {
			in, err := decodeImportedProxy(doc.Proxy)
			if err != nil {
				return err
			}
			if !in.IsClear() {
				if cfg, err = proxy.BuildConfig(in); err != nil {
					return err
				}
			}
		}
	}

	var opErr error
	err := c.do(ctx, func() {
		if doc.Spoof != nil {
			c.profile = identity.MergePatch(c.profile, *doc.Spoof)
			c.identityChanged()
		}
		if doc.Privacy != nil {
			c.privacy = privacy.Merge(c.privacy, *doc.Privacy)
			c.privacyChanged()
		}
		if replaceProxy {
			opErr = c.deps.Manager.Replace(ctx, cfg)
			c.proxyChanged()
			if opErr == nil && cfg != nil {
				c.startVerify()
			}
		}
		c.logActivity("settings imported", false)
	})
	if err != nil {
		return err
	}
	return opErr
}

func decodeImportedProxy(raw json.RawMessage) (proxy.Input, error) {
	var p importedProxy
	if err := json.Unmarshal(raw, &p); err != nil {
		return proxy.Input{}, fmt.Errorf("%w: proxy: %v", ErrInvalidRequest, err)
	}
	in := p.Input
	in.BypassRules = ""
	if len(p.BypassRules) > 0 && !bytes.Equal(p.BypassRules, []byte("null")) {
		var joined string
		if err := json.Unmarshal(p.BypassRules, &joined); err == nil {
			in.BypassRules = joined
		} else {
			var list []string
			if err := json.Unmarshal(p.BypassRules, &list); err != nil {
				return proxy.Input{}, fmt.Errorf("%w: proxy bypass rules: %v", ErrInvalidRequest, err)
			}
			in.BypassRules = strings.Join(list, ";")
		}
	}
	return in, nil
}
