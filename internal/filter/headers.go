package filter

import (
	"net/http"
	"net/url"
	"strings"

	"shroud/internal/identity"
)

// synthesizeHeaders rewrites identity-bearing request headers from the
// profile. A referer is only added when absent, and only ever as the
// request's own origin.
func synthesizeHeaders(req *Request, st State) Decision {
	h := cloneHeader(req.Header)
	p := st.Profile

	if al := identity.AcceptLanguage(p); al != "" {
		setHeader(h, "Accept-Language", al)
	}
	if p.UserAgent != "" {
		setHeader(h, "User-Agent", p.UserAgent)
	}
	if p.DoNotTrack != "" {
		setHeader(h, "DNT", p.DoNotTrack)
	}

	setHeader(h, "Sec-CH-UA", identity.BrandHeader(p))
	mobile := "?0"
	if p.ClientHints.Mobile {
		mobile = "?1"
	}
	setHeader(h, "Sec-CH-UA-Mobile", mobile)
	setHeader(h, "Sec-CH-UA-Platform", `"`+identity.PlatformNameFromPlatform(p.Platform)+`"`)

	if _, ok := lookupKey(h, "Referer"); !ok {
		if origin := originOf(req.URL); origin != "" {
			setHeader(h, "Referer", origin)
		}
	}

	return Decision{Action: Modify, Header: h}
}

// setHeader replaces every value of name, matching keys case-insensitively
// and keeping the casing already present. New keys use canonical casing.
func setHeader(h http.Header, name, value string) {
	if key, ok := lookupKey(h, name); ok {
		h[key] = []string{value}
		return
	}
	h[http.CanonicalHeaderKey(name)] = []string{value}
}

func lookupKey(h http.Header, name string) (string, bool) {
	for key := range h {
		if strings.EqualFold(key, name) {
			return key, true
		}
	}
	return "", false
}

// HeaderValue reads name case-insensitively.
func HeaderValue(h http.Header, name string) string {
	if key, ok := lookupKey(h, name); ok && len(h[key]) > 0 {
		return h[key][0]
	}
	return ""
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/"
}
