package support

import "strings"

const (
	SchemeHTTP   = "http"
	SchemeSOCKS4 = "socks4"
	SchemeSOCKS5 = "socks5"
)

var proxySchemeSet = map[string]struct{}{
	SchemeHTTP:   {},
	SchemeSOCKS4: {},
	SchemeSOCKS5: {},
}

// NormalizeProxyScheme lowercases value and maps the empty string to http.
// The second result is false for schemes the egress path cannot speak.
func NormalizeProxyScheme(value string) (string, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return SchemeHTTP, true
	}
	if value == "https" {
		return SchemeHTTP, true
	}
	_, ok := proxySchemeSet[value]
	return value, ok
}

func IsSocksScheme(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case SchemeSOCKS4, SchemeSOCKS5:
		return true
	default:
		return false
	}
}
