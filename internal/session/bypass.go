package session

import (
	"net"
	"strings"
)

// MatchBypass reports whether host is excluded from proxying by rules.
// Supported rules: "<local>" (dotless hostnames), exact hosts, bracketed
// IPv6 literals and "*.suffix" wildcards.
func MatchBypass(host string, rules []string) bool {
	host = strings.ToLower(strings.Trim(strings.TrimSpace(host), "[]"))
	if host == "" {
		return false
	}
	for _, raw := range rules {
		rule := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case rule == "":
			continue
		case rule == "<local>":
			if !strings.Contains(host, ".") && net.ParseIP(host) == nil {
				return true
			}
		case strings.HasPrefix(rule, "*."):
			suffix := rule[1:]
			if strings.HasSuffix(host, suffix) || host == suffix[1:] {
				return true
			}
		default:
			if host == strings.Trim(rule, "[]") {
				return true
			}
		}
	}
	return false
}
