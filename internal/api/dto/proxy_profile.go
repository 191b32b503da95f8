package dto

import "shroud/internal/proxy"

type ProxyProfileCreateRequest struct {
	Name  string      `json:"name"`
	Proxy proxy.Input `json:"proxy"`
}

type ProxyProfileList struct {
	Profiles []proxy.Profile `json:"profiles"`
	ActiveID string          `json:"active_id,omitempty"`
}

type ProxyProfileDeleted struct {
	ID      string `json:"id"`
	Removed bool   `json:"removed"`
}
