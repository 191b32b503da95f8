package dto

import "shroud/internal/relay"

// InstanceList is this engine plus every peer seen on the redis relay.
type InstanceList struct {
	Self  relay.Instance   `json:"self"`
	Peers []relay.Instance `json:"peers"`
}
