// Package registry is the client registry collaborator the protocol
// driver assumes but never touches directly (spec.md §3.1): a store
// mapping client identifier to current lifecycle state, kept outside
// the driver so the driver stays pure.
package registry

import "time"

// Record is everything the registry keeps about one client of a
// campaign.
type Record struct {
	ClientID      string            `json:"client_id"`
	CampaignID    string            `json:"campaign_id"`
	State         string            `json:"state"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
	JoinedAt      time.Time         `json:"joined_at"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}
