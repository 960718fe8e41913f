package registry

import "fmt"

// CampaignKey constructs a fully qualified Redis key for a client
// record within a campaign namespace.
// Format: fedcoord:campaigns:{campaignID}:clients:{clientID}
func CampaignKey(campaignID string, clientID string) string {
	return fmt.Sprintf("fedcoord:campaigns:%s:clients:%s", campaignID, clientID)
}

// CampaignPrefix constructs a scan pattern for every client record in
// a campaign namespace.
// Format: fedcoord:campaigns:{campaignID}:clients:
func CampaignPrefix(campaignID string) string {
	return fmt.Sprintf("fedcoord:campaigns:%s:clients:", campaignID)
}
