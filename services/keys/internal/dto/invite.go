package dto

type PublishInviteDiscoveryRequest struct {
	InviterKey    string `json:"inviterKey"`
	DTag          string `json:"dTag"`
	RendezvousKey string `json:"rendezvousKey"`
	LinkSecret    string `json:"linkSecret"`
	MaxUses       int    `json:"maxUses"`
}

type InviteDiscoveryResponse struct {
	InviterKey    string `json:"inviterKey"`
	DTag          string `json:"dTag"`
	RendezvousKey string `json:"rendezvousKey"`
	LinkSecret    string `json:"linkSecret"`
	MaxUses       int    `json:"maxUses"`
}
