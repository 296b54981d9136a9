package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for the console.
// AgentID must be present on every token; one agent owns one console.
// Campaigns optionally restricts which campaigns the agent may work.
type Claims struct {
	jwt.RegisteredClaims

	AgentID   string    `json:"agent_id"`
	Role      string    `json:"role"`
	Campaigns []string  `json:"campaigns,omitempty"`
	TokenType TokenType `json:"token_type"`
}

// AllowsCampaign reports whether the token may work campaignID.
func (c Claims) AllowsCampaign(campaignID string) bool {
	return allows(c.Campaigns, campaignID)
}

func allows(campaigns []string, campaignID string) bool {
	if len(campaigns) == 0 {
		return true
	}
	for _, id := range campaigns {
		if id == campaignID {
			return true
		}
	}
	return false
}
