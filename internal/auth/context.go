package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxAgentID ctxKey = iota
	ctxRole
	ctxCampaigns
)

func WithIdentity(ctx context.Context, agentID, role string, campaigns []string) context.Context {
	ctx = context.WithValue(ctx, ctxAgentID, agentID)
	ctx = context.WithValue(ctx, ctxRole, role)
	ctx = context.WithValue(ctx, ctxCampaigns, campaigns)
	return ctx
}

func AgentID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxAgentID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("agent_id not in context")
}

func Role(ctx context.Context) (string, error) {
	v := ctx.Value(ctxRole)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("role not in context")
}

// CampaignAllowed reports whether the caller's token permits campaignID.
// Tokens without a campaign list permit every campaign.
func CampaignAllowed(ctx context.Context, campaignID string) bool {
	campaigns, _ := ctx.Value(ctxCampaigns).([]string)
	return allows(campaigns, campaignID)
}
