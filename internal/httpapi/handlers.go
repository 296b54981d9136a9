package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"agent-console/internal/auth"
	"agent-console/internal/calls"
	"agent-console/internal/console"
	"agent-console/internal/fault"
	"agent-console/internal/hub"
	"agent-console/internal/notify"
	"agent-console/internal/rbac"
	"agent-console/internal/reporting"
	"agent-console/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call the agent's console, return its state.
type Handlers struct {
	Auth     *auth.Manager
	Consoles *console.Registry
	Hub      *hub.Hub
	Stats    *reporting.Service
	// DevLogin enables token issuance without credentials. Local use only.
	DevLogin bool
}

// --- Auth ---

type loginRequest struct {
	AgentID   string   `json:"agent_id"`
	Role      string   `json:"role"`
	Campaigns []string `json:"campaigns,omitempty"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a development endpoint. Production tokens come from the CRM.
func (h Handlers) Login(c *gin.Context) {
	if !h.DevLogin {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.AgentID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), auth.Identity{AgentID: req.AgentID, Role: req.Role, Campaigns: req.Campaigns})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Console ---

// console opens the caller's console. It writes the error response itself.
func (h Handlers) console(c *gin.Context) (*console.Controller, bool) {
	if h.Consoles == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "console not configured"})
		return nil, false
	}
	agentID, err := auth.AgentID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "agent_id required"})
		return nil, false
	}
	ctrl, err := h.Consoles.Open(c.Request.Context(), agentID)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return ctrl, true
}

// respond returns the console state after an action, or the mapped error.
func respond(c *gin.Context, ctrl *console.Controller, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, fault.ErrValidation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, fault.ErrPrecondition):
		status = http.StatusConflict
	case errors.Is(err, fault.ErrTransport), errors.Is(err, fault.ErrNetwork):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError || status == http.StatusBadGateway {
		logger.FromGin(c).Warn("console action failed", "status", status, "err", err)
	}
	body := gin.H{"error": notify.Message(err)}
	if rule := fault.RuleOf(err); rule != "" {
		body["rule"] = rule
	}
	c.AbortWithStatusJSON(status, body)
}

func (h Handlers) State(c *gin.Context) {
	ctrl, ok := h.console(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

type campaignRequest struct {
	CampaignID string `json:"campaign_id"`
}

func (h Handlers) SelectCampaign(c *gin.Context) {
	var req campaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.CampaignID = strings.TrimSpace(req.CampaignID)
	if req.CampaignID != "" && !auth.CampaignAllowed(c.Request.Context(), req.CampaignID) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "campaign not allowed"})
		return
	}
	ctrl, ok := h.console(c)
	if !ok {
		return
	}
	respond(c, ctrl, ctrl.SelectCampaign(req.CampaignID))
}

func (h Handlers) StartWork(c *gin.Context) {
	ctrl, ok := h.console(c)
	if !ok {
		return
	}
	respond(c, ctrl, ctrl.StartWork(c.Request.Context()))
}

func (h Handlers) StopWork(c *gin.Context) {
	ctrl, ok := h.console(c)
	if !ok {
		return
	}
	respond(c, ctrl, ctrl.StopWork(c.Request.Context()))
}

// NextContact answers with the state; an empty queue leaves contact unset.
func (h Handlers) NextContact(c *gin.Context) {
	ctrl, ok := h.console(c)
	if !ok {
		return
	}
	_, err := ctrl.NextContact(c.Request.Context())
	respond(c, ctrl, err)
}

func (h Handlers) Dial(c *gin.Context) {
	ctrl, ok := h.console(c)
	if !ok {
		return
	}
	respond(c, ctrl, ctrl.Dial(c.Request.Context()))
}

func (h Handlers) EndCall(c *gin.Context) {
	ctrl, ok := h.console(c)
	if !ok {
		return
	}
	respond(c, ctrl, ctrl.EndCall(c.Request.Context()))
}

type callbackRequest struct {
	// At is RFC 3339. A value without offset is read in the business zone.
	At    string `json:"at"`
	Notes string `json:"notes"`
}

func (h Handlers) PlanCallback(c *gin.Context) {
	var req callbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ctrl, ok := h.console(c)
	if !ok {
		return
	}
	at, err := parseCallbackTime(req.At, ctrl.Location())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "at must be a date-time like 2006-01-02T15:04"})
		return
	}
	_, err = ctrl.PlanCallback(at, req.Notes)
	respond(c, ctrl, err)
}

func parseCallbackTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", v, loc); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04", v, loc)
}

func (h Handlers) ConfirmCallback(c *gin.Context) {
	ctrl, ok := h.console(c)
	if !ok {
		return
	}
	_, err := ctrl.ConfirmCallback()
	respond(c, ctrl, err)
}

type outcomeRequest struct {
	Outcome calls.Outcome `json:"outcome"`
	Notes   string        `json:"notes"`
}

func (h Handlers) SaveOutcome(c *gin.Context) {
	var req outcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ctrl, ok := h.console(c)
	if !ok {
		return
	}
	respond(c, ctrl, ctrl.SaveOutcome(c.Request.Context(), req.Outcome, req.Notes))
}

type noteRequest struct {
	Text string `json:"text"`
}

func (h Handlers) AddNote(c *gin.Context) {
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ctrl, ok := h.console(c)
	if !ok {
		return
	}
	respond(c, ctrl, ctrl.AddNote(c.Request.Context(), req.Text))
}

// Close disposes the caller's console, as when the UI is unloaded.
func (h Handlers) Close(c *gin.Context) {
	if h.Consoles == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "console not configured"})
		return
	}
	agentID, _ := auth.AgentID(c.Request.Context())
	h.Consoles.Close(c.Request.Context(), agentID)
	c.Status(http.StatusNoContent)
}

// Events streams the caller's console events over a websocket. Supervisors
// receive the events of every agent.
func (h Handlers) Events(c *gin.Context) {
	if h.Hub == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event hub not configured"})
		return
	}
	agentID, _ := auth.AgentID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	supervisor := rbac.SeesAllAgents(role)

	if !supervisor {
		// Opening the console pushes the initial state to the new client.
		if _, ok := h.console(c); !ok {
			return
		}
	}
	if err := h.Hub.Serve(c.Writer, c.Request, agentID, supervisor); err != nil {
		logger.FromGin(c).Warn("websocket upgrade failed", "err", err)
	}
}

// --- Stats ---

// DayStats returns the caller's outcome tally for one day (?date=2006-01-02,
// default today) and optional campaign.
func (h Handlers) DayStats(c *gin.Context) {
	if h.Stats == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stats not configured"})
		return
	}
	agentID, _ := auth.AgentID(c.Request.Context())
	campaignID := c.Query("campaign_id")

	var (
		sum reporting.DaySummary
		err error
	)
	if d := c.Query("date"); d != "" {
		day, perr := time.ParseInLocation("2006-01-02", d, h.Stats.Location())
		if perr != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		sum, err = h.Stats.DaySummary(c.Request.Context(), reporting.DaySummaryRequest{
			AgentID:    agentID,
			CampaignID: campaignID,
			Range:      reporting.TimeRange{From: day, To: day.AddDate(0, 0, 1)},
		})
	} else {
		sum, err = h.Stats.Today(c.Request.Context(), agentID, campaignID)
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sum)
}

// --- Supervisor ---

// ListConsoles returns the state of every console open on this instance.
// RBAC: supervisor or admin.
func (h Handlers) ListConsoles(c *gin.Context) {
	if h.Consoles == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "console not configured"})
		return
	}
	out := []console.Snapshot{}
	for _, id := range h.Consoles.Agents() {
		if ctrl, ok := h.Consoles.Get(id); ok {
			out = append(out, ctrl.Snapshot())
		}
	}
	c.JSON(http.StatusOK, gin.H{"consoles": out})
}

func (h Handlers) GetConsole(c *gin.Context) {
	if h.Consoles == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "console not configured"})
		return
	}
	ctrl, ok := h.Consoles.Get(c.Param("agent_id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "console not open"})
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

// Convenience middleware bundles.

func RequireAgentAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireAgent(), rbac.RequireAnyRole(roles...)}
}
