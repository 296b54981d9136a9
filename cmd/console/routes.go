package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"agent-console/internal/httpapi"
	"agent-console/internal/rbac"
	"agent-console/internal/telephony"
	"agent-console/pkg/utils"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	handlers httpapi.Handlers
	authMW   gin.HandlerFunc
	status   telephony.StatusHandler
	db       *sql.DB
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	h := d.handlers

	// public
	r.GET("/healthz", func(c *gin.Context) {
		if d.db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := utils.HealthCheck(ctx, d.db, 2*time.Second); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Bridge status callbacks relayed by the CRM. Authenticated by shared token.
	r.POST("/v1/telephony/bridge/status", d.status.Handle)

	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(d.authMW)
	{
		// CONSOLE routes: the caller's own console.
		con := v1.Group("/console")
		con.Use(httpapi.RequireAgentAndAnyRole(rbac.RoleAgent, rbac.RoleSupervisor)...)
		{
			con.GET("/state", h.State)
			con.GET("/events", h.Events)
			con.GET("/stats", h.DayStats)
			con.POST("/campaign", h.SelectCampaign)
			con.POST("/work/start", h.StartWork)
			con.POST("/work/stop", h.StopWork)
			con.POST("/contacts/next", h.NextContact)
			con.POST("/call/dial", h.Dial)
			con.POST("/call/end", h.EndCall)
			con.POST("/callback/plan", h.PlanCallback)
			con.POST("/callback/confirm", h.ConfirmCallback)
			con.POST("/outcome", h.SaveOutcome)
			con.POST("/notes", h.AddNote)
			con.DELETE("", h.Close)
		}

		// SUPERVISOR routes
		sup := v1.Group("/supervisor")
		sup.Use(rbac.RequireAnyRole(rbac.RoleSupervisor))
		{
			sup.GET("/consoles", h.ListConsoles)
			sup.GET("/consoles/:agent_id", h.GetConsole)
		}
	}
}
