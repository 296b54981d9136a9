package telephony

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"agent-console/pkg/logger"
)

// CallStatus is a provider call status as forwarded by the backend.
// Values follow the provider's voice status callback.
type CallStatus string

const (
	StatusQueued     CallStatus = "queued"
	StatusRinging    CallStatus = "ringing"
	StatusInProgress CallStatus = "in-progress"
	StatusCompleted  CallStatus = "completed"
	StatusBusy       CallStatus = "busy"
	StatusNoAnswer   CallStatus = "no-answer"
	StatusFailed     CallStatus = "failed"
	StatusCanceled   CallStatus = "canceled"
)

// Terminal reports whether the provider call is over.
func (s CallStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusBusy, StatusNoAnswer, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// StatusForm is the subset of status callback fields the console reads.
// The provider sends application/x-www-form-urlencoded.
type StatusForm struct {
	CallSid    string
	CallStatus CallStatus
	Duration   string
}

func ParseStatusCallback(r *http.Request) (StatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return StatusForm{}, err
	}
	return StatusForm{
		CallSid:    strings.TrimSpace(r.PostFormValue("CallSid")),
		CallStatus: CallStatus(strings.ToLower(strings.TrimSpace(r.PostFormValue("CallStatus")))),
		Duration:   r.PostFormValue("CallDuration"),
	}, nil
}

// StatusHandler receives bridge status callbacks relayed by the backend.
// No business logic here: a terminal status only drops the live call, and
// the call session does the rest.
type StatusHandler struct {
	Bridge *Bridge
	// Token, when set, must match the X-Console-Token header.
	Token string
}

func (h StatusHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Bridge == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "bridge not configured"})
		return
	}
	if h.Token != "" && subtle.ConstantTimeCompare([]byte(c.GetHeader("X-Console-Token")), []byte(h.Token)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	form, err := ParseStatusCallback(c.Request)
	if err != nil || form.CallSid == "" || form.CallStatus == "" {
		log.Warn("bridge status parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	matched := h.Bridge.ProviderStatus(form.CallSid, form.CallStatus)
	log.Info("bridge status", "call_sid", form.CallSid, "status", form.CallStatus, "matched", matched)
	c.Status(http.StatusNoContent)
}
