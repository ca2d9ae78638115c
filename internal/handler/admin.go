package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"oobind/internal/ceremony"
	"oobind/internal/logging"
	"oobind/internal/middleware"
)

type AdminHandler struct {
	Ceremony *ceremony.Service
	Logger   logging.Logger
}

func (h *AdminHandler) audit(c *gin.Context, action string, args ...any) {
	operator, _ := middleware.OperatorFromContext(c)
	h.Logger.Info(c.Request.Context(), action, append([]any{"operator", operator}, args...)...)
}

func (h *AdminHandler) Expire(c *gin.Context) {
	id := c.Param("id")
	if err := h.Ceremony.Expire(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	h.audit(c, "admin expired session", "session", id)
	c.JSON(http.StatusOK, gin.H{"status": "expired", "session_id": id})
}

func (h *AdminHandler) ExpireAll(c *gin.Context) {
	n, err := h.Ceremony.ExpireAll(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	h.audit(c, "admin expired all sessions", "count", n)
	c.JSON(http.StatusOK, gin.H{"status": "expired", "count": n})
}

// List reports session ids and states. Keys, codes and results stay out.
func (h *AdminHandler) List(c *gin.Context) {
	sessions, err := h.Ceremony.Sessions(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]gin.H, 0, len(sessions))
	for _, sess := range sessions {
		resp = append(resp, gin.H{
			"session_id":   sess.ID,
			"state":        sess.State,
			"negotiations": sess.NegotiationCount,
			"compromised":  sess.Compromised,
			"created_at":   sess.CreatedAt,
			"updated_at":   sess.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": resp})
}
