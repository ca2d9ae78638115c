package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"oobind/internal/ceremony"
)

type PreNegotiateHandler struct {
	Ceremony *ceremony.Service
}

type stepEnvelope struct {
	SessionID string `json:"session_id"`
	Step      string `json:"step"`
}

// Step reads {session_id, step, ...}. The whole body is handed to the step
// as its payload.
func (h *PreNegotiateHandler) Step(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 64<<10))
	if err != nil {
		badRequest(c, err)
		return
	}
	var env stepEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := h.Ceremony.PreNegotiate(c.Request.Context(), env.SessionID, env.Step, raw)
	if err != nil {
		writeError(c, err)
		return
	}
	if resp == nil {
		resp = map[string]any{"status": "ok"}
	}
	c.JSON(http.StatusOK, resp)
}
