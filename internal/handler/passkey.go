package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"oobind/internal/passkey"
)

type PasskeyHandler struct {
	Verifier *passkey.Verifier
}

type usernameBody struct {
	Username string `json:"username"`
}

func (h *PasskeyHandler) RegisterStart(c *gin.Context) {
	var body usernameBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}

	options, err := h.Verifier.BeginRegistration(c.Request.Context(), body.Username)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, options)
}

type registerFinishBody struct {
	Username            string          `json:"username"`
	AttestationResponse json.RawMessage `json:"attestationResponse"`
}

func (h *PasskeyHandler) RegisterFinish(c *gin.Context) {
	var body registerFinishBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.Verifier.FinishRegistration(c.Request.Context(), body.Username, body.AttestationResponse); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "registered"})
}

func (h *PasskeyHandler) AuthStart(c *gin.Context) {
	var body usernameBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}

	options, err := h.Verifier.BeginLogin(c.Request.Context(), body.Username)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, options)
}
