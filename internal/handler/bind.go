package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"oobind/internal/ceremony"
	"oobind/internal/handshake"
	"oobind/internal/model"
)

type BindHandler struct {
	Ceremony   *ceremony.Service
	Negotiator *handshake.Negotiator
	// ReportCompromised answers a repeated negotiate with status
	// "compromised" instead of "negotiated".
	ReportCompromised bool
}

func (h *BindHandler) Handshake(c *gin.Context) {
	var body handshake.Request
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	if body.RequestingOrigin == "" {
		body.RequestingOrigin = c.GetHeader("Origin")
	}
	c.JSON(http.StatusOK, h.Negotiator.Negotiate(body))
}

type initializeBody struct {
	PublicKey model.PublicKey `json:"public_key"`
}

func (h *BindHandler) Initialize(c *gin.Context) {
	var body initializeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}

	id, err := h.Ceremony.Initialize(c.Request.Context(), body.PublicKey)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "initialized", "session_id": id})
}

type negotiateBody struct {
	SessionID string `json:"session_id"`

	// Passkey deployments.
	Username          string          `json:"username"`
	AssertionResponse json.RawMessage `json:"assertionResponse"`
	Proof             json.RawMessage `json:"proof"`

	// File-transfer deployments.
	FileName string `json:"fileName"`
	FileSize *int64 `json:"fileSize"`
	FileType string `json:"fileType"`
}

func (b negotiateBody) request() ceremony.NegotiateRequest {
	req := ceremony.NegotiateRequest{
		SessionID: b.SessionID,
		Username:  b.Username,
		Proof:     b.AssertionResponse,
	}
	if len(req.Proof) == 0 {
		req.Proof = b.Proof
	}
	if b.FileName != "" || b.FileSize != nil {
		size := int64(-1)
		if b.FileSize != nil {
			size = *b.FileSize
		}
		req.File = &model.FileMetadata{FileName: b.FileName, FileSize: size, FileType: b.FileType}
	}
	return req
}

func (h *BindHandler) Negotiate(c *gin.Context) {
	var body negotiateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.Ceremony.Negotiate(c.Request.Context(), body.request())
	if err != nil {
		writeError(c, err)
		return
	}

	resp := gin.H{"status": "negotiated", "pairing_code": res.PairingCode}
	if res.Compromised && h.ReportCompromised {
		resp["status"] = "compromised"
		resp["message"] = "session was already negotiated by another device"
	}
	for k, v := range res.Response {
		resp[k] = v
	}
	c.JSON(http.StatusOK, resp)
}

type completeBody struct {
	SessionID   string `json:"session_id"`
	PairingCode string `json:"pairing_code"`
	Timestamp   string `json:"timestamp"`
	Signature   string `json:"signature"`
}

func (h *BindHandler) Complete(c *gin.Context) {
	var body completeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.Ceremony.Complete(c.Request.Context(), ceremony.CompleteRequest{
		SessionID:   body.SessionID,
		PairingCode: body.PairingCode,
		Timestamp:   body.Timestamp,
		Signature:   body.Signature,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	if res.Status == ceremony.StatusPending {
		c.JSON(http.StatusOK, gin.H{"status": ceremony.StatusPending})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      ceremony.StatusComplete,
		"result":      res.Result,
		"compromised": res.Compromised,
	})
}

type cancelBody struct {
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`
	Signature string `json:"signature"`
}

func (h *BindHandler) Cancel(c *gin.Context) {
	var body cancelBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.Ceremony.Cancel(c.Request.Context(), body.SessionID, body.Timestamp, body.Signature); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}
