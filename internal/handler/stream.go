package handler

import (
	"mime"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"oobind/internal/logging"
	"oobind/internal/model"
	"oobind/internal/protoerr"
	"oobind/internal/relay"
)

const uploadSecretHeader = "X-Upload-Secret"

type StreamHandler struct {
	Relay  *relay.Relay
	Logger logging.Logger
}

// Upload holds the request open until the paired download has finished.
func (h *StreamHandler) Upload(c *gin.Context) {
	n, err := h.Relay.ConnectUploader(c.Request.Context(), c.Param("id"), c.GetHeader(uploadSecretHeader), c.Request.Body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "uploaded", "bytes": n})
}

type downloadProof struct {
	PublicKey string `json:"public_key" form:"public_key"`
	Message   string `json:"message" form:"message"`
	Signature string `json:"signature" form:"signature"`
}

// Download accepts the proof as JSON or as a form post and streams the
// uploader's bytes back as an attachment. The response declares the file
// size up front, so a transfer that fails midway reaches the client as a
// truncated body rather than a short success.
func (h *StreamHandler) Download(c *gin.Context) {
	var proof downloadProof
	var err error
	if c.ContentType() == gin.MIMEPOSTForm {
		err = c.ShouldBind(&proof)
	} else {
		err = c.ShouldBindJSON(&proof)
	}
	if err != nil {
		badRequest(c, err)
		return
	}
	if proof.PublicKey == "" || proof.Message == "" || proof.Signature == "" {
		writeError(c, protoerr.New(protoerr.CodeMissingProof, "public_key, message and signature are required"))
		return
	}

	ctx := c.Request.Context()
	dl, err := h.Relay.Attach(ctx, c.Param("id"), model.PublicKey{Key: proof.PublicKey}, []byte(proof.Message), proof.Signature)
	if err != nil {
		writeError(c, err)
		return
	}

	meta := dl.Metadata()
	contentType := meta.FileType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": meta.FileName}))
	c.Header("Content-Length", strconv.FormatInt(meta.FileSize, 10))
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()

	if _, err := dl.Stream(ctx, flushWriter{c.Writer}); err != nil && h.Logger != nil {
		h.Logger.Warn(ctx, "download interrupted", "stream", c.Param("id"), "error", err)
	}
}

// flushWriter pushes every chunk to the client as soon as it is relayed.
type flushWriter struct {
	w gin.ResponseWriter
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err == nil {
		f.w.Flush()
	}
	return n, err
}
