package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"oobind/internal/protoerr"
)

// writeError reports err with its protocol code. invalid_code is a protocol
// outcome rather than a failure and keeps the status/reason body.
func writeError(c *gin.Context, err error) {
	code := protoerr.CodeOf(err)
	if code == protoerr.CodeInvalidCode {
		c.JSON(http.StatusOK, gin.H{"status": "error", "reason": code})
		return
	}

	body := gin.H{"error": code}
	var pe *protoerr.Error
	if errors.As(err, &pe) && pe.Msg != "" && code != protoerr.CodeInternal {
		body["detail"] = pe.Msg
	}
	c.JSON(code.HTTPStatus(), body)
}

func badRequest(c *gin.Context, err error) {
	writeError(c, protoerr.Wrap(protoerr.CodeInvalidRequest, "malformed request body", err))
}
