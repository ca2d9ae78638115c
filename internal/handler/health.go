package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func Health(mode string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "mode": mode})
	}
}
