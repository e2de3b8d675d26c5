package utils

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"kyri56xcaesar/teamcore/internal/apperr"
)

// RespondError writes err as {"error": ...} with the status its kind maps to.
// Unknown errors are logged and hidden behind a generic message.
func RespondError(c *gin.Context, err error) {
	status := apperr.Status(err)
	if status == http.StatusInternalServerError {
		log.Printf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}

	body := gin.H{"error": err.Error()}
	var unmet *apperr.DependencyUnmetError
	if errors.As(err, &unmet) {
		body["error"] = "dependencies not met"
		body["unmet"] = unmet.Unmet
	}
	c.AbortWithStatusJSON(status, body)
}

// ParseIDParam reads a positive int64 path parameter.
func ParseIDParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing/invalid " + name})
		return 0, false
	}
	return id, true
}

// ParseIDQuery reads an optional positive int64 query parameter; absent is 0.
func ParseIDQuery(c *gin.Context, name string) (int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}
