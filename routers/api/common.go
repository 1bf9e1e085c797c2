package api

import (
	"net/http"

	"StoryboardPro-server/engine"

	"github.com/gin-gonic/gin"
)

// respondEngineError 把引擎错误分类映射为 HTTP 状态码
func respondEngineError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case engine.IsNotFound(err):
		status = http.StatusNotFound
	case engine.IsDuplicateId(err), engine.IsReferenced(err):
		status = http.StatusConflict
	case engine.IsUnknownTemplate(err), engine.IsValidation(err), engine.IsMissingParticipant(err):
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
