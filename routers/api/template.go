package api

import (
	"net/http"

	"StoryboardPro-server/engine"

	"github.com/gin-gonic/gin"
)

// 镜头模板目录（只读，T1–T9）
func ListTemplates(c *gin.Context) {
	ids := engine.TemplateIDs()
	templates := make([]engine.ShotTemplate, 0, len(ids))
	for _, id := range ids {
		t, err := engine.LookupTemplate(id)
		if err != nil {
			continue
		}
		templates = append(templates, t)
	}
	c.JSON(http.StatusOK, gin.H{
		"templates": templates,
		"total":     len(templates),
	})
}
