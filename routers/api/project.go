package api

import (
	"net/http"
	"time"

	"StoryboardPro-server/models"
	"StoryboardPro-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 创建项目
func CreateProject(c *gin.Context) {
	var req struct {
		Name              string `json:"name" binding:"required"`
		AspectRatio       string `json:"aspect_ratio"`
		ConsistencyPrefix string `json:"consistency_prefix"`
		LockSeed          bool   `json:"lock_seed"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.AspectRatio == "" {
		req.AspectRatio = "16:9"
	}

	project := models.Project{
		ID:                uuid.NewString(),
		Name:              req.Name,
		AspectRatio:       req.AspectRatio,
		Version:           "2.2",
		Status:            models.ProjectStatusCreated,
		ConsistencyPrefix: req.ConsistencyPrefix,
		LockSeed:          req.LockSeed,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
	if err := models.CreateProject(models.GormDB, &project); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建项目失败: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"project": project})
}

// 获取项目详情：项目、分镜列表与参考实体
func GetProject(c *gin.Context) {
	projectID := c.Param("project_id")

	project, err := models.GetProjectByID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "项目未找到: " + err.Error()})
		return
	}
	shots, err := models.GetShotsByProjectID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取分镜失败: " + err.Error()})
		return
	}
	entities, err := models.GetEntitiesByProjectID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取实体失败: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"project":  project,
		"shots":    shots,
		"entities": entities,
	})
}

// 更新项目信息（名称 / 一致性前缀 / 种子锁定 / 风格绑定）
func UpdateProject(c *gin.Context) {
	projectID := c.Param("project_id")
	var req struct {
		Name              *string `json:"name"`
		ConsistencyPrefix *string `json:"consistency_prefix"`
		LockSeed          *bool   `json:"lock_seed"`
		StyleId           *string `json:"style_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := models.GetProjectByID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "项目未找到: " + err.Error()})
		return
	}

	updates := map[string]interface{}{"updated_at": time.Now()}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.ConsistencyPrefix != nil {
		updates["consistency_prefix"] = *req.ConsistencyPrefix
	}
	if req.LockSeed != nil {
		updates["lock_seed"] = *req.LockSeed
	}
	if req.StyleId != nil {
		// 绑定非空风格时校验实体存在
		if *req.StyleId != "" {
			if _, err := models.GetEntity(models.GormDB, projectID, "style", *req.StyleId); err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "风格实体未找到: " + err.Error()})
				return
			}
		}
		updates["style_id"] = *req.StyleId
	}
	if err := models.GormDB.Model(project).Updates(updates).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "更新项目失败: " + err.Error()})
		return
	}

	updated, _ := models.GetProjectByID(models.GormDB, projectID)
	c.JSON(http.StatusOK, gin.H{"project": updated})
}

// 删除项目。先取消所有未结束的生成任务，再级联删除分镜与实体。
func DeleteProject(c *gin.Context) {
	projectID := c.Param("project_id")

	tasks, err := models.GetActiveTasksByProjectID(models.GormDB, projectID)
	if err == nil {
		for i := range tasks {
			if service.CancelRunningTask(tasks[i].ID) {
				zap.L().Info("删除项目前取消任务", zap.String("task_id", tasks[i].ID))
			}
			_ = tasks[i].UpdateStatus(models.GormDB, models.TaskStatusCancelled, nil, "cancelled due to project delete")
		}
	}

	if err := models.DeleteProjectByID(models.GormDB, projectID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除项目失败: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"deleteAt": time.Now(),
		"message":  "项目已删除",
	})
}

// 导出项目文档：project_meta + 参考实体 + 全部镜头记录
func ExportProject(c *gin.Context) {
	projectID := c.Param("project_id")

	export, err := models.ExportProject(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "导出失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, export)
}
