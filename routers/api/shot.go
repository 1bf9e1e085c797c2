package api

import (
	"net/http"
	"time"

	"StoryboardPro-server/config"
	"StoryboardPro-server/engine"
	"StoryboardPro-server/models"
	"StoryboardPro-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// shotRequest 新建镜头的请求体
type shotRequest struct {
	ShotNumber       int                    `json:"shot_number" binding:"required"`
	Template         string                 `json:"template" binding:"required"`
	Description      string                 `json:"description"`
	CharactersInShot []string               `json:"characters_in_shot"`
	PropsInShot      []string               `json:"props_in_shot"`
	Scene            string                 `json:"scene"`
	Camera           engine.CameraOverrides `json:"camera_overrides"`
	WeightOverrides  engine.WeightVector    `json:"weight_overrides"`
}

func (r *shotRequest) plan() engine.ShotPlan {
	return engine.ShotPlan{
		ShotNumber:      r.ShotNumber,
		TemplateID:      r.Template,
		Description:     r.Description,
		CharacterIDs:    r.CharactersInShot,
		PropIDs:         r.PropsInShot,
		SceneID:         r.Scene,
		Camera:          r.Camera,
		WeightOverrides: r.WeightOverrides,
	}
}

// previewOrchestrator 只做合成与装配，不触达外部服务
func previewOrchestrator(asm *service.ProjectAssembly) *engine.Orchestrator {
	return engine.NewOrchestrator(
		config.AppConfig.EngineConfig(),
		asm.Engine.Registry,
		asm.Engine.Assembler(),
		nil, nil, nil,
	)
}

// 批量创建镜头。模板、序号递增与参与实体在入库前全部校验，
// 任何一个镜头非法则整批拒绝。
func CreateShots(c *gin.Context) {
	projectID := c.Param("project_id")

	var req struct {
		Shots []shotRequest `json:"shots" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Shots) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "shots 不能为空"})
		return
	}

	asm, err := service.BuildEngineProject(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	orch := previewOrchestrator(asm)

	var records []models.Shot
	for i := range req.Shots {
		plan := req.Shots[i].plan()
		shot, err := asm.Engine.AddShot(plan)
		if err != nil {
			respondEngineError(c, err)
			return
		}
		// 合成一次以校验参与实体存在
		if err := orch.PrepareShot(shot); err != nil {
			respondEngineError(c, err)
			return
		}
		records = append(records, models.Shot{
			ID:               uuid.NewString(),
			ProjectId:        projectID,
			ShotNumber:       plan.ShotNumber,
			Template:         plan.TemplateID,
			Description:      plan.Description,
			CharactersInShot: models.StringList(plan.CharacterIDs),
			PropsInShot:      models.StringList(plan.PropIDs),
			SceneId:          plan.SceneID,
			Overrides: models.OverridesColumn{
				Camera:  plan.Camera,
				Weights: plan.WeightOverrides,
			},
			Status:    string(engine.StatePending),
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		})
	}

	if err := models.BatchCreateShots(models.GormDB, records); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "批量创建镜头失败: " + err.Error()})
		return
	}
	models.GormDB.Model(&models.Project{ID: projectID}).Updates(map[string]interface{}{
		"shot_count": len(asm.Records) + len(records),
		"updated_at": time.Now(),
	})

	c.JSON(http.StatusOK, gin.H{
		"shots":      records,
		"project_id": projectID,
	})
}

// 获取分镜列表
func GetShots(c *gin.Context) {
	projectID := c.Param("project_id")

	shots, err := models.GetShotsByProjectID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取分镜失败: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"shots":       shots,
		"project_id":  projectID,
		"total_shots": len(shots),
	})
}

// 获取分镜详情
func GetShotDetail(c *gin.Context) {
	shotID := c.Param("shot_id")

	shot, err := models.GetShotByID(models.GormDB, shotID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "分镜未找到: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"shot": shot})
}

// 权重预览：合成权重、仲裁冲突并装配提示词，不触发生成
func PreviewShot(c *gin.Context) {
	projectID := c.Param("project_id")
	shotID := c.Param("shot_id")

	rec, err := models.GetShotByID(models.GormDB, shotID)
	if err != nil || rec.ProjectId != projectID {
		c.JSON(http.StatusNotFound, gin.H{"error": "分镜未找到"})
		return
	}

	asm, err := service.BuildEngineProject(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	shot, ok := asm.Shots[rec.ShotNumber]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "分镜未找到"})
		return
	}

	if err := previewOrchestrator(asm).PrepareShot(shot); err != nil {
		respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"shot_number": shot.Plan.ShotNumber,
		"weights":     shot.Weights,
		"prompt":      shot.Prompt,
		"camera":      shot.Camera,
	})
}

// 更新镜头的叙事描述与覆盖项。生成中的镜头需先取消任务再修改。
func UpdateShot(c *gin.Context) {
	projectID := c.Param("project_id")
	shotID := c.Param("shot_id")

	rec, err := models.GetShotByID(models.GormDB, shotID)
	if err != nil || rec.ProjectId != projectID {
		c.JSON(http.StatusNotFound, gin.H{"error": "分镜未找到"})
		return
	}
	if rec.Status == string(engine.StateGenerating) {
		c.JSON(http.StatusConflict, gin.H{"error": "镜头正在生成中，请先取消任务"})
		return
	}

	var req struct {
		Description     *string                 `json:"description"`
		Camera          *engine.CameraOverrides `json:"camera_overrides"`
		WeightOverrides engine.WeightVector     `json:"weight_overrides"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{"updated_at": time.Now()}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	overrides := rec.Overrides
	if req.Camera != nil {
		overrides.Camera = *req.Camera
	}
	if req.WeightOverrides != nil {
		overrides.Weights = req.WeightOverrides
	}
	updates["overrides"] = overrides

	if err := models.GormDB.Model(rec).Updates(updates).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "更新分镜失败: " + err.Error()})
		return
	}

	updated, _ := models.GetShotByID(models.GormDB, shotID)
	c.JSON(http.StatusOK, gin.H{"shot": updated})
}

// 删除分镜（解除其对实体的引用）
func DeleteShot(c *gin.Context) {
	projectID := c.Param("project_id")
	shotID := c.Param("shot_id")

	rec, err := models.GetShotByID(models.GormDB, shotID)
	if err != nil || rec.ProjectId != projectID {
		c.JSON(http.StatusNotFound, gin.H{"error": "分镜未找到"})
		return
	}
	if rec.Status == string(engine.StateGenerating) {
		c.JSON(http.StatusConflict, gin.H{"error": "镜头正在生成中，请先取消任务"})
		return
	}

	if err := models.DeleteShotByID(models.GormDB, projectID, shotID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除分镜失败: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "分镜已删除",
		"shot_id":    shotID,
		"project_id": projectID,
	})
}
