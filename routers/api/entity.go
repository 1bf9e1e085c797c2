package api

import (
	"net/http"
	"time"

	"StoryboardPro-server/engine"
	"StoryboardPro-server/models"
	"StoryboardPro-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// entityRequest 四种变体共用的请求体，变体特有字段按需填写
type entityRequest struct {
	Variant           string   `json:"variant" binding:"required"`
	EntityId          string   `json:"id" binding:"required"`
	Name              string   `json:"name" binding:"required"`
	RefImages         []string `json:"ref_images"`
	ConsistencyWeight float64  `json:"consistency_weight"`

	// character
	LockedFeatures []string `json:"locked_features"`
	Appearance     string   `json:"appearance"`
	Clothing       string   `json:"clothing"`
	// scene
	AtmosphereRefImage string `json:"atmosphere_ref_image"`
	Description        string `json:"description"`
	Lighting           string `json:"lighting"`
	ImpliedScale       string `json:"implied_scale"`
	// prop
	ScaleReference string `json:"scale_reference"`
	Material       string `json:"material"`
	// style
	Mode                    string               `json:"mode"`
	StyleWeights            *engine.StyleWeights `json:"style_weights"`
	RefImageHasHumanSubject bool                 `json:"ref_image_has_human_subject"`
}

// toEngine 请求体转引擎实体
func (r *entityRequest) toEngine() (engine.Entity, error) {
	weight := r.ConsistencyWeight
	if weight <= 0 {
		weight = 1.0
	}
	meta := engine.EntityMeta{
		ID:                r.EntityId,
		Name:              r.Name,
		RefImages:         r.RefImages,
		ConsistencyWeight: weight,
	}
	switch engine.Variant(r.Variant) {
	case engine.VariantCharacter:
		return &engine.Character{
			EntityMeta:     meta,
			LockedFeatures: r.LockedFeatures,
			Appearance:     r.Appearance,
			Clothing:       r.Clothing,
		}, nil
	case engine.VariantScene:
		return &engine.Scene{
			EntityMeta:         meta,
			AtmosphereRefImage: r.AtmosphereRefImage,
			Description:        r.Description,
			Lighting:           r.Lighting,
			ImpliedScale:       r.ImpliedScale,
			LockedFeatures:     r.LockedFeatures,
		}, nil
	case engine.VariantProp:
		return &engine.Prop{
			EntityMeta:     meta,
			ScaleReference: r.ScaleReference,
			Material:       r.Material,
		}, nil
	case engine.VariantStyle:
		s := &engine.Style{
			EntityMeta:              meta,
			Mode:                    engine.StyleMode(r.Mode),
			Description:             r.Description,
			Lighting:                r.Lighting,
			RefImageHasHumanSubject: r.RefImageHasHumanSubject,
		}
		if r.StyleWeights != nil {
			s.Weights = *r.StyleWeights
		}
		return s, nil
	}
	return nil, nil
}

// 创建参考实体
func CreateEntity(c *gin.Context) {
	projectID := c.Param("project_id")

	var req entityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := models.GetProjectByID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "项目未找到: " + err.Error()})
		return
	}

	ent, err := req.toEngine()
	if err != nil || ent == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown entity variant: " + req.Variant})
		return
	}

	// 风格是项目级单例
	if ent.Variant() == engine.VariantStyle && project.StyleId != "" {
		c.JSON(http.StatusConflict, gin.H{"error": "项目已绑定风格 " + project.StyleId})
		return
	}

	// 同一变体命名空间内 id 唯一，已删除的 id 不允许复用
	taken, err := models.EntityIdTaken(models.GormDB, projectID, req.Variant, req.EntityId)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if taken {
		c.JSON(http.StatusConflict, gin.H{"error": req.Variant + " id 已被使用: " + req.EntityId})
		return
	}

	rec := models.FromEngine(projectID, uuid.NewString(), ent)
	if err := models.GormDB.Create(rec).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建实体失败: " + err.Error()})
		return
	}

	if ent.Variant() == engine.VariantStyle {
		models.GormDB.Model(project).Updates(map[string]interface{}{
			"style_id":   req.EntityId,
			"updated_at": time.Now(),
		})
	}

	c.JSON(http.StatusOK, gin.H{"entity": rec})
}

// 实体列表，可按变体过滤
func ListEntities(c *gin.Context) {
	projectID := c.Param("project_id")
	variant := c.Query("variant")

	entities, err := models.GetEntitiesByProjectID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if variant != "" {
		filtered := entities[:0]
		for _, e := range entities {
			if e.Variant == variant {
				filtered = append(filtered, e)
			}
		}
		entities = filtered
	}
	c.JSON(http.StatusOK, gin.H{"entities": entities, "total": len(entities)})
}

// 实体详情
func GetEntityDetail(c *gin.Context) {
	projectID := c.Param("project_id")
	variant := c.Param("variant")
	entityID := c.Param("entity_id")

	rec, err := models.GetEntity(models.GormDB, projectID, variant, entityID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "实体未找到: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entity": rec})
}

// 更新实体（id 与变体不可变）
func UpdateEntity(c *gin.Context) {
	projectID := c.Param("project_id")
	variant := c.Param("variant")
	entityID := c.Param("entity_id")

	rec, err := models.GetEntity(models.GormDB, projectID, variant, entityID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "实体未找到: " + err.Error()})
		return
	}

	var req entityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Variant = variant
	req.EntityId = entityID
	ent, err := req.toEngine()
	if err != nil || ent == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown entity variant: " + variant})
		return
	}

	updated := models.FromEngine(projectID, rec.ID, ent)
	updated.CreatedAt = rec.CreatedAt
	updated.UpdatedAt = time.Now()
	if err := models.GormDB.Save(updated).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "更新实体失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entity": updated})
}

// 删除实体。仍被镜头引用时拒绝删除，项目状态保持不变。
func DeleteEntity(c *gin.Context) {
	projectID := c.Param("project_id")
	variant := c.Param("variant")
	entityID := c.Param("entity_id")

	asm, err := service.BuildEngineProject(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err := asm.Engine.Registry.Remove(engine.Variant(variant), entityID); err != nil {
		respondEngineError(c, err)
		return
	}

	if err := models.RetireEntity(models.GormDB, projectID, variant, entityID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除实体失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   "实体已删除",
		"variant":   variant,
		"entity_id": entityID,
	})
}
