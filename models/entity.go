package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"StoryboardPro-server/engine"

	"gorm.io/gorm"
)

// EntityPayload 变体差异字段的 JSON 列
type EntityPayload struct {
	// character
	LockedFeatures []string `json:"locked_features,omitempty"`
	Appearance     string   `json:"appearance,omitempty"`
	Clothing       string   `json:"clothing,omitempty"`
	// scene
	AtmosphereRefImage string `json:"atmosphere_ref_image,omitempty"`
	Description        string `json:"description,omitempty"`
	Lighting           string `json:"lighting,omitempty"`
	ImpliedScale       string `json:"implied_scale,omitempty"`
	// prop
	ScaleReference string `json:"scale_reference,omitempty"`
	Material       string `json:"material,omitempty"`
	// style
	Mode                    string               `json:"mode,omitempty"`
	StyleWeights            *engine.StyleWeights `json:"style_weights,omitempty"`
	RefImageHasHumanSubject bool                 `json:"ref_image_has_human_subject,omitempty"`
}

func (p EntityPayload) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *EntityPayload) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSON value:", value))
	}
	return json.Unmarshal(bytes, p)
}

// ReferenceEntity 参考实体记录。Variant + EntityId 在项目内唯一。
type ReferenceEntity struct {
	ID        string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectId string `gorm:"index" json:"projectId"`
	// character / scene / prop / style
	Variant string `json:"variant"`
	// 变体命名空间内的实体 id（与引擎注册表一致）
	EntityId          string        `json:"entityId"`
	Name              string        `json:"name"`
	RefImages         StringList    `gorm:"type:json" json:"refImages"`
	ConsistencyWeight float64       `json:"consistencyWeight"`
	Payload           EntityPayload `gorm:"type:json" json:"payload"`
	// 已删除的实体保留行并置位，同一项目内 id 不允许复用
	Retired   bool      `json:"retired"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (ReferenceEntity) TableName() string {
	return "reference_entity"
}

// ToEngine 还原为引擎实体
func (r *ReferenceEntity) ToEngine() (engine.Entity, error) {
	meta := engine.EntityMeta{
		ID:                r.EntityId,
		Name:              r.Name,
		RefImages:         r.RefImages,
		ConsistencyWeight: r.ConsistencyWeight,
	}
	switch engine.Variant(r.Variant) {
	case engine.VariantCharacter:
		return &engine.Character{
			EntityMeta:     meta,
			LockedFeatures: r.Payload.LockedFeatures,
			Appearance:     r.Payload.Appearance,
			Clothing:       r.Payload.Clothing,
		}, nil
	case engine.VariantScene:
		return &engine.Scene{
			EntityMeta:         meta,
			AtmosphereRefImage: r.Payload.AtmosphereRefImage,
			Description:        r.Payload.Description,
			Lighting:           r.Payload.Lighting,
			ImpliedScale:       r.Payload.ImpliedScale,
			LockedFeatures:     r.Payload.LockedFeatures,
		}, nil
	case engine.VariantProp:
		return &engine.Prop{
			EntityMeta:     meta,
			ScaleReference: r.Payload.ScaleReference,
			Material:       r.Payload.Material,
		}, nil
	case engine.VariantStyle:
		s := &engine.Style{
			EntityMeta:              meta,
			Mode:                    engine.StyleMode(r.Payload.Mode),
			Description:             r.Payload.Description,
			Lighting:                r.Payload.Lighting,
			RefImageHasHumanSubject: r.Payload.RefImageHasHumanSubject,
		}
		if r.Payload.StyleWeights != nil {
			s.Weights = *r.Payload.StyleWeights
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown entity variant: %s", r.Variant)
}

// FromEngine 由引擎实体构造记录（穷举四种变体）
func FromEngine(projectID, rowID string, e engine.Entity) *ReferenceEntity {
	meta := e.Meta()
	rec := &ReferenceEntity{
		ID:                rowID,
		ProjectId:         projectID,
		Variant:           string(e.Variant()),
		EntityId:          meta.ID,
		Name:              meta.Name,
		RefImages:         StringList(meta.RefImages),
		ConsistencyWeight: meta.ConsistencyWeight,
	}
	switch ent := e.(type) {
	case *engine.Character:
		rec.Payload = EntityPayload{
			LockedFeatures: ent.LockedFeatures,
			Appearance:     ent.Appearance,
			Clothing:       ent.Clothing,
		}
	case *engine.Scene:
		rec.Payload = EntityPayload{
			AtmosphereRefImage: ent.AtmosphereRefImage,
			Description:        ent.Description,
			Lighting:           ent.Lighting,
			ImpliedScale:       ent.ImpliedScale,
			LockedFeatures:     ent.LockedFeatures,
		}
	case *engine.Prop:
		rec.Payload = EntityPayload{
			ScaleReference: ent.ScaleReference,
			Material:       ent.Material,
		}
	case *engine.Style:
		w := ent.Weights
		rec.Payload = EntityPayload{
			Mode:                    string(ent.Mode),
			Description:             ent.Description,
			Lighting:                ent.Lighting,
			StyleWeights:            &w,
			RefImageHasHumanSubject: ent.RefImageHasHumanSubject,
		}
	}
	return rec
}

func GetEntitiesByProjectID(db *gorm.DB, projectID string) ([]ReferenceEntity, error) {
	var out []ReferenceEntity
	if err := db.Where("project_id = ? AND retired = ?", projectID, false).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func GetEntity(db *gorm.DB, projectID, variant, entityID string) (*ReferenceEntity, error) {
	var rec ReferenceEntity
	if err := db.First(&rec, "project_id = ? AND variant = ? AND entity_id = ? AND retired = ?", projectID, variant, entityID, false).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// EntityIdTaken 同一变体命名空间内 id 是否已被占用（含已删除的 id）
func EntityIdTaken(db *gorm.DB, projectID, variant, entityID string) (bool, error) {
	var count int64
	err := db.Model(&ReferenceEntity{}).
		Where("project_id = ? AND variant = ? AND entity_id = ?", projectID, variant, entityID).
		Count(&count).Error
	return count > 0, err
}

// RetireEntity 标记删除，保留行以保证 id 不被复用
func RetireEntity(db *gorm.DB, projectID, variant, entityID string) error {
	return db.Model(&ReferenceEntity{}).
		Where("project_id = ? AND variant = ? AND entity_id = ? AND retired = ?", projectID, variant, entityID, false).
		Updates(map[string]interface{}{"retired": true, "updated_at": time.Now()}).Error
}
