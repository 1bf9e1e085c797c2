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

// StringList JSON 数组列（参与实体 id 序列，保序）
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSON value:", value))
	}
	return json.Unmarshal(bytes, l)
}

// WeightMap JSON 对象列（slot_weights：类别 → 权重）
type WeightMap map[string]float64

func (m WeightMap) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *WeightMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSON value:", value))
	}
	return json.Unmarshal(bytes, m)
}

// CameraColumn 相机参数 JSON 列
type CameraColumn engine.CameraParams

func (c CameraColumn) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *CameraColumn) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSON value:", value))
	}
	return json.Unmarshal(bytes, c)
}

// OverridesColumn 镜头级覆盖（相机 + 权重）JSON 列
type OverridesColumn struct {
	Camera  engine.CameraOverrides `json:"camera,omitempty"`
	Weights engine.WeightVector    `json:"weights,omitempty"`
}

func (o OverridesColumn) Value() (driver.Value, error) {
	return json.Marshal(o)
}

func (o *OverridesColumn) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSON value:", value))
	}
	return json.Unmarshal(bytes, o)
}

type Shot struct {
	ID        string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectId string `gorm:"index" json:"projectId"`
	// 序号为正且项目内严格递增，定义生成顺序
	ShotNumber       int             `json:"shotNumber"`
	Template         string          `json:"template"`
	Description      string          `json:"description"`
	CharactersInShot StringList      `gorm:"type:json" json:"charactersInShot"`
	PropsInShot      StringList      `gorm:"type:json" json:"propsInShot"`
	SceneId          string          `json:"sceneId"`
	Overrides        OverridesColumn `gorm:"type:json" json:"overrides"`
	// 以下为流水线计算结果，非权威输入
	Camera           CameraColumn `gorm:"type:json" json:"camera"`
	SlotWeights      WeightMap    `gorm:"type:json" json:"slotWeights"`
	GeneratedPrompt  string       `gorm:"type:text" json:"generatedPrompt"`
	Status           string       `json:"status"`
	OutputImage      string       `json:"outputImage"`
	ConsistencyScore *float64     `json:"consistencyScore"`
	RetryCount       int          `json:"retryCount"`
	Seed             int64        `json:"seed"`
	FailReason       string       `json:"failReason"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

func (Shot) TableName() string {
	return "shot"
}

// Plan 转为引擎镜头计划
func (s *Shot) Plan() engine.ShotPlan {
	return engine.ShotPlan{
		ShotNumber:      s.ShotNumber,
		TemplateID:      s.Template,
		Description:     s.Description,
		CharacterIDs:    s.CharactersInShot,
		PropIDs:         s.PropsInShot,
		SceneID:         s.SceneId,
		Camera:          s.Overrides.Camera,
		WeightOverrides: s.Overrides.Weights,
	}
}

// ApplyResult 把引擎运行结果写回记录
func (s *Shot) ApplyResult(db *gorm.DB, run *engine.Shot) error {
	updates := map[string]interface{}{
		"camera":           CameraColumn(run.Camera),
		"slot_weights":     WeightMap(run.Weights),
		"generated_prompt": run.Prompt,
		"status":           string(run.State),
		"output_image":     run.OutputArtifact,
		"retry_count":      run.RetryCount,
		"seed":             run.Seed,
		"fail_reason":      run.FailReason,
		"updated_at":       time.Now(),
	}
	if run.ConsistencyScore != nil {
		updates["consistency_score"] = *run.ConsistencyScore
	}
	return db.Model(s).Updates(updates).Error
}

// UpdateOutput 仅更新产物定位符（MinIO 转存后的最终 URL）
func (s *Shot) UpdateOutput(db *gorm.DB, outputImage string) error {
	return db.Model(s).Updates(map[string]interface{}{
		"output_image": outputImage,
		"updated_at":   time.Now(),
	}).Error
}

// ClaimShotsGenerating 在任务执行前以数据库状态占用镜头：只有当前不处于
// generating 的镜头才能被占用，任何一个镜头占用失败则整批回滚。
// 镜头状态在整个生成过程中保持 generating，由结果写回释放，
// 因此并发任务对同一镜头的第二次占用必然失败——同一镜头同一时刻
// 至多一个在途生成请求，跨进程也成立。
func ClaimShotsGenerating(db *gorm.DB, projectID string, shotNumbers []int) error {
	if len(shotNumbers) == 0 {
		return nil
	}
	return db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Shot{}).
			Where("project_id = ? AND shot_number IN ? AND status <> ?",
				projectID, shotNumbers, string(engine.StateGenerating)).
			Updates(map[string]interface{}{
				"status":     string(engine.StateGenerating),
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != int64(len(shotNumbers)) {
			return fmt.Errorf("claimed %d of %d shots, the rest already have an in-flight generation",
				res.RowsAffected, len(shotNumbers))
		}
		return nil
	})
}

// ReleaseShots 把仍停留在 generating 的镜头放回 pending（任务异常结束时的兜底）
func ReleaseShots(db *gorm.DB, projectID string, shotNumbers []int) error {
	if len(shotNumbers) == 0 {
		return nil
	}
	return db.Model(&Shot{}).
		Where("project_id = ? AND shot_number IN ? AND status = ?",
			projectID, shotNumbers, string(engine.StateGenerating)).
		Updates(map[string]interface{}{
			"status":     string(engine.StatePending),
			"updated_at": time.Now(),
		}).Error
}

func BatchCreateShots(db *gorm.DB, shots []Shot) error {
	if len(shots) == 0 {
		return nil
	}
	return db.Create(&shots).Error
}

func GetShotByID(db *gorm.DB, shotID string) (*Shot, error) {
	var shot Shot
	if err := db.First(&shot, "id = ?", shotID).Error; err != nil {
		return nil, err
	}
	return &shot, nil
}

func GetShotsByProjectID(db *gorm.DB, projectID string) ([]Shot, error) {
	var shots []Shot
	if err := db.Where("project_id = ?", projectID).Order("shot_number ASC").Find(&shots).Error; err != nil {
		return nil, err
	}
	return shots, nil
}

func DeleteShotByID(db *gorm.DB, projectID, shotID string) error {
	return db.Delete(&Shot{}, "id = ? AND project_id = ?", shotID, projectID).Error
}
