package models

import (
	"time"

	"gorm.io/gorm"
)

// 项目状态常量
const (
	ProjectStatusCreated    = "created"    // 项目已创建，未开始生成
	ProjectStatusGenerating = "generating" // 首轮顺序生成进行中
	ProjectStatusReady      = "ready"      // 全部镜头已接受
	ProjectStatusPartial    = "partial"    // 存在待人工介入的 FAILED 镜头
	ProjectStatusFailed     = "failed"     // 生成流程出错
)

type Project struct {
	ID          string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name        string `json:"name"`
	AspectRatio string `json:"aspectRatio"`
	Version     string `json:"version"`
	Status      string `json:"status"`
	// 项目级风格实体 id
	StyleId string `json:"styleId"`
	// 一致性前缀，拼接在每条生成提示词最前
	ConsistencyPrefix string `json:"consistencyPrefix"`
	// 锁定种子：再生成沿用首次生成的种子
	LockSeed  bool      `json:"lockSeed"`
	ShotCount int       `json:"shotCount"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Project) TableName() string {
	return "project"
}

func CreateProject(db *gorm.DB, p *Project) error {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	return db.Create(p).Error
}

func GetProjectByID(db *gorm.DB, id string) (*Project, error) {
	var p Project
	if err := db.First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Project) UpdateStatus(db *gorm.DB, status string) error {
	return db.Model(p).Updates(map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}).Error
}

func DeleteProjectByID(db *gorm.DB, id string) error {
	// 项目删除级联清理镜头、实体与任务记录
	if err := db.Delete(&Shot{}, "project_id = ?", id).Error; err != nil {
		return err
	}
	if err := db.Delete(&Task{}, "project_id = ?", id).Error; err != nil {
		return err
	}
	if err := db.Delete(&ReferenceEntity{}, "project_id = ?", id).Error; err != nil {
		return err
	}
	return db.Delete(&Project{}, "id = ?", id).Error
}
