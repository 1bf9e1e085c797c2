package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// 任务状态（在系统中统一使用这些状态）
const (
	// pending: 任务已就绪，等待执行器取走执行
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusSuccess    = "finished"
	TaskStatusFailed     = "failed"
	// cancelled: 任务被用户取消（取消后相关镜头回到 pending）
	TaskStatusCancelled = "cancelled"

	// 两种核心任务类型
	TaskTypeSequence   = "generate_sequence" // 按镜头号顺序生成整个项目
	TaskTypeRegenerate = "regenerate_shots"  // 并行重生成指定镜头
)

type Task struct {
	ID         string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectId  string         `gorm:"index" json:"projectId"`
	Type       string         `json:"type"`
	Status     string         `json:"status"`
	// 已完成镜头数 / 总镜头数
	Progress   int            `json:"progress"`
	Total      int            `json:"total"`
	Parameters TaskParameters `gorm:"type:json" json:"parameters"`
	Result     TaskResult     `gorm:"type:json" json:"result"`
	Error      string         `json:"error"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

type TaskParameters struct {
	// regenerate_shots 任务要处理的镜头号
	ShotNumbers []int `json:"shot_numbers,omitempty"`
	// 是否锁定种子（复用上一次接受结果的种子）
	LockSeed bool `json:"lock_seed,omitempty"`
}

// TaskResult 任务完成后的汇总信息
type TaskResult struct {
	AcceptedShots []int   `json:"accepted_shots"`
	FailedShots   []int   `json:"failed_shots"`
	TotalTime     float64 `json:"total_time"`
}

// 实现 driver.Valuer 接口: Go Struct -> JSON String (存入数据库)
func (p TaskParameters) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// 实现 sql.Scanner 接口: JSON String -> Go Struct (从数据库读取)
func (p *TaskParameters) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSON value:", value))
	}
	return json.Unmarshal(bytes, p)
}

// 实现 driver.Valuer 接口
func (r TaskResult) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// 实现 sql.Scanner 接口
func (r *TaskResult) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSON value:", value))
	}
	return json.Unmarshal(bytes, r)
}

func (t *Task) UpdateStatus(db *gorm.DB, status string, result *TaskResult, errMsg string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if result != nil {
		updates["result"] = *result
	}
	if errMsg != "" {
		updates["error"] = errMsg
	}
	if status == TaskStatusSuccess || status == TaskStatusFailed || status == TaskStatusCancelled {
		updates["finished_at"] = time.Now()
	}
	return db.Model(t).Updates(updates).Error
}

// UpdateProgress 更新已完成镜头数
func (t *Task) UpdateProgress(db *gorm.DB, done int) error {
	return db.Model(t).Updates(map[string]interface{}{
		"progress":   done,
		"updated_at": time.Now(),
	}).Error
}

func CreateTask(db *gorm.DB, t *Task) error {
	return db.Create(t).Error
}

func GetTaskByID(db *gorm.DB, taskID string) (*Task, error) {
	var task Task
	if err := db.First(&task, "id = ?", taskID).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// GetActiveTasksByProjectID 未结束的任务（pending / processing）
func GetActiveTasksByProjectID(db *gorm.DB, projectID string) ([]Task, error) {
	var out []Task
	err := db.Where("project_id = ? AND status IN ?", projectID,
		[]string{TaskStatusPending, TaskStatusProcessing}).Find(&out).Error
	return out, err
}

// 强制指定表名为 "task"
func (Task) TableName() string {
	return "task"
}
