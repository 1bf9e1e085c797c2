package service

import (
	"encoding/json"
	"fmt"
	"time"

	"StoryboardPro-server/config"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	// 按镜头号顺序生成整个项目
	TypeGenerateSequence = "shot:sequence"
	// 并行重生成指定镜头
	TypeRegenerateShots = "shot:regenerate"
)

type TaskPayload struct {
	TaskID string `json:"task_id"`
}

var QueueClient *asynq.Client

// InitQueue 初始化
func InitQueue() {
	QueueClient = asynq.NewClient(asynq.RedisClientOpt{
		Addr:     config.AppConfig.Redis.Addr,
		Password: config.AppConfig.Redis.Password,
	})
}

// EnqueueTask 生成任务入队。重试语义由镜头状态机负责，
// 队列层不再重试，避免两层重试叠加超出预算。
func EnqueueTask(taskType, taskID string) error {
	payload, err := json.Marshal(TaskPayload{TaskID: taskID})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(taskType, payload,
		asynq.MaxRetry(0),
		asynq.Timeout(4*time.Hour),      // 整段序列生成可能很慢
		asynq.Retention(24*time.Hour),   // 任务结果在 Redis 保留时间
	)

	info, err := QueueClient.Enqueue(task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}

	zap.L().Info("任务已入队",
		zap.String("task_id", taskID),
		zap.String("type", taskType),
		zap.String("queue_id", info.ID))
	return nil
}
