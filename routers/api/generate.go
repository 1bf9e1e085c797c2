package api

import (
	"net/http"
	"time"

	"StoryboardPro-server/engine"
	"StoryboardPro-server/models"
	"StoryboardPro-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 启动首轮顺序生成：按镜头号严格递增串行执行全部未接受的镜头
func StartGeneration(c *gin.Context) {
	projectID := c.Param("project_id")

	project, err := models.GetProjectByID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "项目未找到: " + err.Error()})
		return
	}
	if project.Status == models.ProjectStatusGenerating {
		c.JSON(http.StatusConflict, gin.H{"error": "项目已有生成任务在执行"})
		return
	}

	shots, err := models.GetShotsByProjectID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(shots) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "项目没有镜头"})
		return
	}

	task := models.Task{
		ID:        uuid.NewString(),
		ProjectId: projectID,
		Type:      models.TaskTypeSequence,
		Status:    models.TaskStatusPending,
		Total:     len(shots),
		StartedAt: time.Now(),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := models.CreateTask(models.GormDB, &task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建任务失败: " + err.Error()})
		return
	}
	if err := service.EnqueueTask(service.TypeGenerateSequence, task.ID); err != nil {
		zap.L().Error("任务入队失败", zap.String("task_id", task.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "任务入队失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id":     task.ID,
		"project_id":  projectID,
		"total_shots": len(shots),
		"message":     "顺序生成任务已创建",
	})
}

// 对指定镜头并行再生成；FAILED 镜头重置重试预算
func RegenerateShots(c *gin.Context) {
	projectID := c.Param("project_id")

	var req struct {
		ShotNumbers []int `json:"shot_numbers" binding:"required"`
		LockSeed    bool  `json:"lock_seed"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.ShotNumbers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "shot_numbers 不能为空"})
		return
	}

	if _, err := models.GetProjectByID(models.GormDB, projectID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "项目未找到: " + err.Error()})
		return
	}

	// 逐个校验镜头存在且不在生成中
	shots, err := models.GetShotsByProjectID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	byNumber := make(map[int]*models.Shot, len(shots))
	for i := range shots {
		byNumber[shots[i].ShotNumber] = &shots[i]
	}
	for _, n := range req.ShotNumbers {
		rec, ok := byNumber[n]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "镜头不存在", "shot_number": n})
			return
		}
		if rec.Status == string(engine.StateGenerating) {
			c.JSON(http.StatusConflict, gin.H{"error": "镜头已有在途生成", "shot_number": n})
			return
		}
	}

	task := models.Task{
		ID:        uuid.NewString(),
		ProjectId: projectID,
		Type:      models.TaskTypeRegenerate,
		Status:    models.TaskStatusPending,
		Total:     len(req.ShotNumbers),
		Parameters: models.TaskParameters{
			ShotNumbers: req.ShotNumbers,
			LockSeed:    req.LockSeed,
		},
		StartedAt: time.Now(),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := models.CreateTask(models.GormDB, &task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建任务失败: " + err.Error()})
		return
	}
	if err := service.EnqueueTask(service.TypeRegenerateShots, task.ID); err != nil {
		zap.L().Error("任务入队失败", zap.String("task_id", task.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "任务入队失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id":      task.ID,
		"project_id":   projectID,
		"shot_numbers": req.ShotNumbers,
		"message":      "再生成任务已创建",
	})
}

// 取消生成任务。在途镜头回到 pending，已接受的镜头保持不变。
func CancelTask(c *gin.Context) {
	taskID := c.Param("task_id")

	task, err := models.GetTaskByID(models.GormDB, taskID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found: " + err.Error()})
		return
	}
	if task.Status != models.TaskStatusPending && task.Status != models.TaskStatusProcessing {
		c.JSON(http.StatusConflict, gin.H{"error": "任务已结束: " + task.Status})
		return
	}

	found := service.CancelRunningTask(taskID)
	if !found {
		// 还没被消费者取走，直接标记取消
		_ = task.UpdateStatus(models.GormDB, models.TaskStatusCancelled, nil, "cancelled before execution")
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id":   taskID,
		"cancelled": true,
		"inflight":  found,
	})
}
