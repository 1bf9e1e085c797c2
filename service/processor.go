package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"StoryboardPro-server/config"
	"StoryboardPro-server/engine"
	"StoryboardPro-server/models"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ProgressNotifier 由路由层注入的进度推送回调（WebSocket 广播）。
// 放在 service 侧以函数变量注入，避免 routers ↔ service 的循环依赖。
var ProgressNotifier func(projectID string, event interface{})

func notifyProgress(projectID string, event interface{}) {
	if ProgressNotifier != nil {
		ProgressNotifier(projectID, event)
	}
}

// ProgressEvent 推送给前端的镜头进度事件
type ProgressEvent struct {
	TaskID     string   `json:"task_id"`
	ShotNumber int      `json:"shot_number"`
	Status     string   `json:"status"`
	Score      *float64 `json:"score,omitempty"`
	Done       int      `json:"done"`
	Total      int      `json:"total"`
}

// 任务取消注册表（taskID -> cancelFunc）
var taskCancelRegistry = struct {
	sync.RWMutex
	m map[string]context.CancelFunc
}{
	m: make(map[string]context.CancelFunc),
}

func registerTaskCancel(taskID string, cancel context.CancelFunc) {
	taskCancelRegistry.Lock()
	defer taskCancelRegistry.Unlock()
	taskCancelRegistry.m[taskID] = cancel
}

func unregisterTaskCancel(taskID string) {
	taskCancelRegistry.Lock()
	defer taskCancelRegistry.Unlock()
	delete(taskCancelRegistry.m, taskID)
}

// CancelRunningTask 外部调用以取消正在执行的生成任务，返回是否实际找到并取消。
// 取消后在途镜头回到 pending，已接受的镜头保持不变。
func CancelRunningTask(taskID string) bool {
	taskCancelRegistry.Lock()
	defer taskCancelRegistry.Unlock()
	if cancel, ok := taskCancelRegistry.m[taskID]; ok {
		cancel()
		delete(taskCancelRegistry.m, taskID)
		return true
	}
	return false
}

// Processor 处理队列任务
type Processor struct {
	DB *gorm.DB
}

func NewProcessor(db *gorm.DB) *Processor {
	return &Processor{DB: db}
}

// StartProcessor 启动任务消费者
func (p *Processor) StartProcessor(concurrency int) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     config.AppConfig.Redis.Addr,
			Password: config.AppConfig.Redis.Password,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeGenerateSequence, p.HandleSequenceTask)
	mux.HandleFunc(TypeRegenerateShots, p.HandleRegenerateTask)

	zap.L().Info("启动任务消费者", zap.Int("concurrency", concurrency))
	go func() {
		if err := srv.Run(mux); err != nil {
			zap.L().Fatal("任务消费者启动失败", zap.Error(err))
		}
	}()
}

// taskRun 一次任务执行所需的全部装配结果
type taskRun struct {
	task    *models.Task
	project *models.Project
	eng     *engine.Project
	orch    *engine.Orchestrator
	// 镜头号 -> 数据库记录
	records map[int]*models.Shot
	// 镜头号 -> 引擎运行时镜头
	shots map[int]*engine.Shot
}

// ProjectAssembly 从数据库还原的引擎侧项目视图
type ProjectAssembly struct {
	Project *models.Project
	Engine  *engine.Project
	// 镜头号 -> 数据库记录
	Records map[int]*models.Shot
	// 镜头号 -> 引擎运行时镜头
	Shots map[int]*engine.Shot
}

// BuildEngineProject 从数据库还原项目、实体注册表与镜头序列。
// 生成任务与权重预览接口共用同一条装配路径。
func BuildEngineProject(db *gorm.DB, projectID string) (*ProjectAssembly, error) {
	project, err := models.GetProjectByID(db, projectID)
	if err != nil {
		return nil, fmt.Errorf("project not found: %w", err)
	}
	entityRecords, err := models.GetEntitiesByProjectID(db, project.ID)
	if err != nil {
		return nil, err
	}
	shotRecords, err := models.GetShotsByProjectID(db, project.ID)
	if err != nil {
		return nil, err
	}

	eng := engine.NewProject(project.Name, project.AspectRatio)
	eng.Meta.CreatedAt = project.CreatedAt
	eng.Meta.Version = project.Version
	eng.StyleID = project.StyleId
	eng.ConsistencyPrefix = project.ConsistencyPrefix

	for i := range entityRecords {
		ent, err := entityRecords[i].ToEngine()
		if err != nil {
			return nil, err
		}
		if _, err := eng.Registry.Register(ent); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", entityRecords[i].Variant, entityRecords[i].EntityId, err)
		}
	}

	asm := &ProjectAssembly{
		Project: project,
		Engine:  eng,
		Records: make(map[int]*models.Shot),
		Shots:   make(map[int]*engine.Shot),
	}
	for i := range shotRecords {
		rec := &shotRecords[i]
		shot, err := eng.AddShot(rec.Plan())
		if err != nil {
			return nil, fmt.Errorf("shot %d: %w", rec.ShotNumber, err)
		}
		// 已有种子带入运行时，锁定种子模式的再生成会沿用
		shot.Seed = rec.Seed
		shot.OutputArtifact = rec.OutputImage
		shot.ConsistencyScore = rec.ConsistencyScore
		if rec.Status == string(engine.StateAccepted) {
			// 已接受的镜头不再参与生成
			shot.State = engine.StateAccepted
		}
		asm.Records[rec.ShotNumber] = rec
		asm.Shots[rec.ShotNumber] = shot
	}
	return asm, nil
}

// loadTaskRun 任务执行的装配入口：还原项目并构建编排器
func (p *Processor) loadTaskRun(taskID string) (*taskRun, error) {
	task, err := models.GetTaskByID(p.DB, taskID)
	if err != nil {
		return nil, fmt.Errorf("task not found: %w", err)
	}
	asm, err := BuildEngineProject(p.DB, task.ProjectId)
	if err != nil {
		return nil, err
	}
	project := asm.Project

	run := &taskRun{
		task:    task,
		project: project,
		eng:     asm.Engine,
		records: asm.Records,
		shots:   asm.Shots,
	}

	cfg := config.AppConfig.EngineConfig()
	if project.LockSeed || task.Parameters.LockSeed {
		cfg.LockSeed = true
	}
	gen := NewHTTPGenerator(
		config.AppConfig.Generator.Addr,
		project.AspectRatio,
		time.Duration(config.AppConfig.Generator.PollIntervalSeconds)*time.Second,
	)
	validator := NewHTTPValidator(config.AppConfig.Validator.Addr)
	run.orch = engine.NewOrchestrator(cfg, run.eng.Registry, run.eng.Assembler(), gen, validator, zap.L())
	return run, nil
}

// persistShot 把引擎运行结果写回数据库：状态、权重、提示词与产物。
// 已接受的镜头把产物从引擎侧转存到 MinIO。每次状态迁移都会调用，可重入。
func (p *Processor) persistShot(run *taskRun, shot *engine.Shot) {
	rec, ok := run.records[shot.Plan.ShotNumber]
	if !ok {
		return
	}
	if err := rec.ApplyResult(p.DB, shot); err != nil {
		zap.L().Error("镜头结果写库失败",
			zap.Int("shot", shot.Plan.ShotNumber),
			zap.Error(err))
		return
	}
	// 产物 URL 与库中一致说明没有新生成，跳过转存
	if shot.State == engine.StateAccepted && shot.OutputArtifact != "" && shot.OutputArtifact != rec.OutputImage {
		objectName := fmt.Sprintf("shots/%s/image.png", rec.ID)
		finalURL, err := TransferToMinIO(shot.OutputArtifact, objectName)
		if err != nil {
			zap.L().Error("产物转存失败",
				zap.Int("shot", shot.Plan.ShotNumber),
				zap.Error(err))
			return
		}
		if err := rec.UpdateOutput(p.DB, finalURL); err != nil {
			zap.L().Error("产物 URL 写库失败", zap.Error(err))
			return
		}
		// 后续写回沿用转存后的最终 URL，避免重复转存
		rec.OutputImage = finalURL
		shot.OutputArtifact = finalURL
	}
}

// watchShots 把引擎的状态迁移回调接到持久化与进度推送：每次迁移立即落库
// （镜头生成期间数据库状态保持 generating），终态时推进任务进度。
// 并行再生成时回调并发触发。
func (p *Processor) watchShots(run *taskRun, total int) {
	var mu sync.Mutex
	done := 0
	run.orch.OnShotUpdate = func(s *engine.Shot) {
		p.persistShot(run, s)
		mu.Lock()
		if s.State.Terminal() {
			done++
			run.task.UpdateProgress(p.DB, done)
		}
		d := done
		mu.Unlock()
		notifyProgress(run.project.ID, ProgressEvent{
			TaskID:     run.task.ID,
			ShotNumber: s.Plan.ShotNumber,
			Status:     string(s.State),
			Score:      s.ConsistencyScore,
			Done:       d,
			Total:      total,
		})
	}
}

// HandleSequenceTask 首轮顺序生成：按镜头号严格递增串行执行
func (p *Processor) HandleSequenceTask(ctx context.Context, t *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	run, err := p.loadTaskRun(payload.TaskID)
	if err != nil {
		zap.L().Error("任务装配失败", zap.String("task_id", payload.TaskID), zap.Error(err))
		if task, gerr := models.GetTaskByID(p.DB, payload.TaskID); gerr == nil {
			task.UpdateStatus(p.DB, models.TaskStatusFailed, nil, err.Error())
		}
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if run.task.Status == models.TaskStatusCancelled {
		zap.L().Info("任务已取消，跳过执行", zap.String("task_id", run.task.ID))
		return nil
	}

	// 先占用全部待生成镜头：其他任务已占用任何一个镜头时整个任务拒绝执行
	var claim []int
	for n, shot := range run.shots {
		if !shot.State.Terminal() {
			claim = append(claim, n)
		}
	}
	sort.Ints(claim)
	if err := models.ClaimShotsGenerating(p.DB, run.project.ID, claim); err != nil {
		zap.L().Warn("镜头占用失败", zap.String("task_id", run.task.ID), zap.Error(err))
		run.task.UpdateStatus(p.DB, models.TaskStatusFailed, nil, "镜头已有在途生成: "+err.Error())
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	zap.L().Info("开始顺序生成",
		zap.String("task_id", run.task.ID),
		zap.String("project_id", run.project.ID),
		zap.Int("shots", len(run.shots)))

	run.task.UpdateStatus(p.DB, models.TaskStatusProcessing, nil, "")
	run.project.UpdateStatus(p.DB, models.ProjectStatusGenerating)

	runCtx, cancel := context.WithCancel(ctx)
	registerTaskCancel(run.task.ID, cancel)
	defer func() {
		cancel()
		unregisterTaskCancel(run.task.ID)
	}()

	shots := run.eng.Shots()
	p.watchShots(run, len(claim))
	startAt := time.Now()
	runErr := run.orch.RunSequence(runCtx, shots)

	p.finishTask(run, shots, runErr, runCtx.Err() != nil, time.Since(startAt))
	return nil
}

// HandleRegenerateTask 对指定镜头并行再生成。FAILED 镜头的重试预算被重置。
func (p *Processor) HandleRegenerateTask(ctx context.Context, t *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	run, err := p.loadTaskRun(payload.TaskID)
	if err != nil {
		zap.L().Error("任务装配失败", zap.String("task_id", payload.TaskID), zap.Error(err))
		if task, gerr := models.GetTaskByID(p.DB, payload.TaskID); gerr == nil {
			task.UpdateStatus(p.DB, models.TaskStatusFailed, nil, err.Error())
		}
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	var targets []*engine.Shot
	for _, n := range run.task.Parameters.ShotNumbers {
		shot, ok := run.shots[n]
		if !ok {
			run.task.UpdateStatus(p.DB, models.TaskStatusFailed, nil, fmt.Sprintf("shot %d not found", n))
			return fmt.Errorf("shot %d not found: %w", n, asynq.SkipRetry)
		}
		// 运行时从数据库状态还原，只有 pending/failed 会被再生成
		rec := run.records[n]
		if rec.Status == string(engine.StateFailed) {
			shot.State = engine.StateFailed
		} else if rec.Status != "" && rec.Status != string(engine.StateAccepted) {
			shot.State = engine.StatePending
		}
		targets = append(targets, shot)
	}

	if run.task.Status == models.TaskStatusCancelled {
		zap.L().Info("任务已取消，跳过执行", zap.String("task_id", run.task.ID))
		return nil
	}

	// 占用待再生成的镜头（已接受的不参与）；有任何在途生成则整个任务拒绝
	var claim []int
	for _, s := range targets {
		if !s.State.Terminal() || s.State == engine.StateFailed {
			claim = append(claim, s.Plan.ShotNumber)
		}
	}
	sort.Ints(claim)
	if err := models.ClaimShotsGenerating(p.DB, run.project.ID, claim); err != nil {
		zap.L().Warn("镜头占用失败", zap.String("task_id", run.task.ID), zap.Error(err))
		run.task.UpdateStatus(p.DB, models.TaskStatusFailed, nil, "镜头已有在途生成: "+err.Error())
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	zap.L().Info("开始并行再生成",
		zap.String("task_id", run.task.ID),
		zap.String("project_id", run.project.ID),
		zap.Ints("shots", run.task.Parameters.ShotNumbers))

	run.task.UpdateStatus(p.DB, models.TaskStatusProcessing, nil, "")
	run.project.UpdateStatus(p.DB, models.ProjectStatusGenerating)

	runCtx, cancel := context.WithCancel(ctx)
	registerTaskCancel(run.task.ID, cancel)
	defer func() {
		cancel()
		unregisterTaskCancel(run.task.ID)
	}()

	p.watchShots(run, len(claim))
	startAt := time.Now()
	run.orch.RegenerateShots(runCtx, targets)

	p.finishTask(run, targets, nil, runCtx.Err() != nil, time.Since(startAt))
	return nil
}

// finishTask 兜底持久化全部镜头结果（过程中的落库由 watchShots 负责），
// 清理任何仍占用中的镜头，汇总任务与项目状态
func (p *Processor) finishTask(run *taskRun, shots []*engine.Shot, runErr error, cancelled bool, elapsed time.Duration) {
	result := &models.TaskResult{TotalTime: elapsed.Seconds()}
	numbers := make([]int, 0, len(shots))
	done := 0
	for _, shot := range shots {
		p.persistShot(run, shot)
		numbers = append(numbers, shot.Plan.ShotNumber)
		switch shot.State {
		case engine.StateAccepted:
			result.AcceptedShots = append(result.AcceptedShots, shot.Plan.ShotNumber)
			done++
		case engine.StateFailed:
			result.FailedShots = append(result.FailedShots, shot.Plan.ShotNumber)
			done++
		}
	}
	run.task.UpdateProgress(p.DB, done)
	// 写库失败或提前取消可能留下占用中的镜头，统一放回 pending
	if err := models.ReleaseShots(p.DB, run.project.ID, numbers); err != nil {
		zap.L().Warn("释放镜头占用失败", zap.Error(err))
	}

	switch {
	case cancelled:
		run.task.UpdateStatus(p.DB, models.TaskStatusCancelled, result, "")
		if len(result.AcceptedShots) > 0 {
			run.project.UpdateStatus(p.DB, models.ProjectStatusPartial)
		} else {
			run.project.UpdateStatus(p.DB, models.ProjectStatusCreated)
		}
	case runErr != nil && !engine.IsPermanent(runErr):
		// 校验类错误：整个任务失败，不产生部分结果
		run.task.UpdateStatus(p.DB, models.TaskStatusFailed, result, runErr.Error())
		run.project.UpdateStatus(p.DB, models.ProjectStatusFailed)
	case len(result.FailedShots) > 0:
		run.task.UpdateStatus(p.DB, models.TaskStatusSuccess, result, "")
		run.project.UpdateStatus(p.DB, models.ProjectStatusPartial)
	default:
		run.task.UpdateStatus(p.DB, models.TaskStatusSuccess, result, "")
		run.project.UpdateStatus(p.DB, models.ProjectStatusReady)
	}

	zap.L().Info("任务结束",
		zap.String("task_id", run.task.ID),
		zap.Ints("accepted", result.AcceptedShots),
		zap.Ints("failed", result.FailedShots),
		zap.Float64("seconds", result.TotalTime))
}
