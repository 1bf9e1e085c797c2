package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ShotState 镜头生命周期状态
type ShotState string

const (
	StatePending      ShotState = "pending"
	StateGenerating   ShotState = "generating"
	StateScored       ShotState = "scored"
	StateRegenerating ShotState = "regenerating"
	StateAccepted     ShotState = "accepted"
	StateFailed       ShotState = "failed"
)

// Terminal 是否终态
func (s ShotState) Terminal() bool {
	return s == StateAccepted || s == StateFailed
}

// shotEvent 驱动状态迁移的事件
type shotEvent string

const (
	evSubmit   shotEvent = "submit"   // 指令递交给生成引擎
	evArtifact shotEvent = "artifact" // 收到产物并递交打分
	evAccept   shotEvent = "accept"   // 得分达标
	evRetry    shotEvent = "retry"    // 得分不足或暂时性错误，预算未耗尽
	evResubmit shotEvent = "resubmit" // 重新生成
	evFail     shotEvent = "fail"     // 永久失败或预算耗尽
	evCancel   shotEvent = "cancel"   // 取消，丢弃在途产物回到 PENDING
)

// transition 显式状态迁移表。非法迁移返回错误，重试/取消逻辑由此可独立审计。
// 状态只经由本表变更，不允许直接赋值绕过。
func transition(s ShotState, ev shotEvent) (ShotState, error) {
	switch {
	case s == StatePending && ev == evSubmit:
		return StateGenerating, nil
	case s == StateGenerating && ev == evArtifact:
		return StateScored, nil
	case s == StateScored && ev == evAccept:
		return StateAccepted, nil
	case (s == StateScored || s == StateGenerating) && ev == evRetry:
		return StateRegenerating, nil
	case s == StateRegenerating && ev == evResubmit:
		return StateGenerating, nil
	case (s == StateGenerating || s == StateScored) && ev == evFail:
		return StateFailed, nil
	case (s == StateGenerating || s == StateScored) && ev == evCancel:
		return StatePending, nil
	}
	return s, newError(ErrKindValidation, "illegal transition %s on %s", ev, s)
}

// GenerationRequest 递交给外部生成引擎的请求
type GenerationRequest struct {
	Instruction GenerationInstruction `json:"instruction"`
	Weights     WeightVector          `json:"weights"`
	// Seed <= 0 表示由引擎自选随机种子
	Seed int64 `json:"seed"`
}

// GenerationResult 生成引擎返回的产物
type GenerationResult struct {
	// 产物定位符，引擎侧不透明
	Artifact string `json:"artifact"`
	Seed     int64  `json:"seed"`
}

// GenerationEngine 外部图像合成协作方。错误须区分 transient/permanent
// （WrapTransient / WrapPermanent）。
type GenerationEngine interface {
	Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error)
}

// ScoreReport 一致性校验结果
type ScoreReport struct {
	// [0,1] 总分
	Overall float64 `json:"overall"`
	// 可选分项：face_similarity / costume_continuity / scene_continuity
	SubScores map[string]float64 `json:"sub_scores,omitempty"`
}

// ConsistencyValidator 外部一致性校验协作方
type ConsistencyValidator interface {
	Score(ctx context.Context, artifact string, refs []ReferenceAsset) (ScoreReport, error)
}

// EngineConfig 引擎配置。显式传入而非全局状态，多个项目/测试可并存独立配置。
type EngineConfig struct {
	AcceptThreshold float64       // 接受阈值，默认 0.85
	MaxRetries      int           // 每镜头重试上限，默认 3
	WeightCeiling   float64       // 权重总和上限，默认 2.5
	GenerateTimeout time.Duration // 单次生成调用超时，超时计一次重试
	// 锁定种子：再生成沿用首次生成的种子而非更换
	LockSeed bool
}

// DefaultEngineConfig 默认配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		AcceptThreshold: 0.85,
		MaxRetries:      3,
		WeightCeiling:   DefaultWeightCeiling,
		GenerateTimeout: 20 * time.Minute,
	}
}

// Shot 镜头运行时记录
type Shot struct {
	Plan  ShotPlan
	State ShotState
	// 合成结果，非权威输入
	Weights     WeightVector
	Camera      CameraParams
	Prompt      string
	instruction GenerationInstruction
	// 产物定位符，生成前为空
	OutputArtifact string
	// [0,1]，打分前为 nil
	ConsistencyScore *float64
	RetryCount       int
	Seed             int64
	// 上次失败原因（终态 FAILED 时供人工介入诊断）
	FailReason string
}

// Orchestrator 驱动镜头 生成→打分→接受/再生成 状态机
type Orchestrator struct {
	cfg       EngineConfig
	registry  *Registry
	assembler *Assembler
	gen       GenerationEngine
	validator ConsistencyValidator
	log       *zap.Logger

	// OnShotUpdate 每次状态迁移后回调，调用方用于持久化与进度推送。
	// 并行再生成时会被多个 goroutine 并发调用，回调自身须并发安全。
	OnShotUpdate func(*Shot)

	mu sync.Mutex
	// 同一镜头同一时刻只允许一个在途生成请求
	inflight map[int]bool
	cancels  map[int]context.CancelFunc
}

func NewOrchestrator(cfg EngineConfig, reg *Registry, asm *Assembler, gen GenerationEngine, validator ConsistencyValidator, log *zap.Logger) *Orchestrator {
	if cfg.AcceptThreshold <= 0 {
		cfg.AcceptThreshold = 0.85
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.WeightCeiling <= 0 {
		cfg.WeightCeiling = DefaultWeightCeiling
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = 20 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		registry:  reg,
		assembler: asm,
		gen:       gen,
		validator: validator,
		log:       log,
		inflight:  make(map[int]bool),
		cancels:   make(map[int]context.CancelFunc),
	}
}

// participants 从镜头计划收集各槽位参与实体。校验失败同步返回，不触达外部调用。
func (o *Orchestrator) participants(plan ShotPlan, dual bool) (map[string][]Participant, error) {
	out := make(map[string][]Participant)

	for i, id := range plan.CharacterIDs {
		ch, err := o.registry.Character(id)
		if err != nil {
			return nil, newError(ErrKindMissingParticipant, "character %q not in registry", id)
		}
		p := Participant{EntityID: ch.ID, BaseWeight: ch.ConsistencyWeight}
		if dual {
			// 过肩模板：首个参与角色为前景，次个为背景
			if i == 0 {
				out[SlotCharacterFG] = append(out[SlotCharacterFG], p)
			} else {
				out[SlotCharacterBG] = append(out[SlotCharacterBG], p)
			}
		} else {
			out[SlotCharacter] = append(out[SlotCharacter], p)
		}
	}
	if plan.SceneID != "" {
		sc, err := o.registry.Scene(plan.SceneID)
		if err != nil {
			return nil, newError(ErrKindMissingParticipant, "scene %q not in registry", plan.SceneID)
		}
		out[SlotScene] = append(out[SlotScene], Participant{EntityID: sc.ID, BaseWeight: sc.ConsistencyWeight})
	}
	for _, id := range plan.PropIDs {
		pr, err := o.registry.Prop(id)
		if err != nil {
			return nil, newError(ErrKindMissingParticipant, "prop %q not in registry", id)
		}
		out[SlotProps] = append(out[SlotProps], Participant{EntityID: pr.ID, BaseWeight: pr.ConsistencyWeight})
	}
	if o.assembler.StyleID != "" {
		st, err := o.registry.Style(o.assembler.StyleID)
		if err != nil {
			return nil, newError(ErrKindMissingParticipant, "style %q not in registry", o.assembler.StyleID)
		}
		out[SlotStyle] = append(out[SlotStyle], Participant{EntityID: st.ID, BaseWeight: st.ConsistencyWeight})
	}
	return out, nil
}

// PrepareShot 合成权重、仲裁冲突并装配生成指令。
// 所有校验错误在任何外部调用前同步返回。
func (o *Orchestrator) PrepareShot(shot *Shot) error {
	tmpl, err := LookupTemplate(shot.Plan.TemplateID)
	if err != nil {
		return err
	}
	parts, err := o.participants(shot.Plan, tmpl.DualCharacter)
	if err != nil {
		return err
	}
	shot.Weights = ComposeWeightsWithCeiling(tmpl, shot.Plan.WeightOverrides, parts, o.cfg.WeightCeiling)

	var entities []Entity
	for _, id := range shot.Plan.CharacterIDs {
		if ch, err := o.registry.Character(id); err == nil {
			entities = append(entities, ch)
		}
	}
	if shot.Plan.SceneID != "" {
		if sc, err := o.registry.Scene(shot.Plan.SceneID); err == nil {
			entities = append(entities, sc)
		}
	}
	for _, id := range shot.Plan.PropIDs {
		if pr, err := o.registry.Prop(id); err == nil {
			entities = append(entities, pr)
		}
	}
	var style *Style
	if o.assembler.StyleID != "" {
		style, _ = o.registry.Style(o.assembler.StyleID)
	}
	sig := ResolveConflicts(entities, style)

	inst, err := o.assembler.Assemble(shot.Plan, sig, shot.Weights)
	if err != nil {
		return err
	}
	shot.instruction = inst
	shot.Prompt = inst.Prompt
	shot.Camera = inst.Camera
	return nil
}

// RunShot 驱动单个镜头直至终态。FAILED 不是 error：返回 nil 且镜头标记
// 待人工介入，不阻塞后续镜头。上下文取消时镜头回到 PENDING 并返回 ctx 错误。
func (o *Orchestrator) RunShot(ctx context.Context, shot *Shot) error {
	if shot.State != StatePending {
		return newError(ErrKindValidation, "shot %d is %s, expected pending", shot.Plan.ShotNumber, shot.State)
	}
	if err := o.acquire(shot.Plan.ShotNumber); err != nil {
		return err
	}
	defer o.release(shot.Plan.ShotNumber)

	if err := o.PrepareShot(shot); err != nil {
		return err
	}

	for {
		// 首次递交走 PENDING→GENERATING，重试走 REGENERATING→GENERATING
		ev := evSubmit
		if shot.State == StateRegenerating {
			ev = evResubmit
		}
		var err error
		if shot.State, err = transition(shot.State, ev); err != nil {
			return err
		}
		o.notify(shot)

		res, genErr := o.generateOnce(ctx, shot)
		if genErr != nil {
			if errors.Is(genErr, context.Canceled) || ctx.Err() != nil {
				// 取消：丢弃在途产物，镜头回到 PENDING
				shot.State, _ = transition(shot.State, evCancel)
				o.notify(shot)
				return genErr
			}
			if IsPermanent(genErr) {
				shot.State, _ = transition(shot.State, evFail)
				shot.FailReason = genErr.Error()
				o.notify(shot)
				o.log.Error("shot generation permanently failed",
					zap.Int("shot", shot.Plan.ShotNumber),
					zap.Int("attempt", shot.RetryCount+1),
					zap.String("prompt", shot.Prompt),
					zap.Error(genErr))
				return genErr
			}
			// 暂时性错误（含超时）消耗一次重试预算
			o.log.Warn("transient generation error",
				zap.Int("shot", shot.Plan.ShotNumber),
				zap.Int("attempt", shot.RetryCount+1),
				zap.Error(genErr))
			if !o.consumeRetry(shot) {
				shot.State, _ = transition(shot.State, evFail)
				shot.FailReason = genErr.Error()
				o.notify(shot)
				return nil
			}
			continue
		}

		shot.OutputArtifact = res.Artifact
		shot.Seed = res.Seed
		if shot.State, err = transition(shot.State, evArtifact); err != nil {
			return err
		}
		o.notify(shot)

		report, scoreErr := o.validator.Score(ctx, res.Artifact, shot.instruction.ReferenceAssets)
		if scoreErr != nil {
			if errors.Is(scoreErr, context.Canceled) || ctx.Err() != nil {
				shot.State, _ = transition(shot.State, evCancel)
				o.notify(shot)
				return scoreErr
			}
			o.log.Warn("validator error",
				zap.Int("shot", shot.Plan.ShotNumber),
				zap.Int("attempt", shot.RetryCount+1),
				zap.Error(scoreErr))
			if !o.consumeRetry(shot) {
				shot.State, _ = transition(shot.State, evFail)
				shot.FailReason = scoreErr.Error()
				o.notify(shot)
				return nil
			}
			continue
		}

		score := report.Overall
		shot.ConsistencyScore = &score

		if score >= o.cfg.AcceptThreshold {
			shot.State, _ = transition(shot.State, evAccept)
			o.notify(shot)
			o.log.Info("shot accepted",
				zap.Int("shot", shot.Plan.ShotNumber),
				zap.Float64("score", score),
				zap.Int("attempts", shot.RetryCount+1))
			return nil
		}

		// 得分不足不是错误，是预期的再生成分支
		if !o.consumeRetry(shot) {
			shot.State, _ = transition(shot.State, evFail)
			shot.FailReason = "consistency score below threshold after retry budget"
			o.notify(shot)
			o.log.Warn("shot failed after retry exhaustion",
				zap.Int("shot", shot.Plan.ShotNumber),
				zap.Float64("score", score),
				zap.Int("attempts", shot.RetryCount+1))
			return nil
		}
		o.log.Info("regenerating shot",
			zap.Int("shot", shot.Plan.ShotNumber),
			zap.Float64("score", score),
			zap.Int("attempt", shot.RetryCount))
	}
}

func (o *Orchestrator) notify(shot *Shot) {
	if o.OnShotUpdate != nil {
		o.OnShotUpdate(shot)
	}
}

// generateOnce 单次生成调用，带超时，超时按暂时性错误处理
func (o *Orchestrator) generateOnce(ctx context.Context, shot *Shot) (GenerationResult, error) {
	genCtx, cancel := context.WithTimeout(ctx, o.cfg.GenerateTimeout)
	o.registerCancel(shot.Plan.ShotNumber, cancel)
	defer func() {
		cancel()
		o.unregisterCancel(shot.Plan.ShotNumber)
	}()

	seed := int64(0)
	if o.cfg.LockSeed && shot.Seed > 0 {
		seed = shot.Seed
	}
	req := GenerationRequest{Instruction: shot.instruction, Weights: shot.Weights, Seed: seed}

	res, err := o.gen.Generate(genCtx, req)
	if err != nil {
		if genCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return GenerationResult{}, WrapTransient(genCtx.Err(), "generation timed out")
		}
		return GenerationResult{}, err
	}
	return res, nil
}

// consumeRetry 消耗一次重试预算并转入 REGENERATING，循环顶部经
// evResubmit 重新递交。生成阶段与打分阶段共用同一条边。
func (o *Orchestrator) consumeRetry(shot *Shot) bool {
	if shot.RetryCount >= o.cfg.MaxRetries {
		return false
	}
	shot.RetryCount++
	var err error
	if shot.State, err = transition(shot.State, evRetry); err != nil {
		return false
	}
	o.notify(shot)
	return true
}

// RunSequence 首轮生成：按序号严格递增顺序串行执行。
// 后镜头的提示词可能经由注册表引用先前已接受镜头确立的视觉描述，
// 实体（而非镜头）承载共享状态。FAILED 镜头不阻塞后续镜头。
func (o *Orchestrator) RunSequence(ctx context.Context, shots []*Shot) error {
	ordered := make([]*Shot, len(shots))
	copy(ordered, shots)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Plan.ShotNumber < ordered[j].Plan.ShotNumber
	})

	for _, shot := range ordered {
		if shot.State.Terminal() {
			continue
		}
		if err := o.RunShot(ctx, shot); err != nil {
			if ctx.Err() != nil {
				return err
			}
			if IsValidation(err) || IsMissingParticipant(err) || IsUnknownTemplate(err) {
				return err
			}
			// 永久失败的镜头已标记 FAILED，继续后续镜头
		}
	}
	return nil
}

// RegenerateShots 首轮完成后对单独失败的镜头并行再生成。
// 再生成只以相同指令重新调用生成引擎，不改动共享实体状态，可安全并行。
func (o *Orchestrator) RegenerateShots(ctx context.Context, shots []*Shot) {
	var wg sync.WaitGroup
	for _, shot := range shots {
		if shot.State != StatePending && shot.State != StateFailed {
			continue
		}
		if shot.State == StateFailed {
			// 人工触发的再生成重置预算
			shot.State = StatePending
			shot.RetryCount = 0
			shot.FailReason = ""
		}
		wg.Add(1)
		go func(s *Shot) {
			defer wg.Done()
			_ = o.RunShot(ctx, s)
		}(shot)
	}
	wg.Wait()
}

// Cancel 取消某镜头的在途生成。返回是否存在在途请求。
func (o *Orchestrator) Cancel(shotNumber int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cancel, ok := o.cancels[shotNumber]; ok {
		cancel()
		delete(o.cancels, shotNumber)
		return true
	}
	return false
}

// CancelAll 取消全部在途生成（整项目取消）。任何镜头都不会卡死在 GENERATING：
// 超时保证每次调用必然返回，取消把镜头送回 PENDING。
func (o *Orchestrator) CancelAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for n, cancel := range o.cancels {
		cancel()
		delete(o.cancels, n)
	}
}

func (o *Orchestrator) acquire(shotNumber int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight[shotNumber] {
		return newError(ErrKindValidation, "shot %d already has an in-flight generation", shotNumber)
	}
	o.inflight[shotNumber] = true
	return nil
}

func (o *Orchestrator) release(shotNumber int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, shotNumber)
}

func (o *Orchestrator) registerCancel(shotNumber int, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancels[shotNumber] = cancel
}

func (o *Orchestrator) unregisterCancel(shotNumber int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.cancels, shotNumber)
}
