package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeEngine 可编程的生成引擎桩
type fakeEngine struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, call int, req GenerationRequest) (GenerationResult, error)
}

func (f *fakeEngine) Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, call, req)
	}
	return GenerationResult{Artifact: "artifact_ok", Seed: 42}, nil
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeValidator 按调用次序返回预设得分
type fakeValidator struct {
	mu     sync.Mutex
	scores []float64
	idx    int
	err    error
}

func (f *fakeValidator) Score(ctx context.Context, artifact string, refs []ReferenceAsset) (ScoreReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return ScoreReport{}, f.err
	}
	score := f.scores[len(f.scores)-1]
	if f.idx < len(f.scores) {
		score = f.scores[f.idx]
	}
	f.idx++
	return ScoreReport{Overall: score}, nil
}

func testProject(t *testing.T) *Project {
	t.Helper()
	proj := NewProject("测试项目", "16:9")
	_, err := proj.Registry.Register(newTestCharacter("char_01", "宁凡"))
	require.NoError(t, err)
	_, err = proj.Registry.Register(testScene())
	require.NoError(t, err)
	_, err = proj.Registry.Register(testStyle(false))
	require.NoError(t, err)
	proj.StyleID = "style_01"
	return proj
}

func testOrchestrator(t *testing.T, proj *Project, gen GenerationEngine, v ConsistencyValidator, cfg EngineConfig) *Orchestrator {
	t.Helper()
	return NewOrchestrator(cfg, proj.Registry, proj.Assembler(), gen, v, zap.NewNop())
}

func addShot(t *testing.T, proj *Project, n int) *Shot {
	t.Helper()
	shot, err := proj.AddShot(ShotPlan{
		ShotNumber:   n,
		TemplateID:   "T4",
		Description:  "测试镜头",
		CharacterIDs: []string{"char_01"},
		SceneID:      "scene_01",
	})
	require.NoError(t, err)
	return shot
}

func TestRunShotAcceptedFirstPass(t *testing.T) {
	proj := testProject(t)
	shot := addShot(t, proj, 1)
	gen := &fakeEngine{}
	o := testOrchestrator(t, proj, gen, &fakeValidator{scores: []float64{0.92}}, DefaultEngineConfig())

	require.NoError(t, o.RunShot(context.Background(), shot))

	assert.Equal(t, StateAccepted, shot.State)
	assert.Equal(t, 1, gen.callCount())
	assert.Equal(t, "artifact_ok", shot.OutputArtifact)
	assert.Equal(t, int64(42), shot.Seed)
	require.NotNil(t, shot.ConsistencyScore)
	assert.InDelta(t, 0.92, *shot.ConsistencyScore, 1e-9)
	assert.Zero(t, shot.RetryCount)
	assert.NotEmpty(t, shot.Prompt)
}

func TestRunShotRegeneratesThenAccepts(t *testing.T) {
	proj := testProject(t)
	shot := addShot(t, proj, 1)
	gen := &fakeEngine{}
	o := testOrchestrator(t, proj, gen, &fakeValidator{scores: []float64{0.6, 0.9}}, DefaultEngineConfig())

	require.NoError(t, o.RunShot(context.Background(), shot))

	assert.Equal(t, StateAccepted, shot.State)
	assert.Equal(t, 2, gen.callCount())
	assert.Equal(t, 1, shot.RetryCount)
}

func TestRunShotFailsAfterRetryExhaustion(t *testing.T) {
	proj := testProject(t)
	shot := addShot(t, proj, 1)
	gen := &fakeEngine{}
	cfg := DefaultEngineConfig()
	cfg.MaxRetries = 3
	o := testOrchestrator(t, proj, gen, &fakeValidator{scores: []float64{0.6}}, cfg)

	require.NoError(t, o.RunShot(context.Background(), shot))

	assert.Equal(t, StateFailed, shot.State)
	// FAILED 最多经历 max_retries + 1 次生成
	assert.Equal(t, 4, gen.callCount())
	assert.Equal(t, 3, shot.RetryCount)
	assert.NotEmpty(t, shot.FailReason)
}

func TestPermanentErrorFailsImmediately(t *testing.T) {
	proj := testProject(t)
	shot := addShot(t, proj, 1)
	gen := &fakeEngine{fn: func(ctx context.Context, call int, req GenerationRequest) (GenerationResult, error) {
		return GenerationResult{}, WrapPermanent(errors.New("unsupported reference format"), "malformed reference asset")
	}}
	o := testOrchestrator(t, proj, gen, &fakeValidator{scores: []float64{0.9}}, DefaultEngineConfig())

	err := o.RunShot(context.Background(), shot)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, StateFailed, shot.State)
	assert.Equal(t, 1, gen.callCount())
}

func TestTransientErrorsConsumeRetryBudget(t *testing.T) {
	proj := testProject(t)
	shot := addShot(t, proj, 1)
	gen := &fakeEngine{fn: func(ctx context.Context, call int, req GenerationRequest) (GenerationResult, error) {
		return GenerationResult{}, WrapTransient(errors.New("rate limited"), "worker busy")
	}}
	cfg := DefaultEngineConfig()
	cfg.MaxRetries = 2
	o := testOrchestrator(t, proj, gen, &fakeValidator{scores: []float64{0.9}}, cfg)

	require.NoError(t, o.RunShot(context.Background(), shot))
	assert.Equal(t, StateFailed, shot.State)
	assert.Equal(t, 3, gen.callCount())
}

func TestTransientThenSuccess(t *testing.T) {
	proj := testProject(t)
	shot := addShot(t, proj, 1)
	gen := &fakeEngine{fn: func(ctx context.Context, call int, req GenerationRequest) (GenerationResult, error) {
		if call == 1 {
			return GenerationResult{}, WrapTransient(errors.New("timeout"), "worker timeout")
		}
		return GenerationResult{Artifact: "artifact_retry", Seed: 7}, nil
	}}
	o := testOrchestrator(t, proj, gen, &fakeValidator{scores: []float64{0.9}}, DefaultEngineConfig())

	require.NoError(t, o.RunShot(context.Background(), shot))
	assert.Equal(t, StateAccepted, shot.State)
	assert.Equal(t, 1, shot.RetryCount)
	assert.Equal(t, "artifact_retry", shot.OutputArtifact)
}

func TestGenerateTimeoutCountsAsRetry(t *testing.T) {
	proj := testProject(t)
	shot := addShot(t, proj, 1)
	gen := &fakeEngine{fn: func(ctx context.Context, call int, req GenerationRequest) (GenerationResult, error) {
		if call == 1 {
			<-ctx.Done()
			return GenerationResult{}, ctx.Err()
		}
		return GenerationResult{Artifact: "artifact_ok", Seed: 1}, nil
	}}
	cfg := DefaultEngineConfig()
	cfg.GenerateTimeout = 20 * time.Millisecond
	o := testOrchestrator(t, proj, gen, &fakeValidator{scores: []float64{0.9}}, cfg)

	require.NoError(t, o.RunShot(context.Background(), shot))
	assert.Equal(t, StateAccepted, shot.State)
	assert.Equal(t, 1, shot.RetryCount)
}

func TestCancelLeavesShotPending(t *testing.T) {
	proj := testProject(t)
	shot := addShot(t, proj, 1)
	started := make(chan struct{})
	gen := &fakeEngine{fn: func(ctx context.Context, call int, req GenerationRequest) (GenerationResult, error) {
		close(started)
		<-ctx.Done()
		return GenerationResult{}, ctx.Err()
	}}
	o := testOrchestrator(t, proj, gen, &fakeValidator{scores: []float64{0.9}}, DefaultEngineConfig())

	done := make(chan error, 1)
	go func() { done <- o.RunShot(context.Background(), shot) }()
	<-started
	assert.True(t, o.Cancel(1))

	err := <-done
	require.Error(t, err)
	assert.Equal(t, StatePending, shot.State)
	// 在途产物被丢弃
	assert.Empty(t, shot.OutputArtifact)
}

func TestValidationRejectedBeforeAnyExternalCall(t *testing.T) {
	proj := testProject(t)
	shot, err := proj.AddShot(ShotPlan{ShotNumber: 1, TemplateID: "T4", CharacterIDs: []string{"char_99"}})
	require.NoError(t, err)
	gen := &fakeEngine{}
	o := testOrchestrator(t, proj, gen, &fakeValidator{scores: []float64{0.9}}, DefaultEngineConfig())

	err = o.RunShot(context.Background(), shot)
	require.Error(t, err)
	assert.True(t, IsMissingParticipant(err))
	assert.Zero(t, gen.callCount())
}

func TestRunSequenceStrictOrderAndFailedDoesNotBlock(t *testing.T) {
	proj := testProject(t)
	s3 := addShot(t, proj, 3)
	s5 := addShot(t, proj, 5)
	s8 := addShot(t, proj, 8)

	var mu sync.Mutex
	var order []int
	gen := &fakeEngine{fn: func(ctx context.Context, call int, req GenerationRequest) (GenerationResult, error) {
		mu.Lock()
		order = append(order, req.Instruction.ShotNumber)
		mu.Unlock()
		if req.Instruction.ShotNumber == 5 {
			return GenerationResult{}, WrapPermanent(errors.New("bad asset"), "malformed instruction")
		}
		return GenerationResult{Artifact: "a", Seed: 1}, nil
	}}
	o := testOrchestrator(t, proj, gen, &fakeValidator{scores: []float64{0.9}}, DefaultEngineConfig())

	// 乱序传入也按序号严格递增生成
	require.NoError(t, o.RunSequence(context.Background(), []*Shot{s8, s3, s5}))

	assert.Equal(t, []int{3, 5, 8}, order)
	assert.Equal(t, StateAccepted, s3.State)
	assert.Equal(t, StateFailed, s5.State)
	assert.Equal(t, StateAccepted, s8.State)
}

func TestRegenerateFailedShotsInParallel(t *testing.T) {
	proj := testProject(t)
	s1 := addShot(t, proj, 1)
	s2 := addShot(t, proj, 2)
	s1.State = StateFailed
	s1.RetryCount = 3
	s2.State = StateFailed
	s2.RetryCount = 3

	gen := &fakeEngine{}
	o := testOrchestrator(t, proj, gen, &fakeValidator{scores: []float64{0.95}}, DefaultEngineConfig())

	o.RegenerateShots(context.Background(), []*Shot{s1, s2})

	assert.Equal(t, StateAccepted, s1.State)
	assert.Equal(t, StateAccepted, s2.State)
	// 人工触发再生成重置预算
	assert.Zero(t, s1.RetryCount)
	assert.Zero(t, s2.RetryCount)
}

func TestSingleInflightPerShot(t *testing.T) {
	proj := testProject(t)
	shot := addShot(t, proj, 1)
	started := make(chan struct{})
	release := make(chan struct{})
	gen := &fakeEngine{fn: func(ctx context.Context, call int, req GenerationRequest) (GenerationResult, error) {
		close(started)
		<-release
		return GenerationResult{Artifact: "a", Seed: 1}, nil
	}}
	o := testOrchestrator(t, proj, gen, &fakeValidator{scores: []float64{0.9}}, DefaultEngineConfig())

	done := make(chan error, 1)
	go func() { done <- o.RunShot(context.Background(), shot) }()
	<-started

	// 同一镜头不允许第二个在途请求
	dup := &Shot{Plan: shot.Plan, State: StatePending}
	err := o.RunShot(context.Background(), dup)
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateAccepted, shot.State)
}

func TestLockSeedReusedOnRegeneration(t *testing.T) {
	proj := testProject(t)
	shot := addShot(t, proj, 1)
	var seeds []int64
	gen := &fakeEngine{fn: func(ctx context.Context, call int, req GenerationRequest) (GenerationResult, error) {
		seeds = append(seeds, req.Seed)
		return GenerationResult{Artifact: "a", Seed: 777}, nil
	}}
	cfg := DefaultEngineConfig()
	cfg.LockSeed = true
	o := testOrchestrator(t, proj, gen, &fakeValidator{scores: []float64{0.6, 0.9}}, cfg)

	require.NoError(t, o.RunShot(context.Background(), shot))
	require.Len(t, seeds, 2)
	assert.Equal(t, int64(0), seeds[0])
	assert.Equal(t, int64(777), seeds[1], "锁定种子时再生成应沿用首次种子")
}

func TestRunShotStatesFollowTransitionTable(t *testing.T) {
	proj := testProject(t)
	shot := addShot(t, proj, 1)
	gen := &fakeEngine{}
	o := testOrchestrator(t, proj, gen, &fakeValidator{scores: []float64{0.6, 0.9}}, DefaultEngineConfig())

	var seen []ShotState
	o.OnShotUpdate = func(s *Shot) { seen = append(seen, s.State) }

	require.NoError(t, o.RunShot(context.Background(), shot))

	// 再生成必须经过 REGENERATING → GENERATING，而不是绕过迁移表复位
	assert.Equal(t, []ShotState{
		StateGenerating, StateScored, StateRegenerating,
		StateGenerating, StateScored, StateAccepted,
	}, seen)
}

func TestShotStateTransitionsTable(t *testing.T) {
	cases := []struct {
		from ShotState
		ev   shotEvent
		to   ShotState
		ok   bool
	}{
		{StatePending, evSubmit, StateGenerating, true},
		{StateGenerating, evArtifact, StateScored, true},
		{StateScored, evAccept, StateAccepted, true},
		{StateScored, evRetry, StateRegenerating, true},
		{StateGenerating, evRetry, StateRegenerating, true},
		{StateRegenerating, evResubmit, StateGenerating, true},
		{StateScored, evFail, StateFailed, true},
		{StateGenerating, evFail, StateFailed, true},
		{StateGenerating, evCancel, StatePending, true},
		{StateScored, evCancel, StatePending, true},
		{StateAccepted, evSubmit, StateAccepted, false},
		{StateFailed, evRetry, StateFailed, false},
		{StatePending, evAccept, StatePending, false},
		{StateRegenerating, evSubmit, StateRegenerating, false},
	}
	for _, c := range cases {
		got, err := transition(c.from, c.ev)
		if c.ok {
			require.NoErrorf(t, err, "%s + %s", c.from, c.ev)
			assert.Equal(t, c.to, got)
		} else {
			assert.Errorf(t, err, "%s + %s", c.from, c.ev)
		}
	}
}
