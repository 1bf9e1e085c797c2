package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"StoryboardPro-server/engine"

	"go.uber.org/zap"
)

// AspectDimensions 画幅比例到像素尺寸的映射
var AspectDimensions = map[string][2]int{
	"16:9": {1920, 1080},
	"9:16": {1080, 1920},
	"4:3":  {1440, 1080},
	"1:1":  {1080, 1080},
	"21:9": {2520, 1080},
}

// DimensionsFor 未知比例回落到 16:9
func DimensionsFor(aspectRatio string) (int, int) {
	if dims, ok := AspectDimensions[aspectRatio]; ok {
		return dims[0], dims[1]
	}
	return 1920, 1080
}

// HTTPGenerator 调用外部生成引擎的 HTTP 客户端。
// 递交后轮询结果：POST /v1/generate 返回 job_id，GET /v1/jobs/{id} 查询状态。
// 4xx 视为永久错误（指令本身有问题，重试无意义），5xx 与网络错误视为暂时错误。
type HTTPGenerator struct {
	Endpoint     string
	AspectRatio  string
	PollInterval time.Duration
	Client       *http.Client
}

func NewHTTPGenerator(endpoint, aspectRatio string, pollInterval time.Duration) *HTTPGenerator {
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	return &HTTPGenerator{
		Endpoint:     endpoint,
		AspectRatio:  aspectRatio,
		PollInterval: pollInterval,
		Client:       &http.Client{},
	}
}

// Generate 实现 engine.GenerationEngine
func (g *HTTPGenerator) Generate(ctx context.Context, req engine.GenerationRequest) (engine.GenerationResult, error) {
	jobID, err := g.dispatch(ctx, req)
	if err != nil {
		return engine.GenerationResult{}, err
	}
	zap.L().Info("生成任务已递交",
		zap.Int("shot", req.Instruction.ShotNumber),
		zap.String("job_id", jobID))
	return g.poll(ctx, jobID)
}

// dispatch 发送生成请求，返回 job_id
func (g *HTTPGenerator) dispatch(ctx context.Context, req engine.GenerationRequest) (string, error) {
	width, height := DimensionsFor(g.AspectRatio)
	body := map[string]interface{}{
		"prompt":           req.Instruction.Prompt,
		"negative_prompt":  req.Instruction.NegativePrompt,
		"width":            width,
		"height":           height,
		"seed":             req.Seed,
		"weights":          req.Weights,
		"camera":           req.Instruction.Camera,
		"reference_assets": req.Instruction.ReferenceAssets,
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", engine.WrapPermanent(err, "marshal generate request failed")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.Endpoint+"/v1/generate", bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", engine.WrapPermanent(err, "create generate request failed")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.Client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", engine.WrapTransient(err, "generator unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return "", engine.WrapPermanent(fmt.Errorf("status %d", resp.StatusCode), "generator rejected request")
	}
	if resp.StatusCode >= 500 {
		return "", engine.WrapTransient(fmt.Errorf("status %d", resp.StatusCode), "generator server error")
	}

	var respData struct {
		ID    string `json:"id"`
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", engine.WrapTransient(err, "decode generator response failed")
	}
	if respData.ID != "" {
		return respData.ID, nil
	}
	if respData.JobID != "" {
		return respData.JobID, nil
	}
	return "", engine.WrapTransient(fmt.Errorf("response missing 'id'"), "generator response invalid")
}

// poll 轮询 GET /v1/jobs/{job_id} 直到完成。超时由调用侧的 ctx 控制。
func (g *HTTPGenerator) poll(ctx context.Context, jobID string) (engine.GenerationResult, error) {
	jobURL := fmt.Sprintf("%s/v1/jobs/%s", g.Endpoint, jobID)

	ticker := time.NewTicker(g.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// 取消或超时：尽力通知引擎中止作业
			g.abort(jobID)
			return engine.GenerationResult{}, ctx.Err()
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, jobURL, nil)
			if err != nil {
				continue
			}
			resp, err := g.Client.Do(req)
			if err != nil {
				// ctx 取消导致的错误由上面的 <-ctx.Done() 捕获
				zap.L().Warn("轮询网络错误(重试中)", zap.Error(err))
				continue
			}

			var raw struct {
				Status   string `json:"status"`
				Error    string `json:"error"`
				Artifact string `json:"artifact"`
				Seed     int64  `json:"seed"`
			}
			decodeErr := json.NewDecoder(resp.Body).Decode(&raw)
			resp.Body.Close()
			if decodeErr != nil {
				zap.L().Warn("解析轮询响应失败", zap.Error(decodeErr))
				continue
			}

			switch raw.Status {
			case "finished", "success", "completed", "succeeded":
				if raw.Artifact == "" {
					return engine.GenerationResult{}, engine.WrapTransient(fmt.Errorf("job %s finished without artifact", jobID), "generator result invalid")
				}
				return engine.GenerationResult{Artifact: raw.Artifact, Seed: raw.Seed}, nil
			case "failed", "error":
				return engine.GenerationResult{}, engine.WrapPermanent(fmt.Errorf("worker reported failure: %s", raw.Error), "generation job failed")
			}
			// 其他状态继续轮询
		}
	}
}

// abort 通知引擎中止在途作业，失败只记日志
func (g *HTTPGenerator) abort(jobID string) {
	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/v1/jobs/%s", g.Endpoint, jobID), nil)
	if err != nil {
		return
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		zap.L().Warn("中止作业请求失败", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	resp.Body.Close()
}
