package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"StoryboardPro-server/engine"
)

// HTTPValidator 调用外部一致性校验服务的 HTTP 客户端。
// 校验是同步接口：POST /v1/score 直接返回分数。
type HTTPValidator struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPValidator(endpoint string) *HTTPValidator {
	return &HTTPValidator{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 2 * time.Minute},
	}
}

// Score 实现 engine.ConsistencyValidator
func (v *HTTPValidator) Score(ctx context.Context, artifact string, refs []engine.ReferenceAsset) (engine.ScoreReport, error) {
	body := map[string]interface{}{
		"artifact":   artifact,
		"references": refs,
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return engine.ScoreReport{}, engine.WrapPermanent(err, "marshal score request failed")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.Endpoint+"/v1/score", bytes.NewBuffer(jsonBody))
	if err != nil {
		return engine.ScoreReport{}, engine.WrapPermanent(err, "create score request failed")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return engine.ScoreReport{}, ctx.Err()
		}
		return engine.ScoreReport{}, engine.WrapTransient(err, "validator unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return engine.ScoreReport{}, engine.WrapTransient(fmt.Errorf("status %d", resp.StatusCode), "validator error")
	}

	var report engine.ScoreReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return engine.ScoreReport{}, engine.WrapTransient(err, "decode score response failed")
	}
	if report.Overall < 0 || report.Overall > 1 {
		return engine.ScoreReport{}, engine.WrapTransient(fmt.Errorf("overall score %f out of range", report.Overall), "validator result invalid")
	}
	return report, nil
}
