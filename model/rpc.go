package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rushteam/pricekit/core"
)

// RPCModel 是通过 HTTP 调用外部模型服务的 Predictor 实现。
// 支持 MLflow model serving、TensorFlow Serving、TorchServe 等 "instances" 协议的服务。
type RPCModel struct {
	Endpoint  string // 例如 "http://localhost:5001/invocations"
	Timeout   time.Duration
	NFeatures int
	Client    *http.Client
}

// remoteSection 是 artifact 中 remote section 的格式
type remoteSection struct {
	Endpoint  string `json:"endpoint"`
	TimeoutMs int    `json:"timeout_ms"`
	NFeatures int    `json:"n_features"`
}

func decodeRemote(env *Envelope) (core.Predictor, error) {
	var sec remoteSection
	if err := unmarshalSection(env.Remote, "remote", &sec); err != nil {
		return nil, err
	}
	if sec.Endpoint == "" {
		return nil, fmt.Errorf("remote: endpoint is required")
	}
	n := sec.NFeatures
	if n <= 0 {
		n = len(env.FeatureNames)
	}
	return NewRPCModel(sec.Endpoint, time.Duration(sec.TimeoutMs)*time.Millisecond, n), nil
}

func NewRPCModel(endpoint string, timeout time.Duration, nFeatures int) *RPCModel {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &RPCModel{
		Endpoint:  endpoint,
		Timeout:   timeout,
		NFeatures: nFeatures,
		Client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (m *RPCModel) Flavor() string { return FlavorRemote }

func (m *RPCModel) NumFeatures() int { return m.NFeatures }

// Predict 调用远程模型服务进行批量预测。
// 请求格式（JSON）：
//
//	{"instances": [[4.5, 10, 1, ...], ...]}
//
// 响应格式（JSON）：
//
//	{"predictions": [1234.5, ...]}
func (m *RPCModel) Predict(ctx context.Context, rows [][]float64) ([]float64, error) {
	if m.Client == nil {
		m.Client = &http.Client{Timeout: m.Timeout}
	}
	if len(rows) == 0 {
		return []float64{}, nil
	}
	if m.NFeatures > 0 {
		if err := checkWidth(rows, m.NFeatures); err != nil {
			return nil, err
		}
	}

	jsonData, err := json.Marshal(map[string]any{"instances": rows})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.Endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err != nil {
			return nil, fmt.Errorf("rpc error: status=%d, read body failed: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("rpc error: status=%d, body=%s", resp.StatusCode, string(body))
	}

	var result struct {
		Predictions []float64 `json:"predictions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Predictions) != len(rows) {
		return nil, fmt.Errorf("response predictions count mismatch: expected %d, got %d", len(rows), len(result.Predictions))
	}
	return result.Predictions, nil
}

var _ core.Predictor = (*RPCModel)(nil)
