package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rushteam/pricekit/core"
)

const (
	mlflowAPIPrefix      = "/api/2.0/mlflow"
	mlflowNotFound       = "RESOURCE_DOES_NOT_EXIST"
	mlflowSearchPageSize = 1000
	mlflowMaxPages       = 50
)

// MLflowBackend 通过 MLflow Tracking Server REST API 2.0 查询实验与 run。
type MLflowBackend struct {
	baseURL string
	client  *http.Client
}

// NewMLflowBackend 创建 MLflow 后端，trackingURI 例如 "http://localhost:5000"
func NewMLflowBackend(trackingURI string, timeout time.Duration) *MLflowBackend {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return NewMLflowBackendWithClient(trackingURI, &http.Client{Timeout: timeout})
}

// NewMLflowBackendWithClient 使用自定义 HTTP 客户端创建后端
func NewMLflowBackendWithClient(trackingURI string, client *http.Client) *MLflowBackend {
	return &MLflowBackend{
		baseURL: strings.TrimRight(trackingURI, "/"),
		client:  client,
	}
}

func (b *MLflowBackend) Name() string { return "mlflow" }

// flexInt64 兼容 int64 以数字或字符串编码两种形式
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid int64 %s: %w", data, err)
	}
	*f = flexInt64(v)
	return nil
}

type mlflowExperiment struct {
	ExperimentID   string `json:"experiment_id"`
	Name           string `json:"name"`
	LifecycleStage string `json:"lifecycle_stage"`
}

type mlflowRun struct {
	Info struct {
		RunID          string    `json:"run_id"`
		ExperimentID   string    `json:"experiment_id"`
		StartTime      flexInt64 `json:"start_time"`
		LifecycleStage string    `json:"lifecycle_stage"`
	} `json:"info"`
	Data struct {
		Metrics []struct {
			Key   string  `json:"key"`
			Value float64 `json:"value"`
		} `json:"metrics"`
		Params []struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		} `json:"params"`
	} `json:"data"`
}

func (r *mlflowRun) record() *core.RunRecord {
	run := &core.RunRecord{
		RunID:        r.Info.RunID,
		ExperimentID: r.Info.ExperimentID,
		Params:       make(map[string]string, len(r.Data.Params)),
		Metrics:      make(map[string]float64, len(r.Data.Metrics)),
	}
	if r.Info.StartTime > 0 {
		run.StartTime = time.UnixMilli(int64(r.Info.StartTime))
	}
	for _, p := range r.Data.Params {
		run.Params[p.Key] = p.Value
	}
	for _, m := range r.Data.Metrics {
		run.Metrics[m.Key] = m.Value
	}
	run.Family = familyOf(run.Params)
	return run
}

type mlflowError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// call 发送请求并解码响应；404 / RESOURCE_DOES_NOT_EXIST 返回 NOT_FOUND，网络错误和 5xx 返回 UNAVAILABLE
func (b *MLflowBackend) call(ctx context.Context, method, endpoint string, query url.Values, body, out any) error {
	u := b.baseURL + mlflowAPIPrefix + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return unavailable("mlflow "+endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return unavailable("mlflow "+endpoint+": read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr mlflowError
		_ = json.Unmarshal(data, &apiErr)
		switch {
		case resp.StatusCode == http.StatusNotFound || apiErr.ErrorCode == mlflowNotFound:
			return notFound("mlflow %s: %s", endpoint, apiErr.Message)
		case resp.StatusCode >= 500:
			return unavailable(fmt.Sprintf("mlflow %s: status=%d", endpoint, resp.StatusCode),
				fmt.Errorf("%s", strings.TrimSpace(string(data))))
		}
		return misconfigured(fmt.Sprintf("mlflow %s: status=%d", endpoint, resp.StatusCode),
			fmt.Errorf("%s: %s", apiErr.ErrorCode, apiErr.Message))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return misconfigured(fmt.Sprintf("mlflow %s: decode response", endpoint), err)
	}
	return nil
}

func (b *MLflowBackend) GetExperimentByName(ctx context.Context, name string) (*core.Experiment, error) {
	var resp struct {
		Experiment mlflowExperiment `json:"experiment"`
	}
	q := url.Values{"experiment_name": {name}}
	if err := b.call(ctx, http.MethodGet, "/experiments/get-by-name", q, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Experiment.ExperimentID == "" || resp.Experiment.LifecycleStage == "deleted" {
		return nil, notFound("experiment %q not found", name)
	}
	return &core.Experiment{ID: resp.Experiment.ExperimentID, Name: resp.Experiment.Name}, nil
}

// filterString 把参数等值条件转换为 MLflow search filter，例如 params.model_type = 'OLS'
func filterString(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	clauses := make([]string, 0, len(keys))
	for _, k := range keys {
		v := params[k]
		quote := "'"
		if strings.Contains(v, "'") {
			quote = `"`
		}
		clauses = append(clauses, fmt.Sprintf("params.%s = %s%s%s", k, quote, v, quote))
	}
	return strings.Join(clauses, " and ")
}

func (b *MLflowBackend) SearchRuns(ctx context.Context, experimentID string, filter core.RunFilter) ([]*core.RunRecord, error) {
	req := map[string]any{
		"experiment_ids": []string{experimentID},
		"filter":         filterString(filter.Params),
		"run_view_type":  "ACTIVE_ONLY",
		"max_results":    mlflowSearchPageSize,
		"order_by":       []string{"attributes.start_time DESC"},
	}

	var runs []*core.RunRecord
	for page := 0; page < mlflowMaxPages; page++ {
		var resp struct {
			Runs          []mlflowRun `json:"runs"`
			NextPageToken string      `json:"next_page_token"`
		}
		if err := b.call(ctx, http.MethodPost, "/runs/search", nil, req, &resp); err != nil {
			return nil, err
		}
		for i := range resp.Runs {
			runs = append(runs, resp.Runs[i].record())
		}
		if resp.NextPageToken == "" {
			break
		}
		req["page_token"] = resp.NextPageToken
	}
	// 服务端已按参数过滤，这里再做一次等值过滤，并执行 CEL 表达式
	return applyFilter(runs, filter)
}

func (b *MLflowBackend) GetRun(ctx context.Context, runID string) (*core.RunRecord, error) {
	var resp struct {
		Run mlflowRun `json:"run"`
	}
	if err := b.call(ctx, http.MethodGet, "/runs/get", url.Values{"run_id": {runID}}, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Run.Info.RunID == "" {
		return nil, notFound("run %q not found", runID)
	}
	return resp.Run.record(), nil
}

func (b *MLflowBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

var _ core.TrackingBackend = (*MLflowBackend)(nil)
