// Package registry 查询实验追踪后端，为模型族找到最近一次训练 run。
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/rushteam/pricekit/core"
)

// DefaultExperiment 是房价模型训练 run 所在的实验
const DefaultExperiment = "House_Price_Prediction"

// DefaultTimeout 是单次查询的默认超时
const DefaultTimeout = 10 * time.Second

// ErrNoRuns 表示该模型族没有任何 run，可用 errors.Is 判断
var ErrNoRuns = errors.New("no runs found")

// Client 是 core.RunRegistry 的实现，在固定实验内按模型族查找 run。
type Client struct {
	backend    core.TrackingBackend
	experiment string
	runFilter  string
	timeout    time.Duration
	logger     *zap.Logger
}

// ClientOption Client 配置选项
type ClientOption func(*Client)

// WithExperiment 设置实验名称
func WithExperiment(name string) ClientOption {
	return func(c *Client) {
		if name != "" {
			c.experiment = name
		}
	}
}

// WithRunFilter 设置附加的 CEL 过滤表达式，例如 `metrics.test_r2 > 0.5`
func WithRunFilter(expr string) ClientOption {
	return func(c *Client) {
		c.runFilter = expr
	}
}

// WithTimeout 设置单次查询超时
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewClient(backend core.TrackingBackend, opts ...ClientOption) *Client {
	c := &Client{
		backend:    backend,
		experiment: DefaultExperiment,
		timeout:    DefaultTimeout,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Experiment 返回实验名称
func (c *Client) Experiment() string { return c.experiment }

// Backend 返回底层追踪后端
func (c *Client) Backend() core.TrackingBackend { return c.backend }

// LatestRun 返回 family 最近一次（start_time 最大）的 run。
//
// 错误：
//   - 实验不存在：CONFIGURATION
//   - 没有 run：NOT_FOUND，errors.Is(err, ErrNoRuns) 为 true
//   - 后端不可达或超时：UNAVAILABLE
func (c *Client) LatestRun(ctx context.Context, family core.ModelFamily) (*core.RunRecord, error) {
	if !family.Valid() {
		return nil, core.NewDomainError(core.ModuleRegistry, core.ErrorCodeInvalidInput,
			fmt.Sprintf("unknown model family %q", family))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	exp, err := c.backend.GetExperimentByName(ctx, c.experiment)
	if err != nil {
		if core.IsNotFound(err) {
			return nil, core.WrapDomainError(core.ModuleRegistry, core.ErrorCodeConfiguration,
				fmt.Sprintf("experiment %q not found", c.experiment), err)
		}
		return nil, c.classify("get experiment", err)
	}

	runs, err := c.backend.SearchRuns(ctx, exp.ID, core.RunFilter{
		Params: map[string]string{core.ParamModelType: family.String()},
		Expr:   c.runFilter,
	})
	if err != nil {
		return nil, c.classify("search runs", err)
	}

	matched := runs[:0:0]
	for _, run := range runs {
		if run != nil && run.Family == family {
			matched = append(matched, run)
		}
	}
	c.logger.Debug("searched runs",
		zap.String("backend", c.backend.Name()),
		zap.String("experiment_id", exp.ID),
		zap.String("family", family.String()),
		zap.Int("found", len(runs)),
		zap.Int("matched", len(matched)))

	if len(matched) == 0 {
		return nil, core.WrapDomainError(core.ModuleRegistry, core.ErrorCodeNotFound,
			fmt.Sprintf("no runs found for model type %s", family), ErrNoRuns)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].StartTime.After(matched[j].StartTime)
	})
	return matched[0], nil
}

// GetRun 按 run_id 读取 run（用于刷新指标）
func (c *Client) GetRun(ctx context.Context, runID string) (*core.RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	run, err := c.backend.GetRun(ctx, runID)
	if err != nil {
		if core.IsNotFound(err) {
			return nil, err
		}
		return nil, c.classify("get run", err)
	}
	return run, nil
}

// classify 把后端错误统一为领域错误：已分类的保持原样，超时和未知错误视为后端不可用
func (c *Client) classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return core.WrapDomainError(core.ModuleRegistry, core.ErrorCodeUnavailable,
			fmt.Sprintf("%s: tracking backend %s timed out", op, c.backend.Name()), err)
	}
	if core.IsDomainError(err) {
		return err
	}
	return core.WrapDomainError(core.ModuleRegistry, core.ErrorCodeUnavailable,
		fmt.Sprintf("%s: tracking backend %s", op, c.backend.Name()), err)
}

// Close 关闭底层后端
func (c *Client) Close() error { return c.backend.Close() }

var _ core.RunRegistry = (*Client)(nil)
