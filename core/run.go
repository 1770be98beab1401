package core

import (
	"context"
	"time"
)

// Experiment 是实验追踪后端中的一个实验。
type Experiment struct {
	ID   string
	Name string
}

// RunRecord 是一次训练 run 的只读元数据。
// Family 由 Params[ParamModelType] 解析得到。
type RunRecord struct {
	RunID        string
	ExperimentID string
	Family       ModelFamily
	StartTime    time.Time
	Metrics      map[string]float64
	Params       map[string]string
}

// Metric 读取单个指标，不存在时 ok 为 false
func (r *RunRecord) Metric(name string) (value float64, ok bool) {
	if r == nil || r.Metrics == nil {
		return 0, false
	}
	value, ok = r.Metrics[name]
	return value, ok
}

// RunFilter 是 run 查询条件。
//
//   - Params: 参数等值过滤，例如 {"model_type": "OLS"}
//   - Expr: 可选的 CEL 表达式，例如 `metrics.test_r2 > 0.5`
type RunFilter struct {
	Params map[string]string
	Expr   string
}

// RunRegistry 是 run 查询的领域接口（只读）。
//
// 实现：
//   - registry.Client 实现此接口
type RunRegistry interface {
	// LatestRun 返回指定模型族最近的一次 run；没有 run 时返回 NOT_FOUND 错误
	LatestRun(ctx context.Context, family ModelFamily) (*RunRecord, error)

	// GetRun 按 run_id 读取 run
	GetRun(ctx context.Context, runID string) (*RunRecord, error)
}

// TrackingBackend 是实验追踪后端的查询接口。
//
// 实现：
//   - registry.KVBackend（内存 / Redis）
//   - registry.SQLBackend（SQLite / Postgres，MLflow 表结构）
//   - registry.MLflowBackend（MLflow Tracking Server REST API）
type TrackingBackend interface {
	// Name 返回后端名称（用于日志/监控）
	Name() string

	// GetExperimentByName 按名称查询实验，不存在时返回 NOT_FOUND
	GetExperimentByName(ctx context.Context, name string) (*Experiment, error)

	// SearchRuns 查询实验下满足条件的 run，按后端原生顺序（新 → 旧）返回
	SearchRuns(ctx context.Context, experimentID string, filter RunFilter) ([]*RunRecord, error)

	// GetRun 按 run_id 读取 run，不存在时返回 NOT_FOUND
	GetRun(ctx context.Context, runID string) (*RunRecord, error)

	// Close 关闭连接/释放资源
	Close() error
}
