// Package artifact 负责把 run 的模型文件物化为可调用的 Predictor。
package artifact

import (
	"context"
	"fmt"
	"math"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/rushteam/pricekit/core"
	"github.com/rushteam/pricekit/feature"
	"github.com/rushteam/pricekit/model"
)

// ModelFile 是 artifact 目录下的模型文件名
const ModelFile = "model.json"

// ArtifactPath 返回 run 的模型文件在存储中的 key：
//
//	<experiment_id>/<run_id>/artifacts/<artifact_name>/model.json
func ArtifactPath(run *core.RunRecord, family core.ModelFamily) string {
	return path.Join(run.ExperimentID, run.RunID, "artifacts", family.ArtifactName(), ModelFile)
}

// ModelLoader 是 artifact 加载的抽象，Loader 与 CachingLoader 均实现此接口
type ModelLoader interface {
	Load(ctx context.Context, run *core.RunRecord, family core.ModelFamily) (*LoadedModel, error)
}

// Loader 从 core.Store 读取并解码 model.json。
// 失败时返回 artifact 模块的 DomainError，不会回退到默认模型，也不会重试。
type Loader struct {
	store   core.Store
	schema  *feature.Schema
	timeout time.Duration
	logger  *zap.Logger
}

// LoaderOption Loader 配置选项
type LoaderOption func(*Loader)

// WithSchema 设置特征 schema，artifact 声明的特征顺序必须与之一致
func WithSchema(schema *feature.Schema) LoaderOption {
	return func(l *Loader) {
		l.schema = schema
	}
}

// WithTimeout 设置单次读取超时
func WithTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) {
		l.timeout = d
	}
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func NewLoader(store core.Store, opts ...LoaderOption) *Loader {
	l := &Loader{
		store:   store,
		schema:  feature.DefaultSchema(),
		timeout: 30 * time.Second,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load 读取 run 对应模型族的 artifact 并构建 LoadedModel。
func (l *Loader) Load(ctx context.Context, run *core.RunRecord, family core.ModelFamily) (*LoadedModel, error) {
	if run == nil {
		return nil, loadError(core.ErrorCodeInvalidInput, "no run to load", nil)
	}
	if !family.Valid() {
		return nil, loadError(core.ErrorCodeInvalidInput, fmt.Sprintf("unknown model family %q", family), nil)
	}
	if run.Family != family {
		return nil, loadError(core.ErrorCodeInvalidInput,
			fmt.Sprintf("run %s belongs to %s, not %s", run.RunID, run.Family, family), nil)
	}

	key := ArtifactPath(run, family)
	readCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	l.logger.Debug("loading model artifact",
		zap.String("family", family.String()),
		zap.String("run_id", run.RunID),
		zap.String("path", key),
		zap.String("store", l.store.Name()))

	data, err := l.store.Get(readCtx, key)
	switch {
	case core.IsStoreNotFound(err):
		return nil, loadError(core.ErrorCodeNotFound, fmt.Sprintf("model artifact %s not found", key), err)
	case core.IsUnavailable(err):
		return nil, loadError(core.ErrorCodeUnavailable, fmt.Sprintf("read model artifact %s", key), err)
	case err != nil:
		return nil, loadError(core.ErrorCodeInternalError, fmt.Sprintf("read model artifact %s", key), err)
	}

	decoded, err := model.Decode(data)
	if err != nil {
		return nil, loadError(core.ErrorCodeInternalError, fmt.Sprintf("model artifact %s is corrupt", key), err)
	}
	if decoded.Family != "" && decoded.Family != family {
		return nil, loadError(core.ErrorCodeInternalError,
			fmt.Sprintf("model artifact %s was trained as %s, not %s", key, decoded.Family, family), nil)
	}
	if len(decoded.FeatureNames) > 0 && !l.schema.SameOrder(decoded.FeatureNames) {
		return nil, loadError(core.ErrorCodeInternalError,
			fmt.Sprintf("model artifact %s expects features %v, schema has %v", key, decoded.FeatureNames, l.schema.Names()), nil)
	}
	if n := decoded.Predictor.NumFeatures(); n > 0 && n != l.schema.Len() {
		return nil, loadError(core.ErrorCodeInternalError,
			fmt.Sprintf("model artifact %s expects %d features, schema has %d", key, n, l.schema.Len()), nil)
	}

	l.logger.Info("model artifact loaded",
		zap.String("family", family.String()),
		zap.String("run_id", run.RunID),
		zap.String("flavor", decoded.Flavor))

	return &LoadedModel{
		RunID:        run.RunID,
		Family:       family,
		Path:         key,
		Flavor:       decoded.Flavor,
		FeatureNames: l.schema.Names(),
		Predictor:    decoded.Predictor,
	}, nil
}

func loadError(code, message string, cause error) error {
	return core.WrapDomainError(core.ModuleArtifact, code, message, cause)
}

// LoadedModel 是已物化、可调用的模型
type LoadedModel struct {
	RunID        string
	Family       core.ModelFamily
	Path         string
	Flavor       string
	FeatureNames []string
	Predictor    core.Predictor
}

// Predict 对单条已绑定的特征记录推理，返回输出向量的第一个元素。
// 模型内部 panic、空输出、非有限值都作为推理错误返回。
func (m *LoadedModel) Predict(ctx context.Context, rec *feature.Record) (value float64, err error) {
	if rec == nil {
		return 0, inferenceError("no feature record", nil)
	}
	defer func() {
		if r := recover(); r != nil {
			value = 0
			err = inferenceError(fmt.Sprintf("model %s panicked", m.RunID), fmt.Errorf("%v", r))
		}
	}()

	row, err := rec.RowFor(m.FeatureNames)
	if err != nil {
		return 0, inferenceError("build feature row", err)
	}
	out, err := m.Predictor.Predict(ctx, [][]float64{row})
	if err != nil {
		return 0, inferenceError(fmt.Sprintf("model %s failed", m.RunID), err)
	}
	if len(out) == 0 {
		return 0, inferenceError(fmt.Sprintf("model %s returned no output", m.RunID), nil)
	}
	if math.IsNaN(out[0]) || math.IsInf(out[0], 0) {
		return 0, inferenceError(fmt.Sprintf("model %s returned %v", m.RunID, out[0]), nil)
	}
	return out[0], nil
}

func inferenceError(message string, cause error) error {
	return core.WrapDomainError(core.ModuleInference, core.ErrorCodeInternalError, message, cause)
}

var _ ModelLoader = (*Loader)(nil)
