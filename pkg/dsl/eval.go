package dsl

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rushteam/pricekit/core"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once

	// programs 缓存已编译的表达式：expr → *Eval
	programs sync.Map
)

// initCELEnv 初始化 CEL 环境，定义变量
func initCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("run", cel.DynType),
		cel.Variable("params", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("metrics", cel.MapType(cel.StringType, cel.DoubleType)),
	)
}

// getCELEnv 获取或创建 CEL 环境
func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = initCELEnv()
	})
	return celEnv, celEnvErr
}

// Eval 是 run 过滤表达式解释器，使用 CEL (Common Expression Language) 实现。
//
// 表达式语法（CEL 标准语法）：
//   - 参数：params.model_type == "OLS" / params.alpha != "0.1"
//   - 指标：metrics.test_r2 > 0.7 / "cv_r2_mean" in metrics
//   - run 属性：run.run_id / run.experiment_id / run.family / run.start_time
//   - 逻辑：params.model_type == "Ridge" && metrics.test_r2 >= 0.5
//
// 访问不存在的 key 会求值失败，该 run 视为不匹配；需要时用 `"key" in metrics` 先判断存在性。
type Eval struct {
	expr string
	prg  cel.Program
}

// Compile 编译表达式，同一表达式只编译一次。
func Compile(expr string) (*Eval, error) {
	if cached, ok := programs.Load(expr); ok {
		return cached.(*Eval), nil
	}

	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression must return boolean, got %s", out)
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program error: %w", err)
	}

	e := &Eval{expr: expr, prg: prg}
	actual, _ := programs.LoadOrStore(expr, e)
	return actual.(*Eval), nil
}

// String 返回原始表达式
func (e *Eval) String() string { return e.expr }

// Match 对单个 run 求值。
func (e *Eval) Match(run *core.RunRecord) (bool, error) {
	out, _, err := e.prg.Eval(buildInput(run))
	if err != nil {
		return false, fmt.Errorf("eval error: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression must return boolean, got %T", out.Value())
	}
	return result, nil
}

// Filter 保留表达式为 true 的 run，保持原有顺序。空表达式原样返回。
// 求值失败（如访问不存在的指标）的 run 视为不匹配。
func Filter(expr string, runs []*core.RunRecord) ([]*core.RunRecord, error) {
	if expr == "" {
		return runs, nil
	}
	e, err := Compile(expr)
	if err != nil {
		return nil, err
	}
	out := make([]*core.RunRecord, 0, len(runs))
	for _, run := range runs {
		if ok, err := e.Match(run); err == nil && ok {
			out = append(out, run)
		}
	}
	return out, nil
}

// buildInput 构建 CEL 表达式的输入数据
func buildInput(run *core.RunRecord) map[string]any {
	params := run.Params
	if params == nil {
		params = map[string]string{}
	}
	metrics := run.Metrics
	if metrics == nil {
		metrics = map[string]float64{}
	}
	return map[string]any{
		"run": map[string]any{
			"run_id":        run.RunID,
			"experiment_id": run.ExperimentID,
			"family":        run.Family.String(),
			"start_time":    run.StartTime,
		},
		"params":  params,
		"metrics": metrics,
	}
}
