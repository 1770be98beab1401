package registry

import (
	"fmt"

	"github.com/rushteam/pricekit/core"
	"github.com/rushteam/pricekit/pkg/dsl"
)

// familyOf 从 run 参数中读取模型族
func familyOf(params map[string]string) core.ModelFamily {
	return core.ModelFamily(params[core.ParamModelType])
}

// matchParams 参数等值匹配
func matchParams(run *core.RunRecord, params map[string]string) bool {
	for k, v := range params {
		if run.Params[k] != v {
			return false
		}
	}
	return true
}

// applyFilter 在已解码的 run 上执行参数过滤与 CEL 过滤，保持原有顺序
func applyFilter(runs []*core.RunRecord, filter core.RunFilter) ([]*core.RunRecord, error) {
	out := make([]*core.RunRecord, 0, len(runs))
	for _, run := range runs {
		if matchParams(run, filter.Params) {
			out = append(out, run)
		}
	}
	if filter.Expr == "" {
		return out, nil
	}
	filtered, err := dsl.Filter(filter.Expr, out)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleRegistry, core.ErrorCodeConfiguration,
			fmt.Sprintf("invalid run filter %q", filter.Expr), err)
	}
	return filtered, nil
}

func notFound(format string, args ...any) error {
	return core.NewDomainError(core.ModuleRegistry, core.ErrorCodeNotFound, fmt.Sprintf(format, args...))
}

func unavailable(message string, cause error) error {
	return core.WrapDomainError(core.ModuleRegistry, core.ErrorCodeUnavailable, message, cause)
}

// misconfigured 表示后端可达但拒绝请求或数据不可解析（4xx、损坏的 run 文档）
func misconfigured(message string, cause error) error {
	return core.WrapDomainError(core.ModuleRegistry, core.ErrorCodeConfiguration, message, cause)
}
