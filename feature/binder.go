package feature

import (
	"fmt"
	"sort"

	"github.com/rushteam/pricekit/core"
	"github.com/rushteam/pricekit/pkg/conv"
)

// 校验失败原因
const (
	ReasonMissing     = "missing"
	ReasonNotBoolean  = "not a boolean"
	ReasonNotNumber   = "not a finite number"
	ReasonOutOfRange  = "must be between 0 and 100"
	ReasonNegative    = "must be non-negative"
	ReasonUnknownName = "unknown feature"
)

// ValidationError 描述第一个校验失败的特征
type ValidationError struct {
	Feature string
	Reason  string
	Value   any
}

func (e *ValidationError) Error() string {
	if e.Reason == ReasonMissing || e.Reason == ReasonUnknownName {
		return fmt.Sprintf("feature %q: %s", e.Feature, e.Reason)
	}
	return fmt.Sprintf("feature %q: %s (got %v)", e.Feature, e.Reason, e.Value)
}

// Binder 把原始特征 map 绑定为按 schema 排列的数值向量。
//
// 规则：
//   - boolean：接受 bool、数值 0/1、字符串 "true"/"false"/"1"/"0"，编码为 1 / 0
//   - bounded_numeric：数值或数字字符串，范围 [0, 100]（含边界）
//   - nonnegative_numeric：数值或数字字符串，>= 0
//
// 数值类型不接受 bool、NaN、Inf。
type Binder struct {
	schema       *Schema
	allowUnknown bool
}

// BinderOption Binder 配置选项
type BinderOption func(*Binder)

// WithAllowUnknown 忽略 schema 之外的 key（默认拒绝）
func WithAllowUnknown() BinderOption {
	return func(b *Binder) {
		b.allowUnknown = true
	}
}

// NewBinder 创建 Binder，schema 为 nil 时使用 DefaultSchema
func NewBinder(schema *Schema, opts ...BinderOption) *Binder {
	if schema == nil {
		schema = DefaultSchema()
	}
	b := &Binder{schema: schema}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Schema 返回绑定使用的 schema
func (b *Binder) Schema() *Schema { return b.schema }

// Bind 按 schema 顺序校验并转换 raw，返回第一个失败的特征。
// 错误为 INVALID_INPUT 的 DomainError，可通过 errors.As 取出 *ValidationError。
func (b *Binder) Bind(raw map[string]any) (*Record, error) {
	values := make([]float64, b.schema.Len())
	for i, f := range b.schema.fields {
		v, ok := raw[f.Name]
		if !ok {
			return nil, invalid(&ValidationError{Feature: f.Name, Reason: ReasonMissing})
		}
		x, reason := coerce(f.Kind, v)
		if reason != "" {
			return nil, invalid(&ValidationError{Feature: f.Name, Reason: reason, Value: v})
		}
		values[i] = x
	}

	if !b.allowUnknown && len(raw) > b.schema.Len() {
		var unknown []string
		for k := range raw {
			if _, ok := b.schema.index[k]; !ok {
				unknown = append(unknown, k)
			}
		}
		if len(unknown) > 0 {
			sort.Strings(unknown)
			return nil, invalid(&ValidationError{Feature: unknown[0], Reason: ReasonUnknownName})
		}
	}

	return &Record{schema: b.schema, values: values}, nil
}

func coerce(kind Kind, v any) (float64, string) {
	switch kind {
	case KindBoolean:
		bv, ok := conv.ToBool(v)
		if !ok {
			return 0, ReasonNotBoolean
		}
		if bv {
			return 1, ""
		}
		return 0, ""
	case KindBoundedNumeric:
		x, reason := number(v)
		if reason != "" {
			return 0, reason
		}
		if x < BoundedMin || x > BoundedMax {
			return 0, ReasonOutOfRange
		}
		return x, ""
	case KindNonNegativeNumeric:
		x, reason := number(v)
		if reason != "" {
			return 0, reason
		}
		if x < 0 {
			return 0, ReasonNegative
		}
		return x, ""
	}
	return 0, fmt.Sprintf("unsupported kind %q", kind)
}

func number(v any) (float64, string) {
	if _, isBool := v.(bool); isBool {
		return 0, ReasonNotNumber
	}
	x, ok := conv.ToNumber(v)
	if !ok {
		return 0, ReasonNotNumber
	}
	return x, ""
}

func invalid(verr *ValidationError) error {
	return core.WrapDomainError(core.ModuleSchema, core.ErrorCodeInvalidInput, "invalid input", verr)
}

// Record 是绑定成功的特征向量，顺序与 schema 一致
type Record struct {
	schema *Schema
	values []float64
}

// Names 返回有序特征名
func (r *Record) Names() []string { return r.schema.Names() }

// Row 返回按 schema 顺序排列的数值副本
func (r *Record) Row() []float64 {
	out := make([]float64, len(r.values))
	copy(out, r.values)
	return out
}

// Value 按名称取值
func (r *Record) Value(name string) (float64, bool) {
	i := r.schema.Index(name)
	if i < 0 {
		return 0, false
	}
	return r.values[i], true
}

// Map 返回 name → value
func (r *Record) Map() map[string]float64 {
	out := make(map[string]float64, len(r.values))
	for i, f := range r.schema.fields {
		out[f.Name] = r.values[i]
	}
	return out
}

// RowFor 按给定的特征顺序取值，用于模型声明的列顺序与 schema 不同的场景
func (r *Record) RowFor(names []string) ([]float64, error) {
	out := make([]float64, len(names))
	for i, n := range names {
		v, ok := r.Value(n)
		if !ok {
			return nil, fmt.Errorf("feature %q not in schema", n)
		}
		out[i] = v
	}
	return out, nil
}
