package core

import (
	"encoding/json"
	"fmt"
)

// FailureKind 是推理失败的类型，每种类型对应不同的用户提示。
type FailureKind string

const (
	FailureNoRunsFound        FailureKind = "NoRunsFound"        // 该模型族没有训练 run，可换一个模型族
	FailureModelLoadError     FailureKind = "ModelLoadError"     // artifact 缺失/损坏
	FailureInvalidInput       FailureKind = "InvalidInput"       // 特征值未通过 schema 校验
	FailureInferenceError     FailureKind = "InferenceError"     // 模型在合法输入上执行失败
	FailureBackendUnavailable FailureKind = "BackendUnavailable" // 追踪后端不可达
	FailureConfiguration      FailureKind = "ConfigurationError" // 实验不存在等配置问题
)

// MetricValue 是 run 上记录的单个质量指标，缺失时 Available 为 false。
type MetricValue struct {
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	Available bool    `json:"available"`
}

// String 格式化为三位小数；缺失时返回 "not available"，不会把缺失值交给数值格式化。
func (m MetricValue) String() string {
	if !m.Available {
		return "not available"
	}
	return fmt.Sprintf("%.3f", m.Value)
}

// MarshalJSON 缺失指标输出 null
func (m MetricValue) MarshalJSON() ([]byte, error) {
	if !m.Available {
		return json.Marshal(map[string]any{"name": m.Name, "value": nil, "available": false})
	}
	return json.Marshal(map[string]any{"name": m.Name, "value": m.Value, "available": true})
}

// Metrics 按配置顺序排列的指标列表
type Metrics []MetricValue

// Get 按名称查找指标
func (ms Metrics) Get(name string) (MetricValue, bool) {
	for _, m := range ms {
		if m.Name == name {
			return m, true
		}
	}
	return MetricValue{Name: name}, false
}

// Values 返回可用指标的 name → value
func (ms Metrics) Values() map[string]float64 {
	out := make(map[string]float64, len(ms))
	for _, m := range ms {
		if m.Available {
			out[m.Name] = m.Value
		}
	}
	return out
}

// Prediction 是成功的推理结果
type Prediction struct {
	Family  ModelFamily `json:"family"`
	RunID   string      `json:"run_id"`
	Value   float64     `json:"predicted_value"`
	Metrics Metrics     `json:"metrics"`
}

// Failure 是失败的推理结果
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
	Feature string      `json:"feature,omitempty"` // InvalidInput 时对应的特征名
	Cause   error       `json:"-"`
}

func (f *Failure) Error() string { return f.Message }

func (f *Failure) Unwrap() error { return f.Cause }

// Outcome 是一次推理的结果：Prediction 与 Failure 有且仅有一个非空。
type Outcome struct {
	Prediction *Prediction `json:"prediction,omitempty"`
	Failure    *Failure    `json:"failure,omitempty"`
}

// Succeeded 判断是否成功
func (o *Outcome) Succeeded() bool {
	return o != nil && o.Prediction != nil && o.Failure == nil
}

// Kind 返回失败类型，成功时返回空字符串
func (o *Outcome) Kind() FailureKind {
	if o == nil || o.Failure == nil {
		return ""
	}
	return o.Failure.Kind
}

// Succeed 构建成功结果
func Succeed(p *Prediction) *Outcome {
	return &Outcome{Prediction: p}
}

// Fail 构建失败结果
func Fail(kind FailureKind, message string, cause error) *Outcome {
	return &Outcome{Failure: &Failure{Kind: kind, Message: message, Cause: cause}}
}
