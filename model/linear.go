package model

import (
	"context"
	"fmt"
	"math"

	"github.com/rushteam/pricekit/core"
)

// LinearModel 实现了线性回归模型，OLS / Ridge / Lasso 共用。
// 三者的差别只在训练时的正则项，推理都是：
//
//	y = Intercept + sum(Coefficients_i * x_i)
//
// 与分类场景的 LR 不同，这里不做 Sigmoid 变换，输出即房价。
type LinearModel struct {
	Intercept    float64   `json:"intercept"`    // 截距 (Bias)
	Coefficients []float64 `json:"coefficients"` // 系数，按特征顺序排列
}

func decodeLinear(env *Envelope) (core.Predictor, error) {
	var m LinearModel
	if err := unmarshalSection(env.Linear, "linear", &m); err != nil {
		return nil, err
	}
	if len(m.Coefficients) == 0 {
		return nil, fmt.Errorf("linear: no coefficients")
	}
	if math.IsNaN(m.Intercept) || math.IsInf(m.Intercept, 0) {
		return nil, fmt.Errorf("linear: intercept is not finite")
	}
	for i, c := range m.Coefficients {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, fmt.Errorf("linear: coefficient %d is not finite", i)
		}
	}
	return &m, nil
}

func (m *LinearModel) Flavor() string { return FlavorLinear }

func (m *LinearModel) NumFeatures() int { return len(m.Coefficients) }

func (m *LinearModel) Predict(ctx context.Context, rows [][]float64) ([]float64, error) {
	if err := checkWidth(rows, len(m.Coefficients)); err != nil {
		return nil, err
	}
	out := make([]float64, len(rows))
	for i, row := range rows {
		y := m.Intercept
		for j, x := range row {
			y += m.Coefficients[j] * x
		}
		out[i] = y
	}
	return out, nil
}

var _ core.Predictor = (*LinearModel)(nil)
