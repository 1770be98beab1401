package model

import (
	"context"
	"fmt"
	"math"

	"github.com/rushteam/pricekit/core"
)

// leafNode 是 sklearn tree_ 结构中叶子节点的 children_left / children_right 取值
const leafNode = -1

// Tree 是一棵回归树，采用 sklearn tree_ 的平铺数组结构：
// 第 i 个节点的左右子节点为 ChildrenLeft[i] / ChildrenRight[i]（叶子为 -1），
// 分裂特征为 Feature[i]，阈值为 Threshold[i]，叶子输出为 Value[i]。
type Tree struct {
	ChildrenLeft  []int     `json:"children_left"`
	ChildrenRight []int     `json:"children_right"`
	Feature       []int     `json:"feature"`
	Threshold     []float64 `json:"threshold"`
	Value         []float64 `json:"value"`
}

// ForestModel 实现了随机森林回归：输出为各棵树叶子值的平均。
type ForestModel struct {
	NFeatures int    `json:"n_features"`
	Trees     []Tree `json:"trees"`
}

func decodeForest(env *Envelope) (core.Predictor, error) {
	var m ForestModel
	if err := unmarshalSection(env.Forest, "forest", &m); err != nil {
		return nil, err
	}
	if m.NFeatures <= 0 {
		m.NFeatures = len(env.FeatureNames)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// validate 在解码时做结构校验，保证预测阶段的遍历一定终止且不越界
func (m *ForestModel) validate() error {
	if m.NFeatures <= 0 {
		return fmt.Errorf("forest: n_features unknown")
	}
	if len(m.Trees) == 0 {
		return fmt.Errorf("forest: no trees")
	}
	for t := range m.Trees {
		if err := m.Trees[t].validate(m.NFeatures); err != nil {
			return fmt.Errorf("forest: tree %d: %w", t, err)
		}
	}
	return nil
}

func (t *Tree) validate(nFeatures int) error {
	n := len(t.ChildrenLeft)
	if n == 0 {
		return fmt.Errorf("empty tree")
	}
	if len(t.ChildrenRight) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.Value) != n {
		return fmt.Errorf("node arrays have different lengths")
	}
	for i := 0; i < n; i++ {
		left, right := t.ChildrenLeft[i], t.ChildrenRight[i]
		if left == leafNode || right == leafNode {
			if left != right {
				return fmt.Errorf("node %d has a single child", i)
			}
			if math.IsNaN(t.Value[i]) || math.IsInf(t.Value[i], 0) {
				return fmt.Errorf("leaf %d value is not finite", i)
			}
			continue
		}
		// 子节点下标必须严格大于父节点（sklearn 按深度优先编号），保证无环
		if left <= i || left >= n || right <= i || right >= n {
			return fmt.Errorf("node %d has invalid children (%d, %d)", i, left, right)
		}
		if t.Feature[i] < 0 || t.Feature[i] >= nFeatures {
			return fmt.Errorf("node %d splits on feature %d, model has %d", i, t.Feature[i], nFeatures)
		}
	}
	return nil
}

func (t *Tree) predict(row []float64) float64 {
	node := 0
	for t.ChildrenLeft[node] != leafNode {
		if row[t.Feature[node]] <= t.Threshold[node] {
			node = t.ChildrenLeft[node]
		} else {
			node = t.ChildrenRight[node]
		}
	}
	return t.Value[node]
}

func (m *ForestModel) Flavor() string { return FlavorRandomForest }

func (m *ForestModel) NumFeatures() int { return m.NFeatures }

func (m *ForestModel) Predict(ctx context.Context, rows [][]float64) ([]float64, error) {
	if err := checkWidth(rows, m.NFeatures); err != nil {
		return nil, err
	}
	out := make([]float64, len(rows))
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var sum float64
		for t := range m.Trees {
			sum += m.Trees[t].predict(row)
		}
		out[i] = sum / float64(len(m.Trees))
	}
	return out, nil
}

var _ core.Predictor = (*ForestModel)(nil)
