package core

import "context"

// Predictor 是反序列化后可调用的模型。
//
// 实现：
//   - model.LinearModel（OLS / Ridge / Lasso）
//   - model.ForestModel（RandomForest）
//   - model.RPCModel（远程模型服务）
type Predictor interface {
	// Flavor 返回模型格式名称（用于日志/监控）
	Flavor() string

	// NumFeatures 返回模型期望的特征列数；未知时返回 0
	NumFeatures() int

	// Predict 对若干行特征进行预测，返回值与输入行一一对应
	// 格式：[[f1, f2, f3, ...], ...]，列顺序必须与训练时一致
	Predict(ctx context.Context, rows [][]float64) ([]float64, error)
}
