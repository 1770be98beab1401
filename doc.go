// Package pricekit 是一个房价推理工具包。
//
// 设计要点：
// - Latest-run-first: 按模型族（OLS / Ridge / Lasso / RandomForest）在实验追踪后端中定位最近一次训练 run
// - Schema-first: 8 个特征按固定顺序绑定与校验，失败时指出第一个不合法的特征
// - Typed outcome: 结果要么是带指标的预测值，要么是可区分类型的失败
//
// 组装方式见 config.BuildService，命令行入口见 cmd/pricekit。
package pricekit

import (
	"github.com/rushteam/pricekit/core"
	"github.com/rushteam/pricekit/inference"
)

// 轻量 facade：便于用户直接 import "pricekit" 使用核心抽象。
type (
	ModelFamily = core.ModelFamily
	Outcome     = core.Outcome
	Prediction  = core.Prediction
	Failure     = core.Failure
	FailureKind = core.FailureKind
	Service     = inference.Service
)

const (
	FamilyOLS          = core.FamilyOLS
	FamilyRidge        = core.FamilyRidge
	FamilyLasso        = core.FamilyLasso
	FamilyRandomForest = core.FamilyRandomForest
)

const (
	FailureNoRunsFound        = core.FailureNoRunsFound
	FailureModelLoadError     = core.FailureModelLoadError
	FailureInvalidInput       = core.FailureInvalidInput
	FailureInferenceError     = core.FailureInferenceError
	FailureBackendUnavailable = core.FailureBackendUnavailable
	FailureConfiguration      = core.FailureConfiguration
)
