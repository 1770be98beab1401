package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rushteam/pricekit/config"
	_ "github.com/rushteam/pricekit/config/builders"
)

// errPredictionFailed 表示预测失败且错误信息已经输出
var errPredictionFailed = errors.New("prediction failed")

// app 保存各子命令共享的配置与日志
type app struct {
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
}

func newRootCmd(version string) *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "pricekit",
		Short: "Predict house prices with the latest trained model of a family",
		Long: `pricekit resolves the most recent training run of a model family
(OLS, Ridge, Lasso, RandomForest) in the House_Price_Prediction experiment,
loads its model artifact and predicts a price from eight listing features.

Configuration is read from --config (YAML) and PRICEKIT_* environment variables,
e.g. PRICEKIT_TRACKING_URI=http://mlflow:5000.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (YAML)")

	root.AddCommand(
		newPredictCmd(a),
		newFamiliesCmd(),
		newSchemaCmd(a),
		newServeCmd(a),
		newMigrateCmd(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// build 按配置组装推理服务
func (a *app) build(ctx context.Context, opts ...config.BuildOption) (*config.Runtime, error) {
	opts = append([]config.BuildOption{config.WithBuildLogger(a.logger)}, opts...)
	rt, err := config.BuildService(ctx, a.cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("build service: %w", err)
	}
	return rt, nil
}

func newLogger(c config.LogConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
