// Command pricekit 基于实验追踪后端中最近一次训练的模型预测房价。
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// 构建信息，通过 ldflags 注入
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := newRootCmd(fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date))
	os.Exit(execute(root))
}

// execute 运行命令并返回退出码；预测失败已由 Render 输出，其余错误写到 stderr
func execute(root *cobra.Command) int {
	err := root.Execute()
	if err == nil {
		return 0
	}
	if !errors.Is(err, errPredictionFailed) {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
	}
	return 1
}
