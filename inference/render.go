package inference

import (
	"fmt"
	"io"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/rushteam/pricekit/core"
)

// metricLabels 指标的展示名称，未列出的指标直接使用指标名
var metricLabels = map[string]string{
	MetricTestR2:   "R2 Score (Test)",
	MetricCVR2Mean: "R2 Score (CV)",
}

var printer = message.NewPrinter(language.English)

// FormatPrice 格式化价格，例如 1234.5 → "$1,234.50"
func FormatPrice(v float64) string {
	if v < 0 {
		return printer.Sprintf("-$%.2f", -v)
	}
	return printer.Sprintf("$%.2f", v)
}

// MetricLabel 返回指标的展示名称
func MetricLabel(name string) string {
	if l, ok := metricLabels[name]; ok {
		return l
	}
	return name
}

// Render 以文本形式输出结果：
//
//	Predicted Price: $1,234.56
//	Model Metrics:
//	R2 Score (Test): 0.810
//	R2 Score (CV): not available
//
// 失败时输出 "Error: <message>"。
func Render(w io.Writer, outcome *core.Outcome) error {
	if outcome == nil {
		_, err := fmt.Fprintln(w, "Error: no outcome")
		return err
	}
	if !outcome.Succeeded() {
		_, err := fmt.Fprintf(w, "Error: %s\n", outcome.Failure.Message)
		return err
	}

	p := outcome.Prediction
	if _, err := fmt.Fprintf(w, "Predicted Price: %s\n", FormatPrice(p.Value)); err != nil {
		return err
	}
	if len(p.Metrics) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(w, "Model Metrics:"); err != nil {
		return err
	}
	for _, m := range p.Metrics {
		if _, err := fmt.Fprintf(w, "%s: %s\n", MetricLabel(m.Name), m); err != nil {
			return err
		}
	}
	return nil
}
