package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rushteam/pricekit/core"
)

// 内置模型格式
const (
	FlavorLinear       = "linear"
	FlavorRandomForest = "random_forest"
	FlavorRemote       = "remote"
)

// Envelope 是 model.json 的外层结构。
//
// 格式（JSON）：
//
//	{
//	  "flavor": "linear",
//	  "family": "OLS",
//	  "feature_names": ["company_rating", "crew", ...],
//	  "linear": {"intercept": 12.5, "coefficients": [0.1, 2.0, ...]}
//	}
//
// linear / forest / remote 三者按 flavor 取其一。
type Envelope struct {
	Flavor       string           `json:"flavor"`
	Family       core.ModelFamily `json:"family,omitempty"`
	FeatureNames []string         `json:"feature_names,omitempty"`
	Linear       json.RawMessage  `json:"linear,omitempty"`
	Forest       json.RawMessage  `json:"forest,omitempty"`
	Remote       json.RawMessage  `json:"remote,omitempty"`
}

// Decoded 是解码后的 artifact：元信息 + 可调用的 Predictor。
type Decoded struct {
	Flavor       string
	Family       core.ModelFamily
	FeatureNames []string
	Predictor    core.Predictor
}

// DecodeFunc 根据 envelope 构建 Predictor
type DecodeFunc func(env *Envelope) (core.Predictor, error)

var (
	decodersMu sync.RWMutex
	decoders   = map[string]DecodeFunc{
		FlavorLinear:       decodeLinear,
		FlavorRandomForest: decodeForest,
		FlavorRemote:       decodeRemote,
	}
)

// RegisterFlavor 注册自定义模型格式，同名覆盖。
func RegisterFlavor(flavor string, fn DecodeFunc) {
	decodersMu.Lock()
	defer decodersMu.Unlock()
	decoders[flavor] = fn
}

// Flavors 返回已注册的模型格式（已排序）
func Flavors() []string {
	decodersMu.RLock()
	defer decodersMu.RUnlock()
	out := make([]string, 0, len(decoders))
	for k := range decoders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Decode 解析 model.json 并构建 Predictor。
// 未知字段、未知格式、结构不合法、feature_names 与模型宽度不一致都会返回错误。
func Decode(data []byte) (*Decoded, error) {
	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("decode model envelope: %w", err)
	}
	if env.Family != "" && !env.Family.Valid() {
		return nil, fmt.Errorf("unknown model family %q in artifact", env.Family)
	}
	if err := checkFeatureNames(env.FeatureNames); err != nil {
		return nil, err
	}

	decodersMu.RLock()
	fn, ok := decoders[env.Flavor]
	decodersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported model flavor %q (supported: %v)", env.Flavor, Flavors())
	}
	p, err := fn(&env)
	if err != nil {
		return nil, fmt.Errorf("decode %s model: %w", env.Flavor, err)
	}
	if n := p.NumFeatures(); n > 0 && len(env.FeatureNames) > 0 && n != len(env.FeatureNames) {
		return nil, fmt.Errorf("model expects %d features but artifact lists %d feature names", n, len(env.FeatureNames))
	}
	return &Decoded{
		Flavor:       env.Flavor,
		Family:       env.Family,
		FeatureNames: env.FeatureNames,
		Predictor:    p,
	}, nil
}

func checkFeatureNames(names []string) error {
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n == "" {
			return fmt.Errorf("empty feature name in artifact")
		}
		if _, dup := seen[n]; dup {
			return fmt.Errorf("duplicate feature name %q in artifact", n)
		}
		seen[n] = struct{}{}
	}
	return nil
}

// unmarshalSection 严格解析 envelope 中的某个 section
func unmarshalSection(raw json.RawMessage, section string, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("missing %q section", section)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%s: %w", section, err)
	}
	return nil
}

// checkWidth 校验每行宽度
func checkWidth(rows [][]float64, want int) error {
	for i, row := range rows {
		if len(row) != want {
			return fmt.Errorf("row %d has %d features, model expects %d", i, len(row), want)
		}
	}
	return nil
}
