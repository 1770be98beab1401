package core

import (
	"fmt"
	"strings"
)

// ModelFamily 是模型族的逻辑名，对应训练时 params.model_type 的取值。
type ModelFamily string

const (
	FamilyOLS          ModelFamily = "OLS"
	FamilyRidge        ModelFamily = "Ridge"
	FamilyLasso        ModelFamily = "Lasso"
	FamilyRandomForest ModelFamily = "RandomForest"
)

// ParamModelType 是 run 参数中记录模型族的 key。
const ParamModelType = "model_type"

// artifactNames 模型族 → run 内 artifact 名称（固定、全覆盖、一一对应）。
var artifactNames = map[ModelFamily]string{
	FamilyOLS:          "ols_model",
	FamilyRidge:        "ridge_model",
	FamilyLasso:        "lasso_model",
	FamilyRandomForest: "rf_model",
}

var familyAliases = map[string]ModelFamily{
	"ols":           FamilyOLS,
	"ridge":         FamilyRidge,
	"lasso":         FamilyLasso,
	"randomforest":  FamilyRandomForest,
	"random_forest": FamilyRandomForest,
	"rf":            FamilyRandomForest,
}

// Families 返回所有模型族（顺序固定，与模型选择列表一致）。
func Families() []ModelFamily {
	return []ModelFamily{FamilyOLS, FamilyRidge, FamilyLasso, FamilyRandomForest}
}

// ParseModelFamily 解析模型族名称，支持规范名和小写别名（如 "rf"）。
func ParseModelFamily(s string) (ModelFamily, error) {
	name := strings.TrimSpace(s)
	if _, ok := artifactNames[ModelFamily(name)]; ok {
		return ModelFamily(name), nil
	}
	if f, ok := familyAliases[strings.ToLower(name)]; ok {
		return f, nil
	}
	return "", fmt.Errorf("unknown model family %q (supported: %v)", s, Families())
}

func (f ModelFamily) String() string { return string(f) }

// Valid 判断是否为已知模型族
func (f ModelFamily) Valid() bool {
	_, ok := artifactNames[f]
	return ok
}

// ArtifactName 返回该模型族在 run 存储中的 artifact 名称；未知模型族返回空字符串。
func (f ModelFamily) ArtifactName() string {
	return artifactNames[f]
}
