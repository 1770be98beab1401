package feature

import (
	"fmt"
	"strings"
	"unicode"
)

// Kind 是特征的取值类型
type Kind string

const (
	// KindBoolean 布尔特征，编码为 0 / 1
	KindBoolean Kind = "boolean"
	// KindBoundedNumeric 有界数值，取值范围 [0, 100]
	KindBoundedNumeric Kind = "bounded_numeric"
	// KindNonNegativeNumeric 非负数值
	KindNonNegativeNumeric Kind = "nonnegative_numeric"
)

// 有界数值的上下界
const (
	BoundedMin = 0.0
	BoundedMax = 100.0
)

// Valid 判断是否为已知类型
func (k Kind) Valid() bool {
	switch k {
	case KindBoolean, KindBoundedNumeric, KindNonNegativeNumeric:
		return true
	}
	return false
}

// Field 是 schema 中的一个特征定义
type Field struct {
	Name string `json:"name" yaml:"name"`
	Kind Kind   `json:"kind" yaml:"kind"`
}

// Label 返回适合展示的名称，例如 "moon_clearance_complete" → "Moon Clearance Complete"
func (f Field) Label() string {
	words := strings.Split(f.Name, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// Schema 是有序的特征列表。顺序即模型训练时的列顺序，绑定结果严格按此顺序输出。
type Schema struct {
	fields []Field
	index  map[string]int
}

// NewSchema 创建 schema，要求非空、名称唯一、类型已知
func NewSchema(fields []Field) (*Schema, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("schema has no features")
	}
	s := &Schema{
		fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("feature %d has no name", i)
		}
		if !f.Kind.Valid() {
			return nil, fmt.Errorf("feature %q has unknown kind %q", f.Name, f.Kind)
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, fmt.Errorf("duplicate feature %q", f.Name)
		}
		s.fields[i] = f
		s.index[f.Name] = i
	}
	return s, nil
}

// DefaultSchema 返回房价模型的 8 个特征（字母序，与训练时一致）
func DefaultSchema() *Schema {
	s, err := NewSchema([]Field{
		{Name: "company_rating", Kind: KindBoundedNumeric},
		{Name: "crew", Kind: KindNonNegativeNumeric},
		{Name: "d_check_complete", Kind: KindBoolean},
		{Name: "engines", Kind: KindNonNegativeNumeric},
		{Name: "iata_approved", Kind: KindBoolean},
		{Name: "moon_clearance_complete", Kind: KindBoolean},
		{Name: "passenger_capacity", Kind: KindNonNegativeNumeric},
		{Name: "review_scores_rating", Kind: KindBoundedNumeric},
	})
	if err != nil {
		panic(err)
	}
	return s
}

// Fields 返回特征定义的副本
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Names 返回有序特征名
func (s *Schema) Names() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.Name
	}
	return out
}

func (s *Schema) Len() int { return len(s.fields) }

// Field 按名称查找特征
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Index 返回特征在 schema 中的位置，不存在返回 -1
func (s *Schema) Index(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

// SameOrder 判断 names 是否与 schema 的特征顺序完全一致
func (s *Schema) SameOrder(names []string) bool {
	if len(names) != len(s.fields) {
		return false
	}
	for i, n := range names {
		if s.fields[i].Name != n {
			return false
		}
	}
	return true
}
