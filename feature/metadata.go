package feature

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// schemaFile 是 schema 文件格式（YAML，JSON 亦可）：
//
//	features:
//	  - name: company_rating
//	    kind: bounded_numeric
//	  - name: crew
//	    kind: nonnegative_numeric
type schemaFile struct {
	Features []Field `yaml:"features"`
}

// ParseSchema 解析 schema 文件内容
func ParseSchema(data []byte) (*Schema, error) {
	var f schemaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	s, err := NewSchema(f.Features)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return s, nil
}

// LoadSchema 从本地文件加载 schema
//
// 用法：
//
//	schema, err := feature.LoadSchema("configs/schema.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	binder := feature.NewBinder(schema)
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	return ParseSchema(data)
}

// MarshalSchema 把 schema 序列化为 YAML
func MarshalSchema(s *Schema) ([]byte, error) {
	return yaml.Marshal(schemaFile{Features: s.Fields()})
}
