package feature

import (
	"context"
	"strings"
	"time"
)

// SchemaLoader schema 加载器接口
// 支持从不同来源加载 schema（本地文件、HTTP 接口等）
type SchemaLoader interface {
	// Load 加载 schema
	// source 是数据源标识（文件路径、URL 等）
	Load(ctx context.Context, source string) (*Schema, error)
}

// FileSchemaLoader 本地文件 schema 加载器
type FileSchemaLoader struct{}

// NewFileSchemaLoader 创建本地文件 schema 加载器
func NewFileSchemaLoader() *FileSchemaLoader {
	return &FileSchemaLoader{}
}

// Load 从本地文件加载 schema
func (l *FileSchemaLoader) Load(ctx context.Context, filePath string) (*Schema, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return LoadSchema(filePath)
}

// LoaderFor 根据 source 选择加载器：http(s):// 走 HTTP，其余按本地文件处理
func LoaderFor(source string, timeout time.Duration) SchemaLoader {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return NewHTTPSchemaLoader(timeout)
	}
	return NewFileSchemaLoader()
}
