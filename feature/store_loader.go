package feature

import (
	"context"
	"fmt"
	"strings"

	"github.com/rushteam/pricekit/core"
)

// StoreSourcePrefix 标识从 artifact 存储读取 schema 的 source，例如 "store:schemas/house_price.yaml"
const StoreSourcePrefix = "store:"

// StoreSchemaLoader 从 core.Store 读取 schema（与模型文件放在同一存储中）
//
// 用法：
//
//	loader := feature.NewStoreSchemaLoader(store.NewFileStore("mlruns"))
//	schema, err := loader.Load(ctx, "store:schemas/house_price.yaml")
type StoreSchemaLoader struct {
	store core.Store
}

// NewStoreSchemaLoader 创建基于存储的 schema 加载器
func NewStoreSchemaLoader(store core.Store) *StoreSchemaLoader {
	return &StoreSchemaLoader{store: store}
}

// Load 读取 key 对应的 YAML 并解析，key 可带 StoreSourcePrefix
func (l *StoreSchemaLoader) Load(ctx context.Context, source string) (*Schema, error) {
	key := strings.TrimPrefix(source, StoreSourcePrefix)
	data, err := l.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read schema %s from %s: %w", key, l.store.Name(), err)
	}
	return ParseSchema(data)
}

// IsStoreSource 判断 source 是否指向 artifact 存储
func IsStoreSource(source string) bool {
	return strings.HasPrefix(source, StoreSourcePrefix)
}
