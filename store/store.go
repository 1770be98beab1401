// Package store 提供字节存储的实现：内存、Redis、本地文件。
//
// 注意：此包只包含实现，接口定义在 core 包。
// 使用 core.Store 和 core.KeyValueStore 接口。
//
// 示例：
//
//	var artifacts core.Store = store.NewFileStore("mlruns")
//	var tracking core.KeyValueStore = store.NewMemoryStore()
package store
