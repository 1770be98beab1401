package feature

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPSchemaLoader HTTP 接口 schema 加载器
type HTTPSchemaLoader struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTPSchemaLoader 创建 HTTP 接口 schema 加载器
//
// 用法：
//
//	loader := feature.NewHTTPSchemaLoader(5 * time.Second)
//	schema, err := loader.Load(ctx, "http://config.internal/pricekit/schema.yaml")
func NewHTTPSchemaLoader(timeout time.Duration) *HTTPSchemaLoader {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSchemaLoader{
		client: &http.Client{
			Timeout: timeout,
		},
		timeout: timeout,
	}
}

// NewHTTPSchemaLoaderWithClient 使用自定义 HTTP 客户端创建加载器
func NewHTTPSchemaLoaderWithClient(client *http.Client) *HTTPSchemaLoader {
	return &HTTPSchemaLoader{
		client:  client,
		timeout: client.Timeout,
	}
}

// Load 从 HTTP 接口加载 schema
func (l *HTTPSchemaLoader) Load(ctx context.Context, url string) (*Schema, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch schema: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch schema: status=%d, body=%s", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read schema response: %w", err)
	}
	return ParseSchema(data)
}
