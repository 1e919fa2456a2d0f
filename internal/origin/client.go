// Package origin performs single GET requests against the upstream origin
// store. It never touches the local disk: callers receive the complete body
// or an error, never a partial payload.
package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

const defaultTimeout = 30 * time.Second

// ErrObjectTooLarge 表示上游正文超过 MaxObjectSize。
var ErrObjectTooLarge = errors.New("origin object exceeds size limit")

// StatusError 表示上游返回了非 2xx 状态码。
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("origin %s returned status %d", e.URL, e.StatusCode)
}

// Options 控制回源客户端行为。
type Options struct {
	// Timeout 是单次尝试的总超时，包含读取正文。
	Timeout time.Duration
	// UserAgent 固定附加到每个请求，部分源站会拒绝无标识客户端。
	UserAgent string
	// MaxObjectSize 限制单个对象的字节数，<=0 表示不限制。
	MaxObjectSize int64
	// Transport 允许测试注入自定义 RoundTripper。
	Transport http.RoundTripper
}

// Client 对上游执行单次 GET，并返回完整正文。
type Client struct {
	http      *http.Client
	userAgent string
	maxSize   int64
}

// NewClient 返回共享 http.Client 包装，用于所有回源请求。
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := opts.Transport
	if transport == nil {
		transport = defaultTransport.Clone()
	}

	return &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		userAgent: strings.TrimSpace(opts.UserAgent),
		maxSize:   opts.MaxObjectSize,
	}
}

// Timeout 返回单次尝试的超时设置。
func (c *Client) Timeout() time.Duration {
	return c.http.Timeout
}

// Fetch 执行一次 GET。非 2xx、传输错误、短读或超限都视为失败。
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build origin request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "*/*")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("origin request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	if c.maxSize > 0 && resp.ContentLength > c.maxSize {
		return nil, fmt.Errorf("%w: content-length %d > %d", ErrObjectTooLarge, resp.ContentLength, c.maxSize)
	}

	reader := io.Reader(resp.Body)
	if c.maxSize > 0 {
		reader = io.LimitReader(resp.Body, c.maxSize+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read origin body: %w", err)
	}
	if c.maxSize > 0 && int64(len(body)) > c.maxSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrObjectTooLarge, c.maxSize)
	}
	if resp.ContentLength >= 0 && int64(len(body)) != resp.ContentLength {
		return nil, fmt.Errorf("read origin body: %w (got %d of %d bytes)", io.ErrUnexpectedEOF, len(body), resp.ContentLength)
	}
	return body, nil
}
