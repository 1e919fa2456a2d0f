package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/edgecache/internal/cache"
	"github.com/any-hub/edgecache/internal/config"
	"github.com/any-hub/edgecache/internal/fetch"
	"github.com/any-hub/edgecache/internal/logging"
)

const (
	headerEdgeCache = "X-Edge-Cache"
	headerEdgeFill  = "X-Edge-Fill"

	headerLastModified = "Last-Modified"
	htmlContentType    = "text/html; charset=utf-8"
)

// AllowedMethods 是 405 响应与 CORS 预检中公布的方法列表。
var AllowedMethods = []string{http.MethodGet, http.MethodHead, http.MethodOptions}

// FillSubmitter 接收后台填充请求，不得阻塞调用方。fetch.Pool 即为实现。
type FillSubmitter interface {
	Submit(key cache.Key) fetch.FillState
}

// DispatcherOptions 汇总 Dispatcher 的依赖。
type DispatcherOptions struct {
	Scheme         cache.Scheme
	Store          cache.Store
	Fills          FillSubmitter
	ContentType    string
	PathPolicy     config.PathPolicy
	GetFillsOnMiss bool
	Logger         *logrus.Logger
}

type methodHandler func(path string) *Response

// Dispatcher 按方法路由请求并返回 Response 描述，不直接接触网络连接。
type Dispatcher struct {
	scheme         cache.Scheme
	store          cache.Store
	fills          FillSubmitter
	contentType    string
	permissive     bool
	getFillsOnMiss bool
	logger         *logrus.Logger
	routes         map[string]methodHandler
}

// NewDispatcher 校验依赖并构建方法路由表。
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Fills == nil {
		return nil, errors.New("fill submitter is required")
	}
	if opts.Scheme.Extension() == "" {
		return nil, errors.New("object naming scheme is required")
	}
	if opts.ContentType == "" {
		opts.ContentType = "application/octet-stream"
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	d := &Dispatcher{
		scheme:         opts.Scheme,
		store:          opts.Store,
		fills:          opts.Fills,
		contentType:    opts.ContentType,
		permissive:     opts.PathPolicy == config.PathPolicyPermissive,
		getFillsOnMiss: opts.GetFillsOnMiss,
		logger:         opts.Logger,
	}
	d.routes = map[string]methodHandler{
		http.MethodOptions: d.handleOptions,
		http.MethodHead:    d.handleHead,
		http.MethodGet:     d.handleGet,
	}
	return d, nil
}

// Dispatch 处理一次请求。path 为不含查询串的请求路径。
func (d *Dispatcher) Dispatch(method, path string) *Response {
	handler, ok := d.routes[strings.ToUpper(method)]
	if !ok {
		resp := errorResponse(http.StatusMethodNotAllowed, "method_not_allowed", OutcomeMethodNotAllowed)
		resp.setHeader("Allow", strings.Join(AllowedMethods, ", "))
		return resp
	}
	if path == "" {
		path = "/"
	}
	return handler(path)
}

// handleOptions 只返回 200，CORS 头由中间件统一添加。
func (d *Dispatcher) handleOptions(string) *Response {
	return &Response{Status: http.StatusOK, Outcome: OutcomePreflight}
}

// handleHead 命中时返回元数据；未命中时提交后台填充并立即返回 404。
func (d *Dispatcher) handleHead(path string) *Response {
	key, class := d.classify(path)
	switch class {
	case cache.ClassRoot:
		return d.serveListing(d.store.Root(), "/")
	case cache.ClassIneligible:
		if d.permissive {
			return d.serveStatic(path)
		}
		return errorResponse(http.StatusNotFound, "not_found", OutcomeIneligible)
	}

	if resp := d.serveObject(key); resp != nil {
		return resp
	}

	state := d.fills.Submit(key)
	d.logger.WithFields(logrus.Fields{
		"action": "fill",
		"key":    key.Name(),
		"state":  string(state),
	}).Debug("fill_submitted")
	return d.miss(state)
}

// handleGet 只读取本地缓存；GetFillsOnMiss 开启时未命中也会提交填充。
func (d *Dispatcher) handleGet(path string) *Response {
	key, class := d.classify(path)
	switch class {
	case cache.ClassRoot:
		return d.serveListing(d.store.Root(), "/")
	case cache.ClassIneligible:
		if d.permissive {
			return d.serveStatic(path)
		}
		return errorResponse(http.StatusNotFound, "not_found", OutcomeIneligible)
	}

	if resp := d.serveObject(key); resp != nil {
		return resp
	}
	if d.getFillsOnMiss {
		return d.miss(d.fills.Submit(key))
	}
	return d.miss("")
}

func (d *Dispatcher) classify(path string) (cache.Key, cache.Class) {
	class := d.scheme.Classify(path)
	if class != cache.ClassObject {
		return cache.Key{}, class
	}
	key, _ := d.scheme.Parse(path)
	return key, class
}

// serveObject 返回命中响应；对象不存在时返回 nil。
func (d *Dispatcher) serveObject(key cache.Key) *Response {
	entry, err := d.store.Stat(key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			d.logger.WithFields(logrus.Fields{
				"action": "access",
				"key":    key.Name(),
				"error":  err.Error(),
			}).Warn("cache_stat_failed")
		}
		return nil
	}

	resp := &Response{
		Status:      http.StatusOK,
		ContentType: d.contentType,
		File:        entry.FilePath,
		Size:        entry.SizeBytes,
		Outcome:     OutcomeHit,
	}
	resp.setHeader(headerEdgeCache, "hit")
	resp.setHeader(headerLastModified, entry.ModTime.UTC().Format(http.TimeFormat))
	return resp
}

func (d *Dispatcher) miss(state fetch.FillState) *Response {
	resp := errorResponse(http.StatusNotFound, "not_found", OutcomeMiss)
	resp.Fill = state
	resp.setHeader(headerEdgeCache, "miss")
	if state != "" {
		resp.setHeader(headerEdgeFill, string(state))
	}
	return resp
}
