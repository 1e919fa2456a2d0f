package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/edgecache/internal/logging"
)

// DefaultAllowOrigin 是未配置 AllowOrigin 时写入 CORS 头的来源。
const DefaultAllowOrigin = "https://www.remnote.com"

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Dispatcher *Dispatcher
	// AllowOrigin 写入每个响应的 Access-Control-Allow-Origin。
	AllowOrigin string
	// Verbose 时额外以 debug 级别记录请求头。
	Verbose bool
	// Diagnostics 为 true 时 /-/ 前缀交给后续注册的诊断路由处理。
	Diagnostics bool
	// Registerer 非空时注册请求指标。
	Registerer prometheus.Registerer
}

const (
	contextKeyRequestID = "_edgecache_request_id"
	contextKeyOutcome   = "_edgecache_outcome"
	contextKeyFill      = "_edgecache_fill"
)

// NewApp builds a Fiber application that routes every request through the
// Dispatcher, with request IDs, CORS headers and structured access logs.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if opts.AllowOrigin == "" {
		opts.AllowOrigin = DefaultAllowOrigin
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		UnescapePath:  true,
		ErrorHandler:  errorHandler,
	})

	app.Use(requestContextMiddleware(opts.AllowOrigin))
	app.Use(accessLogMiddleware(opts.Logger, opts.Verbose, newRequestMetrics(opts.Registerer)))
	app.Use(recover.New())

	app.All("/*", func(c fiber.Ctx) error {
		if opts.Diagnostics && isDiagnosticsPath(c.Path()) {
			return c.Next()
		}
		resp := opts.Dispatcher.Dispatch(c.Method(), c.Path())
		c.Locals(contextKeyOutcome, resp.Outcome)
		if resp.Fill != "" {
			c.Locals(contextKeyFill, string(resp.Fill))
		}
		return writeResponse(c, resp)
	})

	return app, nil
}

// requestContextMiddleware 生成请求 ID，并为每个响应（含错误响应）写入 CORS 头。
func requestContextMiddleware(allowOrigin string) fiber.Handler {
	allowMethods := strings.Join(AllowedMethods, ",")
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		c.Set(fiber.HeaderAccessControlAllowOrigin, allowOrigin)
		c.Set(fiber.HeaderAccessControlAllowMethods, allowMethods)
		c.Set(fiber.HeaderAccessControlAllowHeaders, "*")
		return c.Next()
	}
}

// accessLogMiddleware 在链路结束后输出一行访问日志，错误先交给 errorHandler
// 落地，保证记录的是最终状态码。
func accessLogMiddleware(logger *logrus.Logger, verbose bool, metrics *requestMetrics) fiber.Handler {
	return func(c fiber.Ctx) error {
		started := time.Now()
		method := c.Method()
		path := c.Path()
		reqID := RequestID(c)

		if verbose {
			fields := logging.RequestFields(reqID, method, path)
			fields["headers"] = c.GetReqHeaders()
			logger.WithFields(fields).Debug("request_headers")
		}

		chainErr := c.Next()
		if chainErr != nil {
			if err := errorHandler(c, chainErr); err != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		outcome := outcomeFromContext(c, status)
		elapsed := time.Since(started)
		metrics.observe(method, outcome, elapsed.Seconds())

		fields := logging.RequestFields(reqID, method, path)
		fields["status"] = status
		fields["outcome"] = string(outcome)
		fields["elapsed_ms"] = elapsed.Milliseconds()
		if fill, ok := c.Locals(contextKeyFill).(string); ok {
			fields["fill"] = fill
		}
		if chainErr != nil {
			fields["error"] = chainErr.Error()
			if status >= fiber.StatusInternalServerError {
				logger.WithFields(fields).Error("request_failed")
			} else {
				logger.WithFields(fields).Warn("request_rejected")
			}
			return nil
		}
		logger.WithFields(fields).Info("request_complete")
		return nil
	}
}

// errorHandler 以 JSON 输出错误，保持与 Dispatcher 的错误体一致。
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": errorCode(code)})
}

func errorCode(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return "not_found"
	case fiber.StatusMethodNotAllowed:
		return "method_not_allowed"
	case fiber.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ReplaceAll(strings.ToLower(http.StatusText(status)), " ", "_")
	}
}

func outcomeFromContext(c fiber.Ctx, status int) Outcome {
	if outcome, ok := c.Locals(contextKeyOutcome).(Outcome); ok {
		if status >= fiber.StatusInternalServerError {
			return OutcomeError
		}
		return outcome
	}
	switch {
	case status >= fiber.StatusInternalServerError:
		return OutcomeError
	case status == fiber.StatusNotFound:
		return OutcomeNotFound
	default:
		return OutcomeDiagnostics
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
