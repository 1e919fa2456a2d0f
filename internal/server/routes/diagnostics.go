package routes

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/any-hub/edgecache/internal/fetch"
)

// PoolStats 暴露后台填充池的占用情况。
type PoolStats interface {
	Active() int
	Limit() int
}

// DiagnosticsOptions 汇总诊断接口依赖，nil 字段对应的接口不会注册。
type DiagnosticsOptions struct {
	Gatherer prometheus.Gatherer
	Registry *fetch.Registry
	Pool     PoolStats
	Started  time.Time
}

type inflightPayload struct {
	InFlight []inflightItem `json:"in_flight"`
	Pool     *poolPayload   `json:"pool,omitempty"`
}

type inflightItem struct {
	URL       string    `json:"url"`
	Since     time.Time `json:"since"`
	ElapsedMS int64     `json:"elapsed_ms"`
}

type poolPayload struct {
	Active int `json:"active"`
	Limit  int `json:"limit"`
}

// RegisterDiagnosticRoutes 暴露 /-/healthz、/-/inflight 与 /-/metrics 诊断接口。
func RegisterDiagnosticRoutes(app *fiber.App, opts DiagnosticsOptions) {
	if app == nil {
		return
	}
	started := opts.Started
	if started.IsZero() {
		started = time.Now()
	}

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":         "ok",
			"uptime_seconds": int64(time.Since(started).Seconds()),
		})
	})

	if opts.Registry != nil {
		app.Get("/-/inflight", func(c fiber.Ctx) error {
			return c.JSON(encodeInflight(opts.Registry.Snapshot(), opts.Pool, time.Now()))
		})
	}

	if opts.Gatherer != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
}

func encodeInflight(snapshot []fetch.InFlight, pool PoolStats, now time.Time) inflightPayload {
	payload := inflightPayload{InFlight: make([]inflightItem, 0, len(snapshot))}
	for _, item := range snapshot {
		payload.InFlight = append(payload.InFlight, inflightItem{
			URL:       item.URL,
			Since:     item.Since,
			ElapsedMS: now.Sub(item.Since).Milliseconds(),
		})
	}
	if pool != nil {
		payload.Pool = &poolPayload{Active: pool.Active(), Limit: pool.Limit()}
	}
	return payload
}
