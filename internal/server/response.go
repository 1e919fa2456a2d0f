package server

import (
	"net/http"
	"os"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/edgecache/internal/fetch"
)

// Outcome 是访问日志与指标中记录的请求结论。
type Outcome string

const (
	OutcomeHit              Outcome = "hit"
	OutcomeMiss             Outcome = "miss"
	OutcomeListing          Outcome = "listing"
	OutcomeStatic           Outcome = "static"
	OutcomeRedirect         Outcome = "redirect"
	OutcomePreflight        Outcome = "preflight"
	OutcomeIneligible       Outcome = "ineligible"
	OutcomeNotFound         Outcome = "not_found"
	OutcomeMethodNotAllowed Outcome = "method_not_allowed"
	OutcomeDiagnostics      Outcome = "diagnostics"
	OutcomeError            Outcome = "error"
)

// Response 描述一次请求的处理结果，由 writeResponse 写入 Fiber 上下文。
// Body 与 File 至多设置一个；Error 非空时输出 JSON 错误体。
type Response struct {
	Status      int
	Header      map[string]string
	ContentType string
	Body        []byte
	File        string
	Size        int64
	Error       string
	Outcome     Outcome
	Fill        fetch.FillState
}

func (r *Response) setHeader(key, value string) {
	if r.Header == nil {
		r.Header = make(map[string]string, 2)
	}
	r.Header[key] = value
}

func errorResponse(status int, code string, outcome Outcome) *Response {
	return &Response{Status: status, Error: code, Outcome: outcome}
}

// writeResponse 将描述写入 Fiber；HEAD 请求只写头部与 Content-Length。
func writeResponse(c fiber.Ctx, resp *Response) error {
	for key, value := range resp.Header {
		c.Set(key, value)
	}
	head := c.Method() == http.MethodHead

	if resp.Error != "" {
		return c.Status(resp.Status).JSON(fiber.Map{"error": resp.Error})
	}

	if resp.ContentType != "" {
		c.Set(fiber.HeaderContentType, resp.ContentType)
	}
	c.Status(resp.Status)

	if resp.File != "" {
		if head {
			c.Response().Header.SetContentLength(int(resp.Size))
			return nil
		}
		file, err := os.Open(resp.File)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "open cached file failed")
		}
		// fasthttp 在写完后关闭 body stream。
		c.Response().SetBodyStream(file, int(resp.Size))
		return nil
	}

	if head {
		c.Response().Header.SetContentLength(len(resp.Body))
		return nil
	}
	return c.Send(resp.Body)
}
