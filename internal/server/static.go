package server

import (
	"errors"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/edgecache/internal/listing"
)

const indexFile = "index.html"

// serveStatic 在 permissive 策略下把非对象路径映射到缓存根目录下的文件或目录。
func (d *Dispatcher) serveStatic(urlPath string) *Response {
	filePath, err := d.store.Resolve(urlPath)
	if err != nil {
		return errorResponse(http.StatusNotFound, "not_found", OutcomeNotFound)
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			d.logger.WithFields(logrus.Fields{
				"action": "access",
				"path":   urlPath,
				"error":  err.Error(),
			}).Warn("static_stat_failed")
		}
		return errorResponse(http.StatusNotFound, "not_found", OutcomeNotFound)
	}

	if info.IsDir() {
		if !strings.HasSuffix(urlPath, "/") {
			resp := &Response{Status: http.StatusMovedPermanently, Outcome: OutcomeRedirect}
			resp.setHeader("Location", urlPath+"/")
			return resp
		}
		index := filepath.Join(filePath, indexFile)
		if indexInfo, err := os.Stat(index); err == nil && indexInfo.Mode().IsRegular() {
			return staticFile(index, indexInfo)
		}
		return d.serveListing(filePath, urlPath)
	}
	if !info.Mode().IsRegular() {
		return errorResponse(http.StatusNotFound, "not_found", OutcomeNotFound)
	}
	return staticFile(filePath, info)
}

func staticFile(filePath string, info fs.FileInfo) *Response {
	contentType := mime.TypeByExtension(filepath.Ext(filePath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	resp := &Response{
		Status:      http.StatusOK,
		ContentType: contentType,
		File:        filePath,
		Size:        info.Size(),
		Outcome:     OutcomeStatic,
	}
	resp.setHeader(headerLastModified, info.ModTime().UTC().Format(http.TimeFormat))
	return resp
}

// serveListing 渲染目录索引；HEAD 请求同样计算页面以得到 Content-Length。
func (d *Dispatcher) serveListing(dir, urlPath string) *Response {
	page, err := listing.Page(dir, urlPath)
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"action": "access",
			"path":   urlPath,
			"error":  err.Error(),
		}).Warn("listing_failed")
		return errorResponse(http.StatusNotFound, "no_permission_to_list_directory", OutcomeNotFound)
	}
	return &Response{
		Status:      http.StatusOK,
		ContentType: htmlContentType,
		Body:        page,
		Outcome:     OutcomeListing,
	}
}
