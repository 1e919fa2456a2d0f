package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if err := validateListenAddr(c.ListenAddr); err != nil {
		return wrapFieldError("ListenAddr", err)
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fieldErrorf("TLSCertFile/TLSKeyFile", "必须同时提供或同时留空")
	}
	if err := validateOrigin(c.Origin); err != nil {
		return wrapFieldError("Origin", err)
	}
	if c.StoragePath == "" {
		return fieldErrorf("StoragePath", "不能为空")
	}
	if err := validateExtension(c.ObjectExtension); err != nil {
		return wrapFieldError("ObjectExtension", err)
	}
	if strings.TrimSpace(c.ContentType) == "" {
		return fieldErrorf("ContentType", "不能为空")
	}
	if c.FetchAttempts <= 0 {
		return fieldErrorf("FetchAttempts", "必须大于 0")
	}
	if c.RetryDelay.DurationValue() < 0 {
		return fieldErrorf("RetryDelay", "不能为负数")
	}
	if c.OriginTimeout.DurationValue() <= 0 {
		return fieldErrorf("OriginTimeout", "必须大于 0")
	}
	if c.MaxObjectSize.Int64() <= 0 {
		return fieldErrorf("MaxObjectSize", "必须大于 0")
	}
	if c.FillWorkers <= 0 {
		return fieldErrorf("FillWorkers", "必须大于 0")
	}
	if c.ShutdownGrace.DurationValue() < 0 {
		return fieldErrorf("ShutdownGrace", "不能为负数")
	}
	switch c.PathPolicy {
	case PathPolicyRestricted, PathPolicyPermissive:
	default:
		return fieldErrorf("PathPolicy", "仅支持 restricted/permissive")
	}
	return nil
}

func validateListenAddr(addr string) error {
	if addr == "" {
		return errors.New("不能为空")
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("格式错误: %v", err)
	}
	if port == "" {
		return errors.New("缺少端口")
	}
	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return fmt.Errorf("上游不应包含查询参数: %s", raw)
	}
	return nil
}

func validateExtension(ext string) error {
	if len(ext) < 2 || !strings.HasPrefix(ext, ".") {
		return errors.New("必须形如 .mp3")
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') {
			return errors.New("只能包含小写字母与数字")
		}
	}
	return nil
}
