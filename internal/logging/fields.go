package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var pid = os.Getpid()

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
		"pid":        pid,
	}
}

// RequestFields 提供访问日志所需的请求字段。
func RequestFields(requestID, method, path string) logrus.Fields {
	fields := logrus.Fields{
		"action": "access",
		"pid":    pid,
		"method": method,
		"path":   path,
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}

// FetchFields 描述一次回源填充涉及的对象与上游地址。
func FetchFields(key, originURL string) logrus.Fields {
	return logrus.Fields{
		"action": "fill",
		"pid":    pid,
		"key":    key,
		"origin": originURL,
	}
}
