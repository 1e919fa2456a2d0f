package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/units"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// ByteSize 表示字节数，配置中可写作 "256MiB"、"512KB" 或纯数字。
type ByteSize int64

// UnmarshalText 解析二进制单位的大小写法。
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := parseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Int64 返回原始字节数。
func (b ByteSize) Int64() int64 {
	return int64(b)
}

func parseByteSize(raw string) (ByteSize, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ByteSize(n), nil
	}
	parsed, err := units.ParseBase2Bytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %s", raw)
	}
	return ByteSize(parsed), nil
}

// PathPolicy 控制非对象路径的处理方式。
type PathPolicy string

const (
	// PathPolicyRestricted 仅服务内容寻址对象，其它路径一律 404。
	PathPolicyRestricted PathPolicy = "restricted"
	// PathPolicyPermissive 对非对象路径回退到普通静态文件/目录列表。
	PathPolicyPermissive PathPolicy = "permissive"
)

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	ListenAddr  string `mapstructure:"ListenAddr"`
	TLSCertFile string `mapstructure:"TLSCertFile"`
	TLSKeyFile  string `mapstructure:"TLSKeyFile"`

	Origin          string `mapstructure:"Origin"`
	StoragePath     string `mapstructure:"StoragePath"`
	ObjectExtension string `mapstructure:"ObjectExtension"`
	ContentType     string `mapstructure:"ContentType"`
	AllowOrigin     string `mapstructure:"AllowOrigin"`
	UserAgent       string `mapstructure:"UserAgent"`

	FetchAttempts int      `mapstructure:"FetchAttempts"`
	RetryDelay    Duration `mapstructure:"RetryDelay"`
	OriginTimeout Duration `mapstructure:"OriginTimeout"`
	MaxObjectSize ByteSize `mapstructure:"MaxObjectSize"`
	FillWorkers   int      `mapstructure:"FillWorkers"`
	ShutdownGrace Duration `mapstructure:"ShutdownGrace"`
	SyncWrites    bool     `mapstructure:"SyncWrites"`

	PathPolicy     PathPolicy `mapstructure:"PathPolicy"`
	GetFillsOnMiss bool       `mapstructure:"GetFillsOnMiss"`
	Diagnostics    bool       `mapstructure:"Diagnostics"`

	Log LogConfig `mapstructure:",squash"`
}

// LogConfig 描述日志输出行为。
type LogConfig struct {
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
	Verbose       bool   `mapstructure:"Verbose"`
}

// TLSEnabled 表示证书与私钥是否都已配置。
func (c *Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// OriginURL 返回解析后的上游地址；假定 Validate 已通过。
func (c *Config) OriginURL() *url.URL {
	parsed, err := url.Parse(c.Origin)
	if err != nil {
		return nil
	}
	return parsed
}
