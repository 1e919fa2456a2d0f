package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultUserAgent 是回源请求默认携带的浏览器标识，部分源站会拒绝无标识客户端。
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36"

// EnvPrefix 用于环境变量覆盖，例如 EDGECACHE_ORIGIN。
const EnvPrefix = "EDGECACHE"

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	return LoadWithOverrides(path, nil)
}

// LoadWithOverrides 与 Load 相同，但允许 CLI 覆盖部分字段（例如 --verbose）。
func LoadWithOverrides(path string, overrides map[string]interface{}) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	hooks := mapstructure.ComposeDecodeHookFunc(durationDecodeHook(), byteSizeDecodeHook())
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hooks)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenAddr", ":9999")
	// 无默认值的键也需登记，否则 AutomaticEnv 无法在 Unmarshal 时覆盖。
	v.SetDefault("Origin", "")
	v.SetDefault("TLSCertFile", "")
	v.SetDefault("TLSKeyFile", "")
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("ObjectExtension", ".mp3")
	v.SetDefault("ContentType", "audio/mpeg")
	v.SetDefault("AllowOrigin", "https://www.remnote.com")
	v.SetDefault("UserAgent", DefaultUserAgent)
	v.SetDefault("FetchAttempts", 3)
	v.SetDefault("RetryDelay", "10s")
	v.SetDefault("OriginTimeout", "30s")
	v.SetDefault("MaxObjectSize", "256MiB")
	v.SetDefault("FillWorkers", 8)
	v.SetDefault("ShutdownGrace", "5s")
	v.SetDefault("SyncWrites", true)
	v.SetDefault("PathPolicy", string(PathPolicyRestricted))
	v.SetDefault("GetFillsOnMiss", false)
	v.SetDefault("Diagnostics", true)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("Verbose", false)
}

// applyDefaults 兜底处理显式写成零值的字段。
func applyDefaults(c *Config) {
	if c.ListenAddr == "" {
		c.ListenAddr = ":9999"
	}
	if c.ObjectExtension != "" && !strings.HasPrefix(c.ObjectExtension, ".") {
		c.ObjectExtension = "." + c.ObjectExtension
	}
	c.ObjectExtension = strings.ToLower(c.ObjectExtension)
	c.PathPolicy = PathPolicy(strings.ToLower(strings.TrimSpace(string(c.PathPolicy))))
	if c.PathPolicy == "" {
		c.PathPolicy = PathPolicyRestricted
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.OriginTimeout.DurationValue() == 0 {
		c.OriginTimeout = Duration(30 * time.Second)
	}
	if c.Log.Verbose && !strings.EqualFold(c.Log.LogLevel, "trace") {
		c.Log.LogLevel = "debug"
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			var d Duration
			if err := d.UnmarshalText([]byte(v)); err != nil {
				if seconds, ferr := strconv.ParseFloat(strings.TrimSpace(v), 64); ferr == nil {
					return Duration(time.Duration(seconds * float64(time.Second))), nil
				}
				return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
			}
			return d, nil
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(ByteSize(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			parsed, err := parseByteSize(v)
			if err != nil {
				return nil, fmt.Errorf("无法解析大小字段: %w", err)
			}
			return parsed, nil
		case int:
			return ByteSize(v), nil
		case int64:
			return ByteSize(v), nil
		case float64:
			return ByteSize(int64(v)), nil
		case ByteSize:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的大小类型: %T", v)
		}
	}
}
