package cache

import (
	"net/url"
	"strings"

	"github.com/grafana/regexp"
)

// HexLength 是对象标识中十六进制摘要的固定长度。
const HexLength = 32

// DefaultExtension 是未配置时使用的对象扩展名。
const DefaultExtension = ".mp3"

// Class 表示一个请求路径的分类结果。
type Class int

const (
	// ClassIneligible 表示路径不属于缓存域。
	ClassIneligible Class = iota
	// ClassRoot 表示根路径 "/"，可用于存活检查，但不代表任何对象。
	ClassRoot
	// ClassObject 表示合法的内容寻址对象名。
	ClassObject
)

func (c Class) String() string {
	switch c {
	case ClassRoot:
		return "root"
	case ClassObject:
		return "object"
	default:
		return "ineligible"
	}
}

// Key 唯一标识一个缓存对象，十六进制部分统一为小写。
type Key struct {
	Hex string
	Ext string
}

// Path 返回以 "/" 开头的规范路径，同时用于拼接上游 URL 与本地文件路径。
func (k Key) Path() string {
	return "/" + k.Hex + k.Ext
}

// Name 返回不带前导 "/" 的文件名。
func (k Key) Name() string {
	return k.Hex + k.Ext
}

func (k Key) String() string {
	return k.Path()
}

// IsZero reports whether k was never parsed.
func (k Key) IsZero() bool {
	return k.Hex == ""
}

// Scheme 根据固定扩展名判定路径是否为可缓存对象。零值不可用，请使用 NewScheme。
type Scheme struct {
	ext     string
	pattern *regexp.Regexp
}

// NewScheme 以扩展名（例如 ".mp3"）构建命名规则，空值回退到 DefaultExtension。
func NewScheme(ext string) Scheme {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		ext = DefaultExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return Scheme{
		ext:     ext,
		pattern: regexp.MustCompile(`^/([0-9A-Fa-f]{32})(?i:` + regexp.QuoteMeta(ext) + `)$`),
	}
}

// Extension 返回规范化后的扩展名。
func (s Scheme) Extension() string {
	return s.ext
}

// Classify 接受原始路径或完整 URL，剥离 scheme/host/query 后进行分类。
// 无法解析的输入视为不合格，不返回错误。
func (s Scheme) Classify(raw string) Class {
	_, class := s.classify(raw)
	return class
}

// Eligible 对对象名与根路径返回 true。
func (s Scheme) Eligible(raw string) bool {
	return s.Classify(raw) != ClassIneligible
}

// Parse 仅在 raw 为对象名时返回 Key。
func (s Scheme) Parse(raw string) (Key, bool) {
	key, class := s.classify(raw)
	return key, class == ClassObject
}

func (s Scheme) classify(raw string) (Key, Class) {
	if raw == "" || s.pattern == nil {
		return Key{}, ClassIneligible
	}
	if raw == "/" {
		return Key{}, ClassRoot
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return Key{}, ClassIneligible
	}
	p := parsed.Path
	if p == "/" && (parsed.Host != "" || raw[0] == '/') {
		return Key{}, ClassRoot
	}

	match := s.pattern.FindStringSubmatch(p)
	if match == nil {
		return Key{}, ClassIneligible
	}
	return Key{Hex: strings.ToLower(match[1]), Ext: s.ext}, ClassObject
}
