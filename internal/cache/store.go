package cache

import (
	"errors"
	"io"
	"time"
)

// Store 负责管理磁盘缓存的读与原子发布。磁盘布局遵循：
//
//	<StoragePath>/<hex><ext>          # 已发布的对象正文
//	<StoragePath>/.fill-*.tmp         # 正在写入的暂存文件，发布后即消失
//
// 已发布的对象不会被改写或删除。
type Store interface {
	// Root 返回缓存根目录的绝对路径。
	Root() string

	// Stat 返回已发布对象的文件信息；不存在时返回 ErrNotFound。
	Stat(key Key) (Entry, error)

	// Open 返回可流式读取的对象；不存在时返回 ErrNotFound。
	Open(key Key) (*ReadResult, error)

	// Prepare 确保对象所在目录存在，并发调用是安全的。
	Prepare(key Key) error

	// Stage 在目标目录中创建唯一命名的暂存文件，调用方写满后 Commit 或 Discard。
	Stage(key Key) (*StagedFile, error)

	// Resolve 将任意 URL 路径映射到根目录下的文件系统路径，越界时返回 ErrOutsideRoot。
	Resolve(urlPath string) (string, error)
}

// Entry 表示一个已发布对象，包含绝对文件路径及文件信息。
type Entry struct {
	Key       Key       `json:"key"`
	FilePath  string    `json:"file_path"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// ReadResult 组合 Entry 与正文 Reader，便于上层直接流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

var (
	// ErrNotFound 表示对象尚未发布。
	ErrNotFound = errors.New("cache entry not found")
	// ErrOutsideRoot 表示请求路径逃逸出缓存根目录。
	ErrOutsideRoot = errors.New("path escapes storage root")
	// ErrStagingClosed 表示暂存文件已经提交或丢弃。
	ErrStagingClosed = errors.New("staged file already closed")
)
