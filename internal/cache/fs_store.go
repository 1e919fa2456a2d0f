package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// statFile 可在测试中替换。
var statFile = os.Stat

const stagingPattern = ".fill-*.tmp"

// Options 控制磁盘写入行为。
type Options struct {
	// SyncWrites 在 rename 之前 fsync 暂存文件，保证掉电后不会发布空洞文件。
	SyncWrites bool
}

// NewStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
func NewStore(basePath string, opts Options) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{basePath: abs, opts: opts}, nil
}

type fileStore struct {
	basePath string
	opts     Options
}

func (s *fileStore) Root() string {
	return s.basePath
}

func (s *fileStore) Stat(key Key) (Entry, error) {
	filePath, err := s.entryPath(key)
	if err != nil {
		return Entry{}, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	if !info.Mode().IsRegular() {
		return Entry{}, ErrNotFound
	}

	return Entry{
		Key:       key,
		FilePath:  filePath,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
	}, nil
}

func (s *fileStore) Open(key Key) (*ReadResult, error) {
	entry, err := s.Stat(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(entry.FilePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &ReadResult{Entry: entry, Reader: f}, nil
}

func (s *fileStore) Prepare(key Key) error {
	filePath, err := s.entryPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	return nil
}

func (s *fileStore) Stage(key Key) (*StagedFile, error) {
	filePath, err := s.entryPath(key)
	if err != nil {
		return nil, err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), stagingPattern)
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}

	return &StagedFile{
		file: tempFile,
		key:  key,
		dest: filePath,
		sync: s.opts.SyncWrites,
	}, nil
}

func (s *fileStore) Resolve(urlPath string) (string, error) {
	if strings.ContainsRune(urlPath, 0) {
		return "", ErrOutsideRoot
	}
	rel := path.Clean("/" + urlPath)
	rel = strings.TrimPrefix(rel, "/")

	filePath := filepath.Join(s.basePath, filepath.FromSlash(rel))
	if filePath != s.basePath && !strings.HasPrefix(filePath, s.basePath+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return filePath, nil
}

func (s *fileStore) entryPath(key Key) (string, error) {
	if key.IsZero() {
		return "", errors.New("object key required")
	}
	return s.Resolve(key.Path())
}

// StagedFile 是位于目标目录中的暂存文件。Commit 通过 rename 原子发布，
// 任意失败路径都应调用 Discard 清理；二者都可以重复调用。
type StagedFile struct {
	key     Key
	dest    string
	sync    bool
	written int64

	mu     sync.Mutex
	file   *os.File
	closed bool
}

// Name 返回暂存文件的绝对路径。
func (s *StagedFile) Name() string {
	return s.file.Name()
}

// Written 返回已写入的字节数。
func (s *StagedFile) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Write 实现 io.Writer。
func (s *StagedFile) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStagingClosed
	}
	n, err := s.file.Write(p)
	s.written += int64(n)
	return n, err
}

// CopyFrom 将 src 完整写入暂存文件，期间响应 ctx 取消。
func (s *StagedFile) CopyFrom(ctx context.Context, src io.Reader) (int64, error) {
	return copyWithContext(ctx, s, src)
}

// Commit 刷盘、关闭并把暂存文件 rename 到规范路径。
func (s *StagedFile) Commit() (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStagingClosed
	}
	s.closed = true

	tempName := s.file.Name()
	var err error
	if s.sync {
		err = s.file.Sync()
	}
	if closeErr := s.file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return nil, fmt.Errorf("flush staging file: %w", err)
	}

	if err := os.Rename(tempName, s.dest); err != nil {
		os.Remove(tempName)
		return nil, fmt.Errorf("publish object: %w", err)
	}

	// rename 成功即视为已发布，stat 失败时以写入字节数为准。
	entry := &Entry{
		Key:       s.key,
		FilePath:  s.dest,
		SizeBytes: s.written,
		ModTime:   time.Now(),
	}
	if info, err := statFile(s.dest); err == nil {
		entry.SizeBytes = info.Size()
		entry.ModTime = info.ModTime()
	}
	return entry, nil
}

// Discard 关闭并删除暂存文件；提交后调用为空操作。
func (s *StagedFile) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	tempName := s.file.Name()
	_ = s.file.Close()
	if err := os.Remove(tempName); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
