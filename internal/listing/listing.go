// Package listing renders nginx-style HTML indexes for directories under the
// cache root: a summary block with file count and total size, followed by a
// table of entries sorted case-insensitively.
package listing

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// TimeLayout 是列表中修改时间的展示格式。
const TimeLayout = "02-Jan-2006 15:04"

var sizeUnits = []string{"B", "KB", "MB", "GB"}

// Entry 是列表中的一行。
type Entry struct {
	Name     string
	Href     string
	Dir      bool
	Size     string
	Bytes    int64
	Modified string
}

// Index 是一次目录渲染所需的全部数据。
type Index struct {
	Path       string
	ShowParent bool
	Entries    []Entry
	TotalFiles int
	TotalBytes int64
}

// TotalSize 以一位小数和二进制单位格式化总大小，例如 "0.0 B"、"1.5 KB"。
func (idx *Index) TotalSize() string {
	value, unit := scale(idx.TotalBytes)
	return fmt.Sprintf("%.1f %s", value, unit)
}

// Build 读取 dir 并生成 urlPath 对应的索引。隐藏条目（以 "." 开头，包括
// 未完成的暂存文件）既不显示也不计入汇总。
func Build(dir, urlPath string) (*Index, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	if urlPath == "" {
		urlPath = "/"
	}
	idx := &Index{
		Path:       urlPath,
		ShowParent: urlPath != "/",
		Entries:    make([]Entry, 0, len(dirEntries)),
	}

	for _, de := range dirEntries {
		name := de.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			// 条目在 ReadDir 之后被移除或为失效链接。
			continue
		}

		entry := Entry{
			Name:     name,
			Href:     url.PathEscape(name),
			Modified: formatTime(info.ModTime()),
		}
		if info.IsDir() {
			entry.Dir = true
			entry.Name += "/"
			entry.Href += "/"
			entry.Size = "-"
		} else {
			entry.Bytes = info.Size()
			entry.Size = FormatSize(info.Size())
			idx.TotalFiles++
			idx.TotalBytes += info.Size()
		}
		idx.Entries = append(idx.Entries, entry)
	}

	sort.SliceStable(idx.Entries, func(i, j int) bool {
		return strings.ToLower(idx.Entries[i].Name) < strings.ToLower(idx.Entries[j].Name)
	})
	return idx, nil
}

// Render 将索引写为 HTML。
func Render(w io.Writer, idx *Index) error {
	return pageTemplate.Execute(w, idx)
}

// Page 组合 Build 与 Render，返回完整页面。
func Page(dir, urlPath string) ([]byte, error) {
	idx, err := Build(dir, urlPath)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := Render(&buf, idx); err != nil {
		return nil, fmt.Errorf("render listing: %w", err)
	}
	return buf.Bytes(), nil
}

// FormatSize 按 nginx 的风格输出单个文件大小：字节为整数，其余一位小数。
func FormatSize(size int64) string {
	if size <= 0 {
		return "0B"
	}
	value, unit := scale(size)
	if unit == sizeUnits[0] {
		return fmt.Sprintf("%.0f%s", value, unit)
	}
	return fmt.Sprintf("%.1f%s", value, unit)
}

func scale(size int64) (float64, string) {
	value := float64(size)
	idx := 0
	for value >= 1024 && idx < len(sizeUnits)-1 {
		value /= 1024
		idx++
	}
	return value, sizeUnits[idx]
}

func formatTime(t time.Time) string {
	return t.Local().Format(TimeLayout)
}
