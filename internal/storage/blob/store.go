package blob

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Metadata 与内容并排保存的附件元信息。
type Metadata struct {
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// Store 文件系统 Blob 存储实现。
//
// 内容按键的前两个字符分片存放：
//
//	{basePath}/{key[:2]}/{key}          附件内容
//	{basePath}/{key[:2]}/{key}.meta.json 元信息
//
// 键由调用方生成（随机标识 + 净化后缀），天然防碰撞。
type Store struct {
	basePath  string
	urlPrefix string // 引用中回传的下载地址前缀
}

// NewStore 创建文件系统 Blob 存储实例。
func NewStore(basePath, urlPrefix string) (*Store, error) {
	if basePath == "" {
		return nil, fmt.Errorf("blob base path must not be empty")
	}

	// 确保基础目录存在
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	return &Store{
		basePath:  filepath.Clean(basePath),
		urlPrefix: strings.TrimSuffix(urlPrefix, "/"),
	}, nil
}

// Upload 将内容写入存储，返回稳定的下载地址。
func (s *Store) Upload(key string, data []byte, contentType, filename string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("blob key must not be empty")
	}

	dir := filepath.Join(s.basePath, shard(key))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create shard directory: %w", err)
	}

	blobFile := filepath.Join(dir, key)
	if err := os.WriteFile(blobFile, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}

	meta := Metadata{
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(data)),
		UploadedAt:  time.Now().UTC(),
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to marshal blob metadata: %w", err)
	}
	if err := os.WriteFile(blobFile+".meta.json", metaBytes, 0644); err != nil {
		return "", fmt.Errorf("failed to write blob metadata: %w", err)
	}

	return fmt.Sprintf("%s/%s", s.urlPrefix, key), nil
}

// Open 按存储键打开内容读取流。
func (s *Store) Open(key string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.basePath, shard(key), key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob not found: %s", key)
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

// Stat 读取附件元信息。
func (s *Store) Stat(key string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(s.basePath, shard(key), key+".meta.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob metadata not found: %s", key)
		}
		return nil, fmt.Errorf("failed to read blob metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal blob metadata: %w", err)
	}
	return &meta, nil
}

func shard(key string) string {
	if len(key) < 2 {
		return "00"
	}
	return key[:2]
}
