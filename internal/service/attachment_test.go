package service

import (
	"encoding/base64"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"helpdesk/backend/internal/domain"
)

// fakeBlobStore 测试用 Blob 存储，failKeys 匹配的文件名上传失败。
type fakeBlobStore struct {
	mu       sync.Mutex
	uploads  map[string][]byte
	failName string
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{uploads: make(map[string][]byte)}
}

func (f *fakeBlobStore) Upload(key string, data []byte, contentType, filename string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failName != "" && filename == f.failName {
		return "", fmt.Errorf("upload rejected")
	}
	f.uploads[key] = data
	return "/attachments/" + key, nil
}

func TestMaterialize(t *testing.T) {
	t.Run("正常解码并上传", func(t *testing.T) {
		blobs := newFakeBlobStore()
		m := NewAttachmentMaterializer(blobs, zap.NewNop())

		payload := []byte("hello attachment")
		ref, err := m.Materialize(domain.InboundAttachment{
			Name:         "report.PDF",
			ContentType:  "application/pdf",
			ContentBytes: base64.StdEncoding.EncodeToString(payload),
		})
		require.NoError(t, err)

		assert.Equal(t, "report.PDF", ref.Filename)
		assert.Equal(t, int64(len(payload)), ref.Size)
		assert.Contains(t, ref.StorageKey, ".pdf") // 后缀净化为小写
		assert.Equal(t, "/attachments/"+ref.StorageKey, ref.URL)
		assert.Equal(t, payload, blobs.uploads[ref.StorageKey])
	})

	t.Run("base64 解码失败返回无效附件错误", func(t *testing.T) {
		m := NewAttachmentMaterializer(newFakeBlobStore(), zap.NewNop())

		_, err := m.Materialize(domain.InboundAttachment{
			Name:         "broken.bin",
			ContentBytes: "!!!not-base64!!!",
		})
		assert.ErrorIs(t, err, ErrInvalidAttachment)
	})

	t.Run("空负载返回无效附件错误", func(t *testing.T) {
		m := NewAttachmentMaterializer(newFakeBlobStore(), zap.NewNop())

		_, err := m.Materialize(domain.InboundAttachment{Name: "empty.txt", ContentBytes: ""})
		assert.ErrorIs(t, err, ErrInvalidAttachment)
	})
}

func TestMaterializeAll(t *testing.T) {
	t.Run("单个附件失败不影响兄弟附件", func(t *testing.T) {
		blobs := newFakeBlobStore()
		m := NewAttachmentMaterializer(blobs, zap.NewNop())

		atts := []domain.InboundAttachment{
			{Name: "one.txt", ContentBytes: base64.StdEncoding.EncodeToString([]byte("one"))},
			{Name: "two.txt", ContentBytes: "%%%corrupt%%%"}, // 解码失败
			{Name: "three.txt", ContentBytes: base64.StdEncoding.EncodeToString([]byte("three"))},
		}

		refs := m.MaterializeAll(atts)
		require.Len(t, refs, 2)
		assert.Equal(t, "one.txt", refs[0].Filename)
		assert.Equal(t, 0, refs[0].Position)
		assert.Equal(t, "three.txt", refs[1].Filename)
		assert.Equal(t, 2, refs[1].Position) // 保留原始位置
	})

	t.Run("上传失败同样跳过", func(t *testing.T) {
		blobs := newFakeBlobStore()
		blobs.failName = "two.txt"
		m := NewAttachmentMaterializer(blobs, zap.NewNop())

		atts := []domain.InboundAttachment{
			{Name: "one.txt", ContentBytes: base64.StdEncoding.EncodeToString([]byte("one"))},
			{Name: "two.txt", ContentBytes: base64.StdEncoding.EncodeToString([]byte("two"))},
		}

		refs := m.MaterializeAll(atts)
		require.Len(t, refs, 1)
		assert.Equal(t, "one.txt", refs[0].Filename)
	})
}

func TestSanitizeExtension(t *testing.T) {
	cases := map[string]string{
		"report.pdf":    ".pdf",
		"photo.JPG":     ".jpg",
		"archive":       "",
		"weird.p@f":     ".pf",
		"noext.":        "",
		"long.withaverylongextension": "",
	}
	for name, want := range cases {
		assert.Equal(t, want, sanitizeExtension(name), name)
	}
}
