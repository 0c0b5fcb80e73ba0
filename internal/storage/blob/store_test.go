package blob

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	t.Run("上传后可读回内容与元信息", func(t *testing.T) {
		store, err := NewStore(t.TempDir(), "/attachments/")
		require.NoError(t, err)

		url, err := store.Upload("abc123.pdf", []byte("pdf bytes"), "application/pdf", "invoice.pdf")
		require.NoError(t, err)
		assert.Equal(t, "/attachments/abc123.pdf", url)

		reader, err := store.Open("abc123.pdf")
		require.NoError(t, err)
		defer reader.Close()
		data, err := io.ReadAll(reader)
		require.NoError(t, err)
		assert.Equal(t, "pdf bytes", string(data))

		meta, err := store.Stat("abc123.pdf")
		require.NoError(t, err)
		assert.Equal(t, "invoice.pdf", meta.Filename)
		assert.Equal(t, "application/pdf", meta.ContentType)
		assert.EqualValues(t, 9, meta.Size)
		assert.False(t, meta.UploadedAt.IsZero())
	})

	t.Run("内容按键前缀分片存放", func(t *testing.T) {
		base := t.TempDir()
		store, err := NewStore(base, "/attachments")
		require.NoError(t, err)

		_, err = store.Upload("abc123.pdf", []byte("x"), "application/pdf", "a.pdf")
		require.NoError(t, err)

		_, err = os.Stat(filepath.Join(base, "ab", "abc123.pdf"))
		assert.NoError(t, err)
		_, err = os.Stat(filepath.Join(base, "ab", "abc123.pdf.meta.json"))
		assert.NoError(t, err)
	})

	t.Run("缺失的键返回错误", func(t *testing.T) {
		store, err := NewStore(t.TempDir(), "/attachments")
		require.NoError(t, err)

		_, err = store.Open("missing")
		assert.Error(t, err)
		_, err = store.Stat("missing")
		assert.Error(t, err)
	})

	t.Run("空键与空路径被拒绝", func(t *testing.T) {
		_, err := NewStore("", "/attachments")
		assert.Error(t, err)

		store, err := NewStore(t.TempDir(), "/attachments")
		require.NoError(t, err)
		_, err = store.Upload("", []byte("x"), "text/plain", "a.txt")
		assert.Error(t, err)
	})
}
