package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// staticTokens 测试用令牌源。
type staticTokens struct{ token string }

func (s staticTokens) AccessToken(context.Context, string) (string, error) {
	return s.token, nil
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient("graph", server.URL, staticTokens{token: "tok-1"}, 5*time.Second, zap.NewNop())
}

func TestFetchMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("携带令牌拉取并展开附件", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
			assert.Equal(t, "/me/messages/pm1", r.URL.Path)
			assert.Equal(t, "attachments", r.URL.Query().Get("$expand"))

			json.NewEncoder(w).Encode(map[string]any{
				"id":             "pm1",
				"conversationId": "c1",
				"subject":        "hello",
				"hasAttachments": true,
				"attachments": []map[string]any{
					{"name": "a.txt", "contentBytes": "aGk="},
				},
			})
		}))

		inbound, err := client.FetchMessage(ctx, "desk-1", "pm1")
		require.NoError(t, err)
		assert.Equal(t, "pm1", inbound.ProviderMessageID)
		assert.Equal(t, "c1", inbound.ConversationID)
		require.Len(t, inbound.Attachments, 1)
		assert.Equal(t, "a.txt", inbound.Attachments[0].Name)
	})

	t.Run("展开结果为空时补拉附件列表", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/me/messages/pm1":
				json.NewEncoder(w).Encode(map[string]any{
					"id":             "pm1",
					"hasAttachments": true,
				})
			case "/me/messages/pm1/attachments":
				json.NewEncoder(w).Encode(map[string]any{
					"value": []map[string]any{{"name": "b.txt", "contentBytes": "aGk="}},
				})
			default:
				t.Errorf("unexpected path %s", r.URL.Path)
			}
		}))

		inbound, err := client.FetchMessage(ctx, "desk-1", "pm1")
		require.NoError(t, err)
		require.Len(t, inbound.Attachments, 1)
		assert.Equal(t, "b.txt", inbound.Attachments[0].Name)
	})

	t.Run("邮件不存在返回哨兵错误", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))

		_, err := client.FetchMessage(ctx, "desk-1", "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("服务商报错时携带状态码与响应体", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"throttled"}`))
		}))

		_, err := client.FetchMessage(ctx, "desk-1", "pm1")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
		assert.Contains(t, apiErr.Body, "throttled")
	})
}

func TestListUnread(t *testing.T) {
	t.Run("按未读过滤并升序分页", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/me/mailFolders/inbox/messages", r.URL.Path)
			q := r.URL.Query()
			assert.Equal(t, "isRead eq false", q.Get("$filter"))
			assert.Equal(t, "receivedDateTime asc", q.Get("$orderby"))
			assert.Equal(t, "10", q.Get("$top"))

			json.NewEncoder(w).Encode(map[string]any{
				"value": []map[string]any{
					{"id": "pm1", "subject": "first"},
					{"id": "pm2", "subject": "second"},
				},
			})
		}))

		messages, err := client.ListUnread(context.Background(), "desk-1", 10)
		require.NoError(t, err)
		require.Len(t, messages, 2)
		assert.Equal(t, "pm1", messages[0].ProviderMessageID)
		assert.Equal(t, "pm2", messages[1].ProviderMessageID)
	})
}

func TestMarkRead(t *testing.T) {
	t.Run("发送已读补丁", func(t *testing.T) {
		var gotMethod string
		var gotBody map[string]bool
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			json.NewDecoder(r.Body).Decode(&gotBody)
			w.WriteHeader(http.StatusOK)
		}))

		require.NoError(t, client.MarkRead(context.Background(), "desk-1", "pm1"))
		assert.Equal(t, http.MethodPatch, gotMethod)
		assert.Equal(t, map[string]bool{"isRead": true}, gotBody)
	})
}
