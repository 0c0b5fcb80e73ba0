package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"helpdesk/backend/internal/domain"
)

var (
	// ErrNotFound 服务商侧资源不存在。
	ErrNotFound = errors.New("provider resource not found")
)

// APIError 表示服务商返回的非 2xx 响应。
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider api error: HTTP %d: %s", e.StatusCode, e.Body)
}

// TokenSource 为每次服务商调用提供客服组的访问令牌。
type TokenSource interface {
	AccessToken(ctx context.Context, deskID string) (string, error)
}

// Client 邮件服务商 REST 客户端。
//
// 服务商私有的字段名与端点路径只存在于本包内，
// 对外一律返回归一化后的 domain.InboundMessage。
type Client struct {
	name    string
	baseURL string
	tokens  TokenSource
	http    *http.Client
	logger  *zap.Logger
}

// NewClient 创建服务商客户端。
func NewClient(name, baseURL string, tokens TokenSource, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		name:    name,
		baseURL: baseURL,
		tokens:  tokens,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Name 返回服务商标识（写入 Message.Provider）。
func (c *Client) Name() string {
	return c.name
}

// FetchMessage 拉取单封邮件的完整内容（附件展开）。
func (c *Client) FetchMessage(ctx context.Context, deskID, messageID string) (*domain.InboundMessage, error) {
	endpoint := fmt.Sprintf("%s/me/messages/%s?%s", c.baseURL,
		url.PathEscape(messageID), url.Values{"$expand": {"attachments"}}.Encode())

	var res messageResource
	if err := c.doJSON(ctx, deskID, http.MethodGet, endpoint, nil, &res); err != nil {
		return nil, err
	}

	// hasAttachments 为真但展开结果为空时单独拉取附件列表
	if res.HasAttachments && len(res.Attachments) == 0 {
		attachments, err := c.listAttachments(ctx, deskID, messageID)
		if err != nil {
			return nil, err
		}
		res.Attachments = attachments
	}

	inbound := normalizeMessage(&res)
	return &inbound, nil
}

// ListUnread 列出未读邮件，按接收时间升序分页。
func (c *Client) ListUnread(ctx context.Context, deskID string, top int) ([]domain.InboundMessage, error) {
	if top <= 0 {
		top = 25
	}
	query := url.Values{
		"$filter":  {"isRead eq false"},
		"$orderby": {"receivedDateTime asc"},
		"$top":     {fmt.Sprintf("%d", top)},
		"$expand":  {"attachments"},
	}
	endpoint := fmt.Sprintf("%s/me/mailFolders/inbox/messages?%s", c.baseURL, query.Encode())

	var res struct {
		Value []messageResource `json:"value"`
	}
	if err := c.doJSON(ctx, deskID, http.MethodGet, endpoint, nil, &res); err != nil {
		return nil, err
	}

	messages := make([]domain.InboundMessage, 0, len(res.Value))
	for i := range res.Value {
		messages = append(messages, normalizeMessage(&res.Value[i]))
	}
	return messages, nil
}

// MarkRead 将远程邮件标记为已读（轮询去重的尽力而为手段）。
func (c *Client) MarkRead(ctx context.Context, deskID, messageID string) error {
	endpoint := fmt.Sprintf("%s/me/messages/%s", c.baseURL, url.PathEscape(messageID))
	body := map[string]bool{"isRead": true}
	return c.doJSON(ctx, deskID, http.MethodPatch, endpoint, body, nil)
}

// listAttachments 拉取邮件的附件列表（未展开时的补充请求）。
func (c *Client) listAttachments(ctx context.Context, deskID, messageID string) ([]attachmentResource, error) {
	endpoint := fmt.Sprintf("%s/me/messages/%s/attachments", c.baseURL, url.PathEscape(messageID))

	var res struct {
		Value []attachmentResource `json:"value"`
	}
	if err := c.doJSON(ctx, deskID, http.MethodGet, endpoint, nil, &res); err != nil {
		return nil, err
	}
	return res.Value, nil
}

// doJSON 携带 Bearer 令牌执行一次请求并解析 JSON 响应。
func (c *Client) doJSON(ctx context.Context, deskID, method, endpoint string, body, out interface{}) error {
	token, err := c.tokens.AccessToken(ctx, deskID)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warn("provider api error",
			zap.String("desk_id", deskID),
			zap.String("method", method),
			zap.Int("status", resp.StatusCode),
		)
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode provider response: %w", err)
		}
	}
	return nil
}
