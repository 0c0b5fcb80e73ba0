package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"helpdesk/backend/internal/credential"
	"helpdesk/backend/internal/domain"
)

// fakeMailSource 测试用邮件源。
type fakeMailSource struct {
	mu         sync.Mutex
	unread     map[string][]domain.InboundMessage
	markedRead []string
	listErr    error
	markErr    error
	listGate   chan struct{} // 非 nil 时 ListUnread 阻塞等待
	listBegan  chan struct{}
}

func (f *fakeMailSource) Name() string { return "graph" }

func (f *fakeMailSource) ListUnread(_ context.Context, deskID string, _ int) ([]domain.InboundMessage, error) {
	if f.listBegan != nil {
		f.listBegan <- struct{}{}
	}
	if f.listGate != nil {
		<-f.listGate
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread[deskID], nil
}

func (f *fakeMailSource) MarkRead(_ context.Context, _, messageID string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedRead = append(f.markedRead, messageID)
	return nil
}

func newPollerFixture(t *testing.T, source *fakeMailSource) (*Poller, *ingestFixture) {
	t.Helper()
	f := newIngestFixture(t, "agent-1")
	poller := NewPoller(f.store, source, f.ingestor, time.Minute, 25, 0, zap.NewNop())
	return poller, f
}

func TestPollOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("拉取未读邮件摄取并标记已读", func(t *testing.T) {
		source := &fakeMailSource{unread: map[string][]domain.InboundMessage{
			"desk-1": {
				inboundMessage("pm1", "c1"),
				inboundMessage("pm2", "c2"),
			},
		}}
		poller, f := newPollerFixture(t, source)

		require.True(t, poller.PollOnce(ctx))

		messages, err := f.store.ListMessagesByDesk("desk-1", 0, 0)
		require.NoError(t, err)
		assert.Len(t, messages, 2)
		assert.ElementsMatch(t, []string{"pm1", "pm2"}, source.markedRead)
	})

	t.Run("标记已读失败不影响落库", func(t *testing.T) {
		source := &fakeMailSource{
			unread:  map[string][]domain.InboundMessage{"desk-1": {inboundMessage("pm1", "c1")}},
			markErr: assert.AnError,
		}
		poller, f := newPollerFixture(t, source)

		require.True(t, poller.PollOnce(ctx))

		messages, err := f.store.ListMessagesByDesk("desk-1", 0, 0)
		require.NoError(t, err)
		assert.Len(t, messages, 1)
	})

	t.Run("重复拉取同一邮件不产生重复行", func(t *testing.T) {
		source := &fakeMailSource{
			unread:  map[string][]domain.InboundMessage{"desk-1": {inboundMessage("pm1", "c1")}},
			markErr: assert.AnError, // 模拟标记已读始终失败
		}
		poller, f := newPollerFixture(t, source)

		require.True(t, poller.PollOnce(ctx))
		require.True(t, poller.PollOnce(ctx))

		messages, err := f.store.ListMessagesByDesk("desk-1", 0, 0)
		require.NoError(t, err)
		assert.Len(t, messages, 1)
	})

	t.Run("凭据错误跳过该客服组", func(t *testing.T) {
		source := &fakeMailSource{listErr: credential.ErrNoIntegration}
		poller, f := newPollerFixture(t, source)

		require.True(t, poller.PollOnce(ctx))

		messages, err := f.store.ListMessagesByDesk("desk-1", 0, 0)
		require.NoError(t, err)
		assert.Empty(t, messages)
	})

	t.Run("上一周期未结束时跳过本次", func(t *testing.T) {
		source := &fakeMailSource{
			listGate:  make(chan struct{}),
			listBegan: make(chan struct{}, 1),
		}
		poller, _ := newPollerFixture(t, source)

		done := make(chan bool, 1)
		go func() { done <- poller.PollOnce(ctx) }()

		// 等第一个周期进入 ListUnread 后再触发第二个周期
		<-source.listBegan
		assert.False(t, poller.PollOnce(ctx))

		close(source.listGate)
		assert.True(t, <-done)
	})
}
