package service

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"helpdesk/backend/internal/domain"
	"helpdesk/backend/internal/events"
	"helpdesk/backend/internal/storage/memory"
)

type ingestFixture struct {
	store    *memory.Store
	blobs    *fakeBlobStore
	ingestor *Ingestor
	desk     *domain.Desk
}

func newIngestFixture(t *testing.T, agentIDs ...string) *ingestFixture {
	t.Helper()

	store := memory.NewStore()
	desk := &domain.Desk{
		ID:             "desk-1",
		Name:           "Support",
		Email:          "support@acme.com",
		Provider:       "graph",
		SubscriptionID: "sub-1",
	}
	require.NoError(t, store.SaveDesk(desk))
	seedDeskAgents(t, store, desk.ID, agentIDs...)

	log := zap.NewNop()
	blobs := newFakeBlobStore()
	materializer := NewAttachmentMaterializer(blobs, log)
	assigner := NewAssignmentEngine(store, store, log)
	reconciler := NewTicketReconciler(store, store, events.NopPublisher{}, nil, log)
	ingestor := NewIngestor(store, assigner, materializer, reconciler, events.NopPublisher{}, "graph", log)

	return &ingestFixture{store: store, blobs: blobs, ingestor: ingestor, desk: desk}
}

func inboundMessage(pmid, conversationID string) domain.InboundMessage {
	return domain.InboundMessage{
		ProviderMessageID: pmid,
		ConversationID:    conversationID,
		Subject:           "help needed",
		BodyText:          "something is broken",
		FromAddress:       "customer@example.com",
		To:                []string{"support@acme.com"},
		ReceivedAt:        time.Now().UTC(),
	}
}

func TestIngest(t *testing.T) {
	ctx := context.Background()

	t.Run("幂等性_同一邮件两条入口各到达一次只存一行", func(t *testing.T) {
		f := newIngestFixture(t, "agent-1")

		first, err := f.ingestor.Ingest(ctx, f.desk, inboundMessage("pm1", "c1"), SourceWebhook)
		require.NoError(t, err)

		second, err := f.ingestor.Ingest(ctx, f.desk, inboundMessage("pm1", "c1"), SourcePoller)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		messages, err := f.store.ListMessagesByDesk(f.desk.ID, 0, 0)
		require.NoError(t, err)
		assert.Len(t, messages, 1)
	})

	t.Run("重复投递不重新分配", func(t *testing.T) {
		f := newIngestFixture(t, "agent-1", "agent-2")

		first, err := f.ingestor.Ingest(ctx, f.desk, inboundMessage("pm1", "c1"), SourceWebhook)
		require.NoError(t, err)
		require.NotNil(t, first.AssignedAgentID)
		assert.Equal(t, "agent-1", *first.AssignedAgentID)

		second, err := f.ingestor.Ingest(ctx, f.desk, inboundMessage("pm1", "c1"), SourcePoller)
		require.NoError(t, err)
		require.NotNil(t, second.AssignedAgentID)
		assert.Equal(t, "agent-1", *second.AssignedAgentID)

		// 轮转游标没有被重复投递推进
		next, err := f.ingestor.Ingest(ctx, f.desk, inboundMessage("pm2", "c2"), SourceWebhook)
		require.NoError(t, err)
		require.NotNil(t, next.AssignedAgentID)
		assert.Equal(t, "agent-2", *next.AssignedAgentID)
	})

	t.Run("线程亲和_同会话后续邮件沿用客服", func(t *testing.T) {
		f := newIngestFixture(t, "agent-1", "agent-2")

		m1, err := f.ingestor.Ingest(ctx, f.desk, inboundMessage("pm1", "c1"), SourceWebhook)
		require.NoError(t, err)
		require.NotNil(t, m1.AssignedAgentID)

		m2, err := f.ingestor.Ingest(ctx, f.desk, inboundMessage("pm2", "c1"), SourcePoller)
		require.NoError(t, err)
		require.NotNil(t, m2.AssignedAgentID)
		assert.Equal(t, *m1.AssignedAgentID, *m2.AssignedAgentID)
	})

	t.Run("附件部分失败_邮件仍然落库", func(t *testing.T) {
		f := newIngestFixture(t, "agent-1")

		inbound := inboundMessage("pm1", "c1")
		inbound.HasAttachments = true
		inbound.Attachments = []domain.InboundAttachment{
			{Name: "one.txt", ContentBytes: base64.StdEncoding.EncodeToString([]byte("one"))},
			{Name: "two.txt", ContentBytes: "%%%corrupt%%%"},
			{Name: "three.txt", ContentBytes: base64.StdEncoding.EncodeToString([]byte("three"))},
		}

		stored, err := f.ingestor.Ingest(ctx, f.desk, inbound, SourceWebhook)
		require.NoError(t, err)
		assert.True(t, stored.HasAttachments)
		require.Len(t, stored.Attachments, 2)
		assert.Equal(t, "one.txt", stored.Attachments[0].Filename)
		assert.Equal(t, "three.txt", stored.Attachments[1].Filename)
	})

	t.Run("客服组邮箱发出的邮件标记为外发", func(t *testing.T) {
		f := newIngestFixture(t, "agent-1")

		inbound := inboundMessage("pm1", "c1")
		inbound.FromAddress = "support@acme.com"

		stored, err := f.ingestor.Ingest(ctx, f.desk, inbound, SourcePoller)
		require.NoError(t, err)
		assert.Equal(t, domain.DirectionOutgoing, stored.Direction)
	})

	t.Run("重复投递补齐已读标记与空正文", func(t *testing.T) {
		f := newIngestFixture(t, "agent-1")

		inbound := inboundMessage("pm1", "c1")
		inbound.BodyText = ""
		first, err := f.ingestor.Ingest(ctx, f.desk, inbound, SourceWebhook)
		require.NoError(t, err)
		assert.False(t, first.IsRead)
		assert.Empty(t, first.BodyText)

		again := inboundMessage("pm1", "c1")
		again.IsRead = true
		merged, err := f.ingestor.Ingest(ctx, f.desk, again, SourcePoller)
		require.NoError(t, err)
		assert.True(t, merged.IsRead)
		assert.Equal(t, "something is broken", merged.BodyText)
	})

	t.Run("完整场景_去重亲和与轮转协同", func(t *testing.T) {
		f := newIngestFixture(t, "agent-1", "agent-2")

		// Webhook 送达 m1（会话 c1）→ 分配 agent-1
		m1, err := f.ingestor.Ingest(ctx, f.desk, inboundMessage("m1", "c1"), SourceWebhook)
		require.NoError(t, err)
		require.NotNil(t, m1.AssignedAgentID)
		assert.Equal(t, "agent-1", *m1.AssignedAgentID)

		// 轮询重新拉到 m1（标记已读竞争失败）→ 无重复行、不重新分配
		m1again, err := f.ingestor.Ingest(ctx, f.desk, inboundMessage("m1", "c1"), SourcePoller)
		require.NoError(t, err)
		assert.Equal(t, m1.ID, m1again.ID)
		assert.Equal(t, "agent-1", *m1again.AssignedAgentID)

		// 会话 c1 的回复 m2 → 亲和到 agent-1 而不是 agent-2
		m2, err := f.ingestor.Ingest(ctx, f.desk, inboundMessage("m2", "c1"), SourceWebhook)
		require.NoError(t, err)
		require.NotNil(t, m2.AssignedAgentID)
		assert.Equal(t, "agent-1", *m2.AssignedAgentID)

		// 全新会话 c2 → 轮转推进到 agent-2
		m3, err := f.ingestor.Ingest(ctx, f.desk, inboundMessage("m3", "c2"), SourcePoller)
		require.NoError(t, err)
		require.NotNil(t, m3.AssignedAgentID)
		assert.Equal(t, "agent-2", *m3.AssignedAgentID)

		messages, err := f.store.ListMessagesByDesk(f.desk.ID, 0, 0)
		require.NoError(t, err)
		assert.Len(t, messages, 3)
	})

	t.Run("新会话命中打开工单时自动挂靠", func(t *testing.T) {
		f := newIngestFixture(t, "agent-1")
		require.NoError(t, f.store.SaveTicket(&domain.Ticket{
			ID:             "t1",
			DeskID:         f.desk.ID,
			ConversationID: "c1",
			Status:         domain.TicketStatusOpen,
		}))

		stored, err := f.ingestor.Ingest(ctx, f.desk, inboundMessage("pm1", "c1"), SourceWebhook)
		require.NoError(t, err)

		fetched, err := f.store.GetMessage(stored.ID)
		require.NoError(t, err)
		require.NotNil(t, fetched.TicketID)
		assert.Equal(t, "t1", *fetched.TicketID)
	})
}

func TestIngestorExists(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t, "agent-1")

	exists, err := f.ingestor.Exists(ctx, "pm1")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = f.ingestor.Ingest(ctx, f.desk, inboundMessage("pm1", "c1"), SourceWebhook)
	require.NoError(t, err)

	exists, err = f.ingestor.Exists(ctx, "pm1")
	require.NoError(t, err)
	assert.True(t, exists)
}
