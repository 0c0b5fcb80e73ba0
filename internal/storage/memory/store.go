package memory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"helpdesk/backend/internal/domain"
	"helpdesk/backend/internal/storage"
)

// Store 使用内存保存全部实体，主要用于开发验证与单元测试。
//
// byProviderID 模拟数据库在 (provider, providerMessageId) 上的
// 唯一索引：UpsertMessage 在持锁状态下完成检查与写入，
// 因此即使 Webhook 与轮询并发摄取同一封邮件也只会产生一行。
type Store struct {
	mu          sync.RWMutex
	messages    map[string]*domain.Message       // messageID -> message
	byProvider  map[string]string                // provider+"\x00"+providerMessageID -> messageID
	attachments map[string][]*domain.AttachmentRef // messageID -> refs（有序）
	byStorage   map[string]*domain.AttachmentRef // storageKey -> ref
	desks       map[string]*domain.Desk          // deskID -> desk
	bySub       map[string]string                // subscriptionID -> deskID
	agents      map[string]*domain.Agent         // agentID -> agent
	cursors     map[string]*domain.AssignmentCursor
	credentials map[string]*domain.Credential
	tickets     map[string]*domain.Ticket
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		messages:    make(map[string]*domain.Message),
		byProvider:  make(map[string]string),
		attachments: make(map[string][]*domain.AttachmentRef),
		byStorage:   make(map[string]*domain.AttachmentRef),
		desks:       make(map[string]*domain.Desk),
		bySub:       make(map[string]string),
		agents:      make(map[string]*domain.Agent),
		cursors:     make(map[string]*domain.AssignmentCursor),
		credentials: make(map[string]*domain.Credential),
		tickets:     make(map[string]*domain.Ticket),
	}
}

func providerKey(provider, providerMessageID string) string {
	return fmt.Sprintf("%s\x00%s", provider, providerMessageID)
}

// UpsertMessage 以服务商邮件 ID 为去重键写入邮件。
//
// 检查与写入在同一临界区内完成，是两条摄取路径竞争时的仲裁点。
func (s *Store) UpsertMessage(message *domain.Message) (*domain.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	key := providerKey(message.Provider, message.ProviderMessageID)

	if existingID, ok := s.byProvider[key]; ok {
		existing := s.messages[existingID]
		s.mergeLocked(existing, message, now)
		return s.cloneMessageLocked(existing), false, nil
	}

	message.CreatedAt = now
	message.UpdatedAt = now
	s.messages[message.ID] = message
	s.byProvider[key] = message.ID
	if len(message.Attachments) > 0 {
		s.saveAttachmentsLocked(message.ID, message.Attachments)
	}
	return s.cloneMessageLocked(message), true, nil
}

// mergeLocked 只合并可变字段：已读标记、附件引用、原先为空的正文。
// 身份字段（ID、分配、工单、会话）保持不变。
func (s *Store) mergeLocked(existing, incoming *domain.Message, now time.Time) {
	if incoming.IsRead {
		existing.IsRead = true
	}
	if existing.BodyHTML == "" && incoming.BodyHTML != "" {
		existing.BodyHTML = incoming.BodyHTML
	}
	if existing.BodyText == "" && incoming.BodyText != "" {
		existing.BodyText = incoming.BodyText
	}
	if len(s.attachments[existing.ID]) == 0 && len(incoming.Attachments) > 0 {
		refs := make([]*domain.AttachmentRef, len(incoming.Attachments))
		for i, ref := range incoming.Attachments {
			cloned := *ref
			cloned.MessageID = existing.ID
			refs[i] = &cloned
		}
		s.saveAttachmentsLocked(existing.ID, refs)
		existing.HasAttachments = true
	}
	if incoming.HasAttachments {
		existing.HasAttachments = true
	}
	existing.UpdatedAt = now
}

func (s *Store) saveAttachmentsLocked(messageID string, refs []*domain.AttachmentRef) {
	s.attachments[messageID] = refs
	for _, ref := range refs {
		s.byStorage[ref.StorageKey] = ref
	}
}

// GetMessage 根据 ID 获取邮件。
func (s *Store) GetMessage(id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	message, ok := s.messages[id]
	if !ok {
		return nil, storage.ErrMessageNotFound
	}
	return s.cloneMessageLocked(message), nil
}

// GetMessageByProviderID 根据服务商邮件 ID 获取邮件。
func (s *Store) GetMessageByProviderID(provider, providerMessageID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byProvider[providerKey(provider, providerMessageID)]
	if !ok {
		return nil, storage.ErrMessageNotFound
	}
	return s.cloneMessageLocked(s.messages[id]), nil
}

// ListMessagesByDesk 返回客服组下的邮件，按接收时间倒序分页。
func (s *Store) ListMessagesByDesk(deskID string, limit, offset int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Message, 0)
	for _, m := range s.messages {
		if m.DeskID == deskID {
			result = append(result, *s.cloneMessageLocked(m))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ReceivedAt.After(result[j].ReceivedAt)
	})
	if offset >= len(result) {
		return []domain.Message{}, nil
	}
	result = result[offset:]
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// ListMessagesByConversation 返回会话下的全部邮件，按接收时间升序。
func (s *Store) ListMessagesByConversation(deskID, conversationID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Message, 0)
	for _, m := range s.messages {
		if m.DeskID == deskID && m.ConversationID == conversationID {
			result = append(result, *s.cloneMessageLocked(m))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ReceivedAt.Before(result[j].ReceivedAt)
	})
	return result, nil
}

// ConversationAgent 返回会话中已分配的客服 ID（线程亲和）。
func (s *Store) ConversationAgent(deskID, conversationID string) (*string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.messages {
		if m.DeskID == deskID && m.ConversationID == conversationID && m.AssignedAgentID != nil {
			agentID := *m.AssignedAgentID
			return &agentID, nil
		}
	}
	return nil, nil
}

// SetMessageTicket 更新邮件的工单关联。
func (s *Store) SetMessageTicket(messageID, ticketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	message, ok := s.messages[messageID]
	if !ok {
		return storage.ErrMessageNotFound
	}
	message.TicketID = &ticketID
	message.UpdatedAt = time.Now().UTC()
	return nil
}

// cloneMessageLocked 返回带附件引用的邮件副本，避免调用方持有内部指针。
func (s *Store) cloneMessageLocked(message *domain.Message) *domain.Message {
	cloned := *message
	refs := s.attachments[message.ID]
	if len(refs) > 0 {
		cloned.Attachments = make([]*domain.AttachmentRef, len(refs))
		for i, ref := range refs {
			r := *ref
			cloned.Attachments[i] = &r
		}
	}
	return &cloned
}

// GetAttachmentByKey 根据存储键获取附件引用。
func (s *Store) GetAttachmentByKey(storageKey string) (*domain.AttachmentRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.byStorage[storageKey]
	if !ok {
		return nil, storage.ErrAttachmentNotFound
	}
	cloned := *ref
	return &cloned, nil
}

// ListAttachments 返回邮件的附件引用列表（保持原顺序）。
func (s *Store) ListAttachments(messageID string) ([]*domain.AttachmentRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refs := s.attachments[messageID]
	result := make([]*domain.AttachmentRef, len(refs))
	for i, ref := range refs {
		cloned := *ref
		result[i] = &cloned
	}
	return result, nil
}

// SaveDesk 保存客服组。
func (s *Store) SaveDesk(desk *domain.Desk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.desks[desk.ID] = desk
	if desk.SubscriptionID != "" {
		s.bySub[desk.SubscriptionID] = desk.ID
	}
	return nil
}

// GetDesk 根据 ID 获取客服组。
func (s *Store) GetDesk(id string) (*domain.Desk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	desk, ok := s.desks[id]
	if !ok {
		return nil, storage.ErrDeskNotFound
	}
	cloned := *desk
	return &cloned, nil
}

// GetDeskBySubscriptionID 根据 Webhook 订阅 ID 获取客服组。
func (s *Store) GetDeskBySubscriptionID(subscriptionID string) (*domain.Desk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bySub[subscriptionID]
	if !ok {
		return nil, storage.ErrDeskNotFound
	}
	cloned := *s.desks[id]
	return &cloned, nil
}

// ListDesks 返回全部客服组。
func (s *Store) ListDesks() ([]domain.Desk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Desk, 0, len(s.desks))
	for _, d := range s.desks {
		result = append(result, *d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// SaveAgent 保存客服。
func (s *Store) SaveAgent(agent *domain.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.agents[agent.ID] = agent
	return nil
}

// GetAgent 根据 ID 获取客服。
func (s *Store) GetAgent(id string) (*domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agent, ok := s.agents[id]
	if !ok {
		return nil, storage.ErrAgentNotFound
	}
	cloned := *agent
	return &cloned, nil
}

// ListDeskAgents 返回客服组下的客服，按 ID 升序。
func (s *Store) ListDeskAgents(deskID string) ([]domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Agent, 0)
	for _, a := range s.agents {
		if a.DeskID == deskID {
			result = append(result, *a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// DeleteAgent 删除客服。
func (s *Store) DeleteAgent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[id]; !ok {
		return storage.ErrAgentNotFound
	}
	delete(s.agents, id)
	return nil
}

// GetCursor 获取客服组的分配游标。
func (s *Store) GetCursor(deskID string) (*domain.AssignmentCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cursor, ok := s.cursors[deskID]
	if !ok {
		return nil, storage.ErrCursorNotFound
	}
	cloned := *cursor
	cloned.Roster = append([]string(nil), cursor.Roster...)
	return &cloned, nil
}

// SaveCursor 保存客服组的分配游标。
func (s *Store) SaveCursor(cursor *domain.AssignmentCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cursor.UpdatedAt = time.Now().UTC()
	cloned := *cursor
	cloned.Roster = append([]string(nil), cursor.Roster...)
	s.cursors[cursor.DeskID] = &cloned
	return nil
}

// GetCredential 获取客服组的集成凭据。
func (s *Store) GetCredential(deskID string) (*domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	credential, ok := s.credentials[deskID]
	if !ok {
		return nil, storage.ErrCredentialNotFound
	}
	cloned := *credential
	return &cloned, nil
}

// SaveCredential 保存客服组的集成凭据。
func (s *Store) SaveCredential(credential *domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	credential.UpdatedAt = time.Now().UTC()
	cloned := *credential
	s.credentials[credential.DeskID] = &cloned
	return nil
}

// SaveTicket 保存工单。
func (s *Store) SaveTicket(ticket *domain.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = now
	}
	ticket.UpdatedAt = now
	cloned := *ticket
	s.tickets[ticket.ID] = &cloned
	return nil
}

// GetTicket 根据 ID 获取工单。
func (s *Store) GetTicket(id string) (*domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ticket, ok := s.tickets[id]
	if !ok {
		return nil, storage.ErrTicketNotFound
	}
	cloned := *ticket
	return &cloned, nil
}

// GetOpenTicketByConversation 返回会话对应的打开状态工单。
func (s *Store) GetOpenTicketByConversation(deskID, conversationID string) (*domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tickets {
		if t.DeskID == deskID && t.ConversationID == conversationID && t.Status == domain.TicketStatusOpen {
			cloned := *t
			return &cloned, nil
		}
	}
	return nil, storage.ErrTicketNotFound
}

// GetLatestTicketByConversation 返回会话对应的最新工单（不限状态）。
func (s *Store) GetLatestTicketByConversation(deskID, conversationID string) (*domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Ticket
	for _, t := range s.tickets {
		if t.DeskID != deskID || t.ConversationID != conversationID {
			continue
		}
		if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
			latest = t
		}
	}
	if latest == nil {
		return nil, storage.ErrTicketNotFound
	}
	cloned := *latest
	return &cloned, nil
}

// UpdateTicket 更新工单。
func (s *Store) UpdateTicket(ticket *domain.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tickets[ticket.ID]; !ok {
		return storage.ErrTicketNotFound
	}
	ticket.UpdatedAt = time.Now().UTC()
	cloned := *ticket
	s.tickets[ticket.ID] = &cloned
	return nil
}

// Close 关闭存储（内存实现为空操作）。
func (s *Store) Close() error { return nil }

// Health 检查存储健康状态。
func (s *Store) Health() error { return nil }
