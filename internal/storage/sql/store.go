package sql

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"helpdesk/backend/internal/domain"
	"helpdesk/backend/internal/storage"
)

// Store SQL 数据库存储实现（支持 MySQL 5.7+ 和 PostgreSQL）。
//
// messages 表在 (provider, provider_message_id) 上建有唯一索引，
// 是 Webhook 与轮询两条摄取路径竞争时的最终仲裁：
// 应用层的"先查后插"只是优化，真正的去重由 UpsertMessage
// 的 ON CONFLICT 写入保证。
type Store struct {
	db         *sql.DB
	gormDB     *gorm.DB
	driverName string // "mysql" or "postgres"
}

// NewStore 创建 SQL 数据库存储。
func NewStore(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Store, error) {
	// 验证驱动类型
	if driverName != "mysql" && driverName != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	// 打开数据库连接
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 设置连接池参数
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	// 测试连接
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var gormDB *gorm.DB
	if driverName == "mysql" {
		gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: db}), gormConfig)
	} else {
		gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: db}), gormConfig)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	store := &Store{
		db:         db,
		gormDB:     gormDB,
		driverName: driverName,
	}

	// 自动执行数据库迁移
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health 检查数据库健康状态。
func (s *Store) Health() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.Ping()
}

// migrate 执行数据库迁移（使用 GORM AutoMigrate）。
func (s *Store) migrate() error {
	return s.gormDB.AutoMigrate(
		&domain.Desk{},
		&domain.Agent{},
		&domain.Message{},
		&domain.AttachmentRef{},
		&domain.AssignmentCursor{},
		&domain.Credential{},
		&domain.Ticket{},
	)
}

// UpsertMessage 以 (provider, provider_message_id) 为去重键写入邮件。
//
// 先尝试 ON CONFLICT DO NOTHING 插入；RowsAffected 为 0 表示该
// 服务商邮件 ID 已存在（包括并发写入输掉唯一索引竞争的情况），
// 此时在同一事务内只合并可变字段并保持原行身份不变。
func (s *Store) UpsertMessage(message *domain.Message) (*domain.Message, bool, error) {
	var (
		result  *domain.Message
		created bool
	)

	err := s.gormDB.Transaction(func(tx *gorm.DB) error {
		attachments := message.Attachments
		insert := *message
		insert.Attachments = nil

		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_message_id"}},
			DoNothing: true,
		}).Create(&insert)
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected > 0 {
			created = true
			for _, ref := range attachments {
				ref.MessageID = insert.ID
				if err := tx.Create(ref).Error; err != nil {
					return err
				}
			}
			insert.Attachments = attachments
			result = &insert
			return nil
		}

		// 冲突：重复投递或输掉并发竞争，折叠为合并更新
		var existing domain.Message
		if err := tx.Where("provider = ? AND provider_message_id = ?",
			message.Provider, message.ProviderMessageID).First(&existing).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if message.IsRead && !existing.IsRead {
			updates["is_read"] = true
		}
		if existing.BodyHTML == "" && message.BodyHTML != "" {
			updates["body_html"] = message.BodyHTML
		}
		if existing.BodyText == "" && message.BodyText != "" {
			updates["body_text"] = message.BodyText
		}

		var refCount int64
		if err := tx.Model(&domain.AttachmentRef{}).
			Where("message_id = ?", existing.ID).Count(&refCount).Error; err != nil {
			return err
		}
		if refCount == 0 && len(attachments) > 0 {
			for _, ref := range attachments {
				ref.MessageID = existing.ID
				if err := tx.Create(ref).Error; err != nil {
					return err
				}
			}
			updates["has_attachments"] = true
		}

		if len(updates) > 0 {
			if err := tx.Model(&existing).Updates(updates).Error; err != nil {
				return err
			}
		}

		refs, err := listAttachmentsTx(tx, existing.ID)
		if err != nil {
			return err
		}
		existing.Attachments = refs
		result = &existing
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

// GetMessage 根据 ID 获取邮件（含附件引用）。
func (s *Store) GetMessage(id string) (*domain.Message, error) {
	var message domain.Message
	if err := s.gormDB.Where("id = ?", id).First(&message).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, storage.ErrMessageNotFound
		}
		return nil, err
	}
	refs, err := listAttachmentsTx(s.gormDB, message.ID)
	if err != nil {
		return nil, err
	}
	message.Attachments = refs
	return &message, nil
}

// GetMessageByProviderID 根据服务商邮件 ID 获取邮件。
func (s *Store) GetMessageByProviderID(provider, providerMessageID string) (*domain.Message, error) {
	var message domain.Message
	err := s.gormDB.Where("provider = ? AND provider_message_id = ?",
		provider, providerMessageID).First(&message).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, storage.ErrMessageNotFound
		}
		return nil, err
	}
	refs, err := listAttachmentsTx(s.gormDB, message.ID)
	if err != nil {
		return nil, err
	}
	message.Attachments = refs
	return &message, nil
}

// ListMessagesByDesk 返回客服组下的邮件，按接收时间倒序分页。
func (s *Store) ListMessagesByDesk(deskID string, limit, offset int) ([]domain.Message, error) {
	var messages []domain.Message
	query := s.gormDB.Where("desk_id = ?", deskID).Order("received_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

// ListMessagesByConversation 返回会话下的全部邮件，按接收时间升序。
func (s *Store) ListMessagesByConversation(deskID, conversationID string) ([]domain.Message, error) {
	var messages []domain.Message
	err := s.gormDB.Where("desk_id = ? AND conversation_id = ?", deskID, conversationID).
		Order("received_at ASC").Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// ConversationAgent 返回会话中已分配的客服 ID（线程亲和）。
func (s *Store) ConversationAgent(deskID, conversationID string) (*string, error) {
	var message domain.Message
	err := s.gormDB.Where("desk_id = ? AND conversation_id = ? AND assigned_agent_id IS NOT NULL",
		deskID, conversationID).Order("created_at ASC").First(&message).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return message.AssignedAgentID, nil
}

// SetMessageTicket 更新邮件的工单关联。
func (s *Store) SetMessageTicket(messageID, ticketID string) error {
	res := s.gormDB.Model(&domain.Message{}).Where("id = ?", messageID).
		Update("ticket_id", ticketID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrMessageNotFound
	}
	return nil
}

func listAttachmentsTx(tx *gorm.DB, messageID string) ([]*domain.AttachmentRef, error) {
	var refs []*domain.AttachmentRef
	err := tx.Where("message_id = ?", messageID).Order("position ASC").Find(&refs).Error
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// GetAttachmentByKey 根据存储键获取附件引用。
func (s *Store) GetAttachmentByKey(storageKey string) (*domain.AttachmentRef, error) {
	var ref domain.AttachmentRef
	if err := s.gormDB.Where("storage_key = ?", storageKey).First(&ref).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, storage.ErrAttachmentNotFound
		}
		return nil, err
	}
	return &ref, nil
}

// ListAttachments 返回邮件的附件引用列表。
func (s *Store) ListAttachments(messageID string) ([]*domain.AttachmentRef, error) {
	return listAttachmentsTx(s.gormDB, messageID)
}

// SaveDesk 保存客服组。
func (s *Store) SaveDesk(desk *domain.Desk) error {
	return s.gormDB.Save(desk).Error
}

// GetDesk 根据 ID 获取客服组。
func (s *Store) GetDesk(id string) (*domain.Desk, error) {
	var desk domain.Desk
	if err := s.gormDB.Where("id = ?", id).First(&desk).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, storage.ErrDeskNotFound
		}
		return nil, err
	}
	return &desk, nil
}

// GetDeskBySubscriptionID 根据 Webhook 订阅 ID 获取客服组。
func (s *Store) GetDeskBySubscriptionID(subscriptionID string) (*domain.Desk, error) {
	var desk domain.Desk
	if err := s.gormDB.Where("subscription_id = ?", subscriptionID).First(&desk).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, storage.ErrDeskNotFound
		}
		return nil, err
	}
	return &desk, nil
}

// ListDesks 返回全部客服组。
func (s *Store) ListDesks() ([]domain.Desk, error) {
	var desks []domain.Desk
	if err := s.gormDB.Order("id ASC").Find(&desks).Error; err != nil {
		return nil, err
	}
	return desks, nil
}

// SaveAgent 保存客服。
func (s *Store) SaveAgent(agent *domain.Agent) error {
	return s.gormDB.Save(agent).Error
}

// GetAgent 根据 ID 获取客服。
func (s *Store) GetAgent(id string) (*domain.Agent, error) {
	var agent domain.Agent
	if err := s.gormDB.Where("id = ?", id).First(&agent).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, storage.ErrAgentNotFound
		}
		return nil, err
	}
	return &agent, nil
}

// ListDeskAgents 返回客服组下的客服，按 ID 升序。
func (s *Store) ListDeskAgents(deskID string) ([]domain.Agent, error) {
	var agents []domain.Agent
	if err := s.gormDB.Where("desk_id = ?", deskID).Order("id ASC").Find(&agents).Error; err != nil {
		return nil, err
	}
	return agents, nil
}

// DeleteAgent 删除客服。
func (s *Store) DeleteAgent(id string) error {
	res := s.gormDB.Where("id = ?", id).Delete(&domain.Agent{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrAgentNotFound
	}
	return nil
}

// GetCursor 获取客服组的分配游标。
func (s *Store) GetCursor(deskID string) (*domain.AssignmentCursor, error) {
	var cursor domain.AssignmentCursor
	if err := s.gormDB.Where("desk_id = ?", deskID).First(&cursor).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, storage.ErrCursorNotFound
		}
		return nil, err
	}
	return &cursor, nil
}

// SaveCursor 保存客服组的分配游标。
func (s *Store) SaveCursor(cursor *domain.AssignmentCursor) error {
	cursor.UpdatedAt = time.Now().UTC()
	return s.gormDB.Save(cursor).Error
}

// GetCredential 获取客服组的集成凭据。
func (s *Store) GetCredential(deskID string) (*domain.Credential, error) {
	var credential domain.Credential
	if err := s.gormDB.Where("desk_id = ?", deskID).First(&credential).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, storage.ErrCredentialNotFound
		}
		return nil, err
	}
	return &credential, nil
}

// SaveCredential 保存客服组的集成凭据。
func (s *Store) SaveCredential(credential *domain.Credential) error {
	credential.UpdatedAt = time.Now().UTC()
	return s.gormDB.Save(credential).Error
}

// SaveTicket 保存工单。
func (s *Store) SaveTicket(ticket *domain.Ticket) error {
	return s.gormDB.Save(ticket).Error
}

// GetTicket 根据 ID 获取工单。
func (s *Store) GetTicket(id string) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := s.gormDB.Where("id = ?", id).First(&ticket).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, storage.ErrTicketNotFound
		}
		return nil, err
	}
	return &ticket, nil
}

// GetOpenTicketByConversation 返回会话对应的打开状态工单。
func (s *Store) GetOpenTicketByConversation(deskID, conversationID string) (*domain.Ticket, error) {
	var ticket domain.Ticket
	err := s.gormDB.Where("desk_id = ? AND conversation_id = ? AND status = ?",
		deskID, conversationID, domain.TicketStatusOpen).First(&ticket).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, storage.ErrTicketNotFound
		}
		return nil, err
	}
	return &ticket, nil
}

// GetLatestTicketByConversation 返回会话对应的最新工单（不限状态）。
func (s *Store) GetLatestTicketByConversation(deskID, conversationID string) (*domain.Ticket, error) {
	var ticket domain.Ticket
	err := s.gormDB.Where("desk_id = ? AND conversation_id = ?", deskID, conversationID).
		Order("created_at DESC").First(&ticket).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, storage.ErrTicketNotFound
		}
		return nil, err
	}
	return &ticket, nil
}

// UpdateTicket 更新工单。
func (s *Store) UpdateTicket(ticket *domain.Ticket) error {
	ticket.UpdatedAt = time.Now().UTC()
	res := s.gormDB.Model(&domain.Ticket{}).Where("id = ?", ticket.ID).Updates(ticket)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrTicketNotFound
	}
	return nil
}
