package service

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"helpdesk/backend/internal/domain"
	"helpdesk/backend/internal/storage"
)

// AssignmentEngine 对新会话做确定性的轮转客服分配。
//
// 游标的读-改-写经组级互斥锁串行化，保证并发摄取下
// 同一客服组的分配顺序仍然是严格轮转的。
// 会话内的后续邮件走线程亲和（见 Ingestor），不会再进入本引擎。
type AssignmentEngine struct {
	cursors storage.CursorRepository
	agents  storage.AgentRepository
	logger  *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // deskID -> lock
}

// NewAssignmentEngine 创建分配引擎。
func NewAssignmentEngine(cursors storage.CursorRepository, agents storage.AgentRepository, logger *zap.Logger) *AssignmentEngine {
	return &AssignmentEngine{
		cursors: cursors,
		agents:  agents,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

// AssignNext 为客服组的下一个新会话选择客服。
//
// 规则：
//   - 名单为空返回 nil（邮件以未分配状态落库）
//   - 游标无历史时取名单第一位
//   - 上次分配的客服仍在名单中时取其下一位（越界回到 0）
//   - 上次分配的客服已被移出名单时回到 0
//   - 选中的客服必须仍存在于权威客服集且处于激活状态，
//     否则沿名单顺延到第一个有效客服；全部无效返回 nil
//
// 选定后把新游标值持久化再返回。
func (e *AssignmentEngine) AssignNext(deskID string) (*string, error) {
	lock := e.deskLock(deskID)
	lock.Lock()
	defer lock.Unlock()

	cursor, err := e.loadCursor(deskID)
	if err != nil {
		return nil, err
	}

	roster := cursor.Roster
	if len(roster) == 0 {
		return nil, nil
	}

	// 从上次分配位置推进；上次的客服不在名单中则回到起点
	start := 0
	if cursor.LastAgentID != nil {
		if i := indexOf(roster, *cursor.LastAgentID); i >= 0 {
			start = (i + 1) % len(roster)
		}
	}

	// 沿名单寻找第一个仍然有效的客服
	for k := 0; k < len(roster); k++ {
		candidate := roster[(start+k)%len(roster)]
		agent, err := e.agents.GetAgent(candidate)
		if err != nil {
			if errors.Is(err, storage.ErrAgentNotFound) {
				e.logger.Debug("roster agent no longer exists, skipping",
					zap.String("desk_id", deskID),
					zap.String("agent_id", candidate),
				)
				continue
			}
			return nil, err
		}
		if !agent.IsActive {
			continue
		}

		cursor.LastAgentID = &candidate
		if err := e.cursors.SaveCursor(cursor); err != nil {
			return nil, err
		}
		return &candidate, nil
	}

	// 名单中没有任何有效客服
	return nil, nil
}

// loadCursor 读取游标；尚未创建时用当前激活客服构建初始名单。
func (e *AssignmentEngine) loadCursor(deskID string) (*domain.AssignmentCursor, error) {
	cursor, err := e.cursors.GetCursor(deskID)
	if err == nil {
		return cursor, nil
	}
	if !errors.Is(err, storage.ErrCursorNotFound) {
		return nil, err
	}

	agents, err := e.agents.ListDeskAgents(deskID)
	if err != nil {
		return nil, err
	}
	roster := make([]string, 0, len(agents))
	for _, a := range agents {
		if a.IsActive {
			roster = append(roster, a.ID)
		}
	}
	return &domain.AssignmentCursor{DeskID: deskID, Roster: roster}, nil
}

func (e *AssignmentEngine) deskLock(deskID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.locks[deskID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[deskID] = lock
	}
	return lock
}

func indexOf(roster []string, agentID string) int {
	for i, id := range roster {
		if id == agentID {
			return i
		}
	}
	return -1
}
