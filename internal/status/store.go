// Package status 维护邮件投递状态的进程内存储。
//
// 条目只增不删，进程存活期间持续累积；不做持久化，
// 重启后状态全部丢失（这是有意保留的设计限制）。
package status

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/om-surushe/SMTP-Server/internal/domain"
)

// ErrStatusNotFound 表示指定的消息标识不存在。
var ErrStatusNotFound = errors.New("email status not found")

// Store 是全局唯一的状态表，所有会话共享。
//
// 所有读写都在同一把锁下完成，read-modify-write 全程持锁，
// 并发更新不会丢失；读取只返回快照副本，不暴露内部指针。
type Store struct {
	mu       sync.RWMutex
	statuses map[string]*domain.EmailStatus
	hostname string
}

// NewStore 创建状态存储。hostname 用于生成消息标识的后缀。
func NewStore(hostname string) *Store {
	if hostname == "" {
		hostname = "localhost"
	}
	return &Store{
		statuses: make(map[string]*domain.EmailStatus),
		hostname: hostname,
	}
}

// Create 新建一条 queued 状态的记录并返回其快照。
func (s *Store) Create(recipients []string, subject string) *domain.EmailStatus {
	now := time.Now().UTC()
	entry := &domain.EmailStatus{
		ID:         s.newMessageID(),
		State:      domain.StateQueued,
		Recipients: append([]string(nil), recipients...),
		Subject:    subject,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	s.mu.Lock()
	s.statuses[entry.ID] = entry
	s.mu.Unlock()

	return entry.Clone()
}

// Update 原地更新一条记录的状态。
//
// 未知标识返回 ErrStatusNotFound，绝不隐式创建条目。
// errMsg 和 details 为空时保留原值。
func (s *Store) Update(id string, state domain.EmailState, errMsg string, details map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.statuses[id]
	if !ok {
		return ErrStatusNotFound
	}

	entry.State = state
	entry.UpdatedAt = time.Now().UTC()
	if errMsg != "" {
		entry.Error = errMsg
	}
	if details != nil {
		if entry.Details == nil {
			entry.Details = make(map[string]any, len(details))
		}
		for k, v := range details {
			entry.Details[k] = v
		}
	}

	return nil
}

// Get 返回一条记录的不可变快照。
func (s *Store) Get(id string) (*domain.EmailStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.statuses[id]
	if !ok {
		return nil, ErrStatusNotFound
	}
	return entry.Clone(), nil
}

// Len 返回当前记录总数。
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.statuses)
}

// Counts 按状态统计记录数。
func (s *Store) Counts() map[domain.EmailState]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.EmailState]int)
	for _, entry := range s.statuses {
		counts[entry.State]++
	}
	return counts
}

// newMessageID 生成 <random-hex>@<host> 形式的全局唯一消息标识。
func (s *Store) newMessageID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return hex + "@" + s.hostname
}
