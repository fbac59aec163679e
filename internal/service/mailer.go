package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/om-surushe/SMTP-Server/internal/domain"
	"github.com/om-surushe/SMTP-Server/internal/monitoring"
	"github.com/om-surushe/SMTP-Server/internal/parser"
	"github.com/om-surushe/SMTP-Server/internal/pool"
	"github.com/om-surushe/SMTP-Server/internal/status"
)

var (
	// ErrNoRecipients 没有任何收件人
	ErrNoRecipients = errors.New("message has no recipients")
	// ErrEmptySender 缺少发件人
	ErrEmptySender = errors.New("message has no sender")
	// ErrQueueFull 投递队列已满
	ErrQueueFull = errors.New("submission queue is full")
)

// Forwarder 上游投递接口
type Forwarder interface {
	Forward(ctx context.Context, msg *domain.ParsedMessage) error
}

// MailerService 邮件网关核心服务
//
// 串联解析、状态记录与上游投递。SMTP 入站走同步管道，
// HTTP 提交经协程池异步投递。
type MailerService struct {
	forwarder      Forwarder
	store          *status.Store
	pool           *pool.WorkerPool
	metrics        *monitoring.Metrics
	log            *zap.Logger
	forwardTimeout time.Duration
}

// NewMailerService 创建邮件网关服务
func NewMailerService(forwarder Forwarder, store *status.Store, workerPool *pool.WorkerPool, metrics *monitoring.Metrics, log *zap.Logger, forwardTimeout time.Duration) *MailerService {
	if forwardTimeout <= 0 {
		forwardTimeout = 30 * time.Second
	}
	return &MailerService{
		forwarder:      forwarder,
		store:          store,
		pool:           workerPool,
		metrics:        metrics,
		log:            log,
		forwardTimeout: forwardTimeout,
	}
}

// HandleInbound 处理 SMTP 入站邮件
//
// 解析原始报文、登记状态并同步投递。返回的 id 无论投递
// 成功与否都有效，可用于查询最终状态。
func (s *MailerService) HandleInbound(ctx context.Context, raw []byte, peer string) (string, error) {
	msg, err := parser.Parse(raw, peer)
	if err != nil {
		s.metrics.RecordMessageFailed("parse")
		s.log.Warn("邮件解析失败",
			zap.String("peer", peer),
			zap.Int("size", len(raw)),
			zap.Error(err),
		)
		return "", fmt.Errorf("parse message: %w", err)
	}

	s.metrics.RecordMessageReceived(msg.RawSize)

	entry := s.store.Create(msg.EnvelopeRecipients(), msg.Subject)
	s.log.Info("接收入站邮件",
		zap.String("id", entry.ID),
		zap.String("from", msg.Sender()),
		zap.Strings("to", msg.EnvelopeRecipients()),
		zap.String("peer", peer),
		zap.Int64("size", msg.RawSize),
	)

	if err := s.deliver(ctx, entry.ID, msg); err != nil {
		return entry.ID, err
	}
	return entry.ID, nil
}

// SubmitInput HTTP 提交邮件的输入参数
type SubmitInput struct {
	From    string   `json:"from" binding:"required"`
	To      []string `json:"to" binding:"required,min=1"`
	Cc      []string `json:"cc"`
	Bcc     []string `json:"bcc"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
	HTML    string   `json:"html"`
}

// Submit 受理 HTTP 提交的邮件并异步投递
//
// 立即返回消息标识，投递结果通过 Status 查询。
func (s *MailerService) Submit(input SubmitInput) (string, error) {
	if strings.TrimSpace(input.From) == "" {
		return "", ErrEmptySender
	}

	msg := &domain.ParsedMessage{
		From:    []string{input.From},
		To:      input.To,
		Cc:      input.Cc,
		Bcc:     input.Bcc,
		Subject: input.Subject,
		Text:    input.Text,
		HTML:    input.HTML,
	}
	if len(msg.EnvelopeRecipients()) == 0 {
		return "", ErrNoRecipients
	}

	entry := s.store.Create(msg.EnvelopeRecipients(), msg.Subject)

	err := s.pool.Submit(func(ctx context.Context) {
		// 状态通过 store 回写，提交方不关心这里的返回值
		_ = s.deliver(ctx, entry.ID, msg)
		s.metrics.UpdateQueuePending(s.pool.Pending())
	})
	if err != nil {
		s.metrics.RecordMessageRejected("queue_full")
		if updateErr := s.store.Update(entry.ID, domain.StateFailed, "submission queue is full", nil); updateErr != nil {
			s.log.Error("状态更新失败", zap.String("id", entry.ID), zap.Error(updateErr))
		}
		return entry.ID, ErrQueueFull
	}

	s.metrics.UpdateQueuePending(s.pool.Pending())
	s.log.Info("受理 HTTP 提交",
		zap.String("id", entry.ID),
		zap.String("from", input.From),
		zap.Strings("to", msg.EnvelopeRecipients()),
	)
	return entry.ID, nil
}

// Status 查询单封邮件的投递状态
func (s *MailerService) Status(id string) (*domain.EmailStatus, error) {
	return s.store.Get(id)
}

// Overview 网关状态概览
type Overview struct {
	Total  int                       `json:"total"`
	States map[domain.EmailState]int `json:"states"`
}

// StatusOverview 返回按状态汇总的概览
func (s *MailerService) StatusOverview() Overview {
	return Overview{
		Total:  s.store.Len(),
		States: s.store.Counts(),
	}
}

// deliver 执行一次尽力而为的投递并回写状态。
func (s *MailerService) deliver(ctx context.Context, id string, msg *domain.ParsedMessage) error {
	if err := s.store.Update(id, domain.StateSending, "", nil); err != nil {
		s.log.Error("状态更新失败", zap.String("id", id), zap.Error(err))
	}

	forwardCtx, cancel := context.WithTimeout(ctx, s.forwardTimeout)
	defer cancel()

	started := time.Now()
	if err := s.forwarder.Forward(forwardCtx, msg); err != nil {
		s.metrics.RecordMessageFailed("forward")
		s.log.Warn("投递失败",
			zap.String("id", id),
			zap.Strings("to", msg.EnvelopeRecipients()),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err),
		)
		if updateErr := s.store.Update(id, domain.StateFailed, err.Error(), nil); updateErr != nil {
			s.log.Error("状态更新失败", zap.String("id", id), zap.Error(updateErr))
		}
		return fmt.Errorf("forward message: %w", err)
	}

	elapsed := time.Since(started)
	s.metrics.RecordMessageForwarded(elapsed)
	s.log.Info("投递成功",
		zap.String("id", id),
		zap.Strings("to", msg.EnvelopeRecipients()),
		zap.Duration("elapsed", elapsed),
	)

	details := map[string]any{
		"forward_elapsed_ms": elapsed.Milliseconds(),
	}
	if err := s.store.Update(id, domain.StateSent, "", details); err != nil {
		s.log.Error("状态更新失败", zap.String("id", id), zap.Error(err))
	}
	return nil
}
