package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/huangang/taskhub/backend/internal/config"
	"github.com/huangang/taskhub/backend/pkg/logger"
)

const (
	TaskTypeMembershipEvent = "membership:event"
)

const (
	ActionProjectCreated       = "project_created"
	ActionProjectDeleted       = "project_deleted"
	ActionMemberJoined         = "member_joined"
	ActionRoleAssigned         = "role_assigned"
	ActionMemberKicked         = "member_kicked"
	ActionMemberLeft           = "member_left"
	ActionShareLinkCreated     = "share_link_created"
	ActionShareLinkDeleted     = "share_link_deleted"
	ActionShareLinkDeactivated = "share_link_deactivated"
)

// MembershipEvent describes a committed change to who can access a project.
type MembershipEvent struct {
	Action       string    `json:"action"`
	ProjectID    uint      `json:"project_id"`
	ActorID      uint      `json:"actor_id"`
	TargetUserID uint      `json:"target_user_id,omitempty"`
	Role         string    `json:"role,omitempty"`
	ShareLinkID  uint      `json:"share_link_id,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// EventProcessor handles one event, e.g. by writing an audit row.
type EventProcessor func(context.Context, *MembershipEvent) error

// TaskQueue delivers membership events to their processor.
type TaskQueue interface {
	Enqueue(ev *MembershipEvent) error
	// IsAsync returns true if events are processed out of band
	IsAsync() bool
	Close() error
}

// NewTaskQueue returns a Redis-backed queue when enabled and reachable,
// otherwise a SyncQueue calling processor directly.
func NewTaskQueue(cfg *config.RedisConfig, processor EventProcessor) TaskQueue {
	if cfg.Enabled {
		queue, err := NewAsyncQueue(cfg)
		if err == nil {
			logger.Infof("[TaskQueue] Async queue initialized with Redis at %s", cfg.Addr)
			return queue
		}
		logger.Warnf("[TaskQueue] Redis unavailable, falling back to sync mode: %v", err)
	} else {
		logger.Infof("[TaskQueue] Sync queue initialized (Redis disabled)")
	}
	q := NewSyncQueue()
	q.SetProcessor(processor)
	return q
}

// AsyncQueue implements TaskQueue using asynq (Redis-based)
type AsyncQueue struct {
	client *asynq.Client
}

func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	client := asynq.NewClient(redisOpt)

	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client}, nil
}

func (q *AsyncQueue) Enqueue(ev *MembershipEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	info, err := q.client.Enqueue(asynq.NewTask(TaskTypeMembershipEvent, payload),
		asynq.Queue("audit"),
		asynq.MaxRetry(5),
	)
	if err != nil {
		return err
	}

	logger.Debug().Str("task_id", info.ID).Str("action", ev.Action).Msg("membership event enqueued")
	return nil
}

func (q *AsyncQueue) IsAsync() bool {
	return true
}

func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// SyncQueue implements TaskQueue without Redis. Events are processed on the
// caller's goroutine, after the caller's transaction has committed.
type SyncQueue struct {
	processor EventProcessor
}

func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

func (q *SyncQueue) SetProcessor(processor EventProcessor) {
	q.processor = processor
}

func (q *SyncQueue) Enqueue(ev *MembershipEvent) error {
	if q.processor == nil {
		logger.Warnf("[SyncQueue] no processor set, event %s dropped", ev.Action)
		return nil
	}
	return q.processor(context.Background(), ev)
}

func (q *SyncQueue) IsAsync() bool {
	return false
}

func (q *SyncQueue) Close() error {
	return nil
}
