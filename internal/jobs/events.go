package jobs

import (
	"context"
	"sync"
	"time"
)

// EventType 事件类型
type EventType string

const (
	EventCreated  EventType = "created"
	EventStatus   EventType = "status"
	EventProgress EventType = "progress"
	EventDeleted  EventType = "deleted"
)

// Event 带序号的任务事件
type Event struct {
	Seq             uint64        `json:"seq"`
	Timestamp       time.Time     `json:"timestamp"`
	JobID           string        `json:"jobId"`
	Type            EventType     `json:"type"`
	Status          Status        `json:"status,omitempty"`
	Progress        int           `json:"progress"`
	ProcessedChunks int           `json:"processedChunks"`
	TotalChunks     int           `json:"totalChunks"`
	FailureReason   FailureReason `json:"failureReason,omitempty"`
}

// EventBus 保存最近的事件并支持增量读取
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   uint64
	maxEvents int
	events    []Event
	notify    chan struct{}
}

// NewEventBus 创建有界事件缓冲
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
		notify:    make(chan struct{}),
	}
}

// Publish 追加事件并分配序号
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	close(b.notify)
	b.notify = make(chan struct{})
	return event
}

// Since 返回序号大于 seq 的事件
func (b *EventBus) Since(seq uint64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// Wait 阻塞直到有序号大于 seq 的事件或 ctx 结束
func (b *EventBus) Wait(ctx context.Context, seq uint64) ([]Event, error) {
	for {
		b.mu.RLock()
		latest := b.nextSeq
		ch := b.notify
		b.mu.RUnlock()

		if latest > seq {
			return b.Since(seq), nil
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// ObservedStore 在每次提交后发布事件，提交与发布串行执行以保证顺序
type ObservedStore struct {
	Store
	bus *EventBus
	mu  sync.Mutex
}

// NewObservedStore 包装存储
func NewObservedStore(store Store, bus *EventBus) *ObservedStore {
	return &ObservedStore{Store: store, bus: bus}
}

// Bus 返回事件总线
func (o *ObservedStore) Bus() *EventBus {
	return o.bus
}

// Create 创建记录并发布 created 事件
func (o *ObservedStore) Create(ctx context.Context, job *Job) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.Store.Create(ctx, job); err != nil {
		return err
	}
	o.bus.Publish(eventFor(EventCreated, job))
	return nil
}

// Update 提交后按变化类型发布事件
func (o *ObservedStore) Update(ctx context.Context, id string, fn func(*Job) error) (*Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var before Job
	job, err := o.Store.Update(ctx, id, func(j *Job) error {
		before = *j
		return fn(j)
	})
	if err != nil {
		return nil, err
	}

	switch {
	case job.Status != before.Status:
		o.bus.Publish(eventFor(EventStatus, job))
	case job.ProcessedChunks != before.ProcessedChunks || job.TotalChunks != before.TotalChunks:
		o.bus.Publish(eventFor(EventProgress, job))
	}
	return job, nil
}

// Delete 删除记录并发布 deleted 事件
func (o *ObservedStore) Delete(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.Store.Delete(ctx, id); err != nil {
		return err
	}
	o.bus.Publish(Event{JobID: id, Type: EventDeleted})
	return nil
}

func eventFor(t EventType, job *Job) Event {
	return Event{
		JobID:           job.ID,
		Type:            t,
		Status:          job.Status,
		Progress:        job.Progress,
		ProcessedChunks: job.ProcessedChunks,
		TotalChunks:     job.TotalChunks,
		FailureReason:   job.FailureReason,
	}
}
