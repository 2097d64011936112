package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/passivebridge/internal/observability"
	"github.com/harun/passivebridge/internal/tracing"
	"github.com/rs/zerolog"
)

// Built-in lanes.
const (
	// LaneConfig serializes configuration and authentication updates.
	LaneConfig = "config"
	// LaneMain runs everything else with modest parallelism.
	LaneMain = "main"
)

var (
	ErrClosed        = errors.New("command queue closed")
	ErrLaneCleared   = errors.New("lane cleared")
	ErrLaneRestarted = errors.New("task cancelled due to lane restart")
)

// Task is a unit of work run on a lane.
type Task func(ctx context.Context) (interface{}, error)

type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	result     chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

type laneState struct {
	mu          sync.Mutex
	concurrency int
	queue       []*taskRecord
	running     int
}

// CommandQueue provides lane-based task serialization with concurrency control
type CommandQueue struct {
	mu        sync.RWMutex
	lanes     map[string]*laneState
	taskIDSeq int
	closed    bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
}

// New creates a queue with the config lane (one worker) and the main lane.
func New(logger zerolog.Logger) *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	cq := &CommandQueue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With().Str("component", "commandqueue").Logger(),
	}

	cq.lane(LaneConfig, 1)
	cq.lane(LaneMain, 4)
	return cq
}

// lane returns the named lane, creating it with concurrency if needed.
func (cq *CommandQueue) lane(name string, concurrency int) *laneState {
	cq.mu.RLock()
	ls, ok := cq.lanes[name]
	cq.mu.RUnlock()
	if ok {
		return ls
	}

	cq.mu.Lock()
	defer cq.mu.Unlock()
	if ls, ok := cq.lanes[name]; ok {
		return ls
	}
	ls = &laneState{concurrency: concurrency}
	cq.lanes[name] = ls
	cq.logger.Debug().Str("lane", name).Int("concurrency", concurrency).Msg("Lane initialized")
	return ls
}

func (cq *CommandQueue) existing(name string) (*laneState, bool) {
	cq.mu.RLock()
	defer cq.mu.RUnlock()
	ls, ok := cq.lanes[name]
	return ls, ok
}

// Enqueue runs task on lane and waits for its result. Unknown lanes are
// created with a single worker. If ctx ends while the task is still queued
// the task is skipped and ctx's error returned.
func (cq *CommandQueue) Enqueue(ctx context.Context, lane string, task Task) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil, ErrClosed
	}
	cq.taskIDSeq++
	taskID := fmt.Sprintf("%s-%d", lane, cq.taskIDSeq)
	cq.mu.Unlock()

	ls := cq.lane(lane, 1)

	ls.mu.Lock()
	record := &taskRecord{
		id:         taskID,
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		result:     make(chan taskResult, 1),
	}
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	logger := tracing.LoggerFromContext(ctx, cq.logger)
	logger.Debug().
		Str("lane", lane).
		Str("taskId", taskID).
		Int("queueSize", queueSize).
		Msg("Task enqueued")
	observability.RecordQueueEnqueue(lane, queueSize)

	cq.processLane(lane, ls)

	res := <-record.result
	return res.value, res.err
}

func (cq *CommandQueue) processLane(name string, ls *laneState) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]

		if cq.ctx.Err() != nil {
			record.result <- taskResult{err: ErrClosed}
			continue
		}
		if err := record.ctx.Err(); err != nil {
			record.result <- taskResult{err: err}
			continue
		}

		ls.running++
		cq.wg.Add(1)
		go cq.executeTask(name, ls, record)
	}
}

func (cq *CommandQueue) executeTask(name string, ls *laneState, record *taskRecord) {
	defer cq.wg.Done()

	logger := tracing.LoggerFromContext(record.ctx, cq.logger).With().
		Str("lane", name).
		Str("taskId", record.id).
		Logger()

	runCtx, cancel := context.WithCancel(record.ctx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	wait := time.Since(record.enqueuedAt)
	start := time.Now()
	value, err := cq.run(runCtx, record.task)
	duration := time.Since(start)

	ls.mu.Lock()
	ls.running--
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	record.result <- taskResult{value: value, err: err}

	if err != nil {
		logger.Warn().Err(err).Dur("wait", wait).Dur("duration", duration).Msg("Task failed")
	} else {
		logger.Debug().Dur("wait", wait).Dur("duration", duration).Msg("Task completed")
	}
	observability.RecordQueueCompletion(name, duration, err == nil, queueSize)

	cq.processLane(name, ls)
}

func (cq *CommandQueue) run(ctx context.Context, task Task) (value interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panicked: %v", rec)
		}
	}()
	return task(ctx)
}

// QueueSize returns the number of tasks waiting on lane.
func (cq *CommandQueue) QueueSize(lane string) int {
	ls, ok := cq.existing(lane)
	if !ok {
		return 0
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// Running returns the number of tasks executing on lane.
func (cq *CommandQueue) Running(lane string) int {
	ls, ok := cq.existing(lane)
	if !ok {
		return 0
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.running
}

// Stats returns queued, running and concurrency per lane.
func (cq *CommandQueue) Stats() map[string]map[string]int {
	cq.mu.RLock()
	defer cq.mu.RUnlock()

	stats := make(map[string]map[string]int, len(cq.lanes))
	for name, ls := range cq.lanes {
		ls.mu.Lock()
		stats[name] = map[string]int{
			"queued":      len(ls.queue),
			"running":     ls.running,
			"concurrency": ls.concurrency,
		}
		ls.mu.Unlock()
	}
	return stats
}

// ClearLane rejects every queued task on lane with ErrLaneCleared. Running
// tasks are unaffected.
func (cq *CommandQueue) ClearLane(lane string) int {
	return cq.drain(lane, ErrLaneCleared)
}

// ResetLane rejects queued tasks with ErrLaneRestarted.
func (cq *CommandQueue) ResetLane(lane string) int {
	return cq.drain(lane, ErrLaneRestarted)
}

func (cq *CommandQueue) drain(lane string, reason error) int {
	ls, ok := cq.existing(lane)
	if !ok {
		return 0
	}

	ls.mu.Lock()
	queued := ls.queue
	ls.queue = nil
	ls.mu.Unlock()

	for _, record := range queued {
		record.result <- taskResult{err: reason}
	}

	cq.logger.Info().Str("lane", lane).Int("rejected", len(queued)).Err(reason).Msg("Lane drained")
	observability.SetQueueSize(lane, 0)
	return len(queued)
}

// SetConcurrency updates the number of workers for lane.
func (cq *CommandQueue) SetConcurrency(lane string, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	ls := cq.lane(lane, concurrency)

	ls.mu.Lock()
	old := ls.concurrency
	ls.concurrency = concurrency
	ls.mu.Unlock()

	if concurrency > old {
		cq.processLane(lane, ls)
	}
}

// Close rejects queued tasks, cancels running ones and waits for them.
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil
	}
	cq.closed = true
	names := make([]string, 0, len(cq.lanes))
	for name := range cq.lanes {
		names = append(names, name)
	}
	cq.mu.Unlock()

	for _, name := range names {
		cq.drain(name, ErrClosed)
	}
	cq.cancel()
	cq.wg.Wait()
	return nil
}
