// Package action 提供跨 goroutine 的延迟闭包队列：
// 网络 goroutine 并发 Enqueue，唯一的拥有者 Tick 调用 DrainAndExecuteAll 串行执行。
// 世界/实体状态只允许在被执行的闭包里修改。
package action

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"shadownet/logging"
)

type event struct {
	f  func()
	t0 time.Time
}

// Queue FIFO 闭包队列（无界：背压不在本层处理）
type Queue struct {
	log *zap.SugaredLogger

	mu      sync.Mutex
	pending []event
	spare   []event

	executed atomic.Int64
	panicked atomic.Int64
}

func NewQueue(log *zap.SugaredLogger) *Queue {
	return &Queue{log: logging.Named(log, "action")}
}

// Enqueue 任意 goroutine 可调用；nil 被忽略
func (q *Queue) Enqueue(f func()) {
	if f == nil {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, event{f: f, t0: time.Now()})
	q.mu.Unlock()
}

// Len 当前待执行数量
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// DrainAndExecuteAll 仅由拥有者 Tick 调用：取出截至此刻的全部闭包并按入队顺序执行。
// 单个闭包 panic 会被恢复并记录，不影响其余闭包；执行期间新入队的闭包留到下一次。
// 返回本次执行的数量。
func (q *Queue) DrainAndExecuteAll() int {
	q.mu.Lock()
	batch := q.pending
	q.pending = q.spare[:0]
	q.mu.Unlock()

	for i := range batch {
		q.run(&batch[i])
		batch[i] = event{}
	}

	q.mu.Lock()
	q.spare = batch[:0]
	q.mu.Unlock()

	return len(batch)
}

func (q *Queue) run(evt *event) {
	defer func() {
		if rec := recover(); rec != nil {
			q.panicked.Add(1)
			q.log.Errorf("action recovered from panic: %+v, goQueueWait=%dus", rec, time.Since(evt.t0).Microseconds())
		}
	}()
	q.executed.Add(1)
	evt.f()
}

// Executed 累计执行的闭包数（含 panic 的）
func (q *Queue) Executed() int64 {
	return q.executed.Load()
}

// Panicked 累计 panic 的闭包数
func (q *Queue) Panicked() int64 {
	return q.panicked.Load()
}
