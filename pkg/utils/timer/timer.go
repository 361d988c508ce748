// 提供周期性定时器管理，回调会拿到距上次触发实际经过的时间，用于驱动传输引擎的Tick
package timer

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
)

// TickFunc 定时器回调，elapsed为距上次触发（或创建）实际经过的时间
type TickFunc func(elapsed time.Duration)

type Timer struct {
	id       string            // 定时器唯一标识
	interval time.Duration     // 触发间隔
	callback TickFunc          // 定时器触发时执行的回调函数
	ticker   clockwork.Ticker  // 底层时钟
	last     time.Time         // 上次触发时间
	stopChan chan struct{}     // 用于停止定时器的信号通道
	once     sync.Once         // 确保Stop操作只执行一次（避免通道重复关闭）
}

func (t *Timer) stop() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.stopChan)
	})
}

type Manager struct {
	mu     sync.RWMutex       // 读写锁，保护timers map的并发访问
	timers map[string]*Timer  // 存储所有定时器，key为定时器ID
	clock  clockwork.Clock    // 时间来源，测试中替换为假时钟
	ctx    context.Context    // 用于通知所有定时器停止的上下文
	cancel context.CancelFunc // 用于触发全局停止的函数
	wg     sync.WaitGroup     // 跟踪运行中的定时器协程
}

type Option func(*Manager)

// WithClock 指定时间来源
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// 创建一个新的定时器管理器
func NewManager(opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		timers: make(map[string]*Timer),
		clock:  clockwork.NewRealClock(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Clock 返回管理器使用的时钟
func (m *Manager) Clock() clockwork.Clock { return m.clock }

// 创建并启动一个周期性定时器
// 参数:
//
//	id: 定时器唯一标识
//	interval: 触发间隔
//	callback: 每次触发时执行的回调函数
//
// 返回: 若ID已存在或管理器已停止则返回错误
func (m *Manager) CreateTimer(id string, interval time.Duration, callback TickFunc) error {
	if interval <= 0 {
		return errors.Errorf("timer %s: invalid interval %v", id, interval)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil {
		return errors.Errorf("timer %s: manager stopped", id)
	}
	if _, exists := m.timers[id]; exists {
		return errors.Errorf("timer %s already exists", id)
	}

	timer := &Timer{
		id:       id,
		interval: interval,
		callback: callback,
		ticker:   m.clock.NewTicker(interval),
		last:     m.clock.Now(),
		stopChan: make(chan struct{}),
	}
	m.timers[id] = timer

	m.wg.Add(1)
	go m.runTimer(timer)
	return nil
}

// RemoveTimer 停止并移除指定ID的定时器
func (m *Manager) RemoveTimer(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	timer, exists := m.timers[id]
	if !exists {
		return errors.Errorf("timer %s not found", id)
	}
	timer.stop()
	delete(m.timers, id)
	return nil
}

// StopAll 停止并移除所有定时器，同时终止管理器
//
// 返回时所有回调都已执行完毕，因此不能在回调中调用。
func (m *Manager) StopAll() {
	m.mu.Lock()
	for id, timer := range m.timers {
		timer.stop()
		delete(m.timers, id)
	}
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()
}

// GetTimerCount 获取当前活跃的定时器数量
func (m *Manager) GetTimerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.timers)
}

// runTimer 周期性定时器的运行逻辑（内部协程函数）
func (m *Manager) runTimer(timer *Timer) {
	defer m.wg.Done()
	for {
		select {
		case <-timer.ticker.Chan():
			now := m.clock.Now()
			elapsed := now.Sub(timer.last)
			timer.last = now
			timer.callback(elapsed)
		case <-timer.stopChan:
			return
		case <-m.ctx.Done():
			return
		}
	}
}
