package guard

import (
	"sync"
	"time"
)

// FailureKind 区分受保护动作的失败来源，决定是否计入尝试次数。
// 只有服务端明确拒绝（FailureAuth）默认计数；网络/5xx 错误不占用尝试预算。
type FailureKind int

const (
	FailureAuth FailureKind = iota
	FailureTransport
)

// Config 按调用点参数化同一个 Guard：密钥/买家哈希校验用 2 次，
// 房间查找与加入用 3 次。CountTransportErrors 对应旧版脚本把网络错误
// 也计数的行为，默认关闭。
type Config struct {
	MaxAttempts          int
	LockFor              time.Duration
	Tick                 time.Duration
	CountTransportErrors bool
	OnTick               func(remaining int)
	OnUnlock             func()
}

// Guard 为单个受保护动作维护尝试计数与锁定倒计时。
// 它只汇报自身状态；控件因在途请求而禁用属于另一个独立原因，
// 由调用方（dispatcher）合并判断，倒计时结束不会覆盖它。
type Guard struct {
	mu        sync.Mutex
	cfg       Config
	attempts  int
	locked    bool
	remaining int
	stop      chan struct{}
}

func New(cfg Config) *Guard {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.LockFor <= 0 {
		cfg.LockFor = 30 * time.Second
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	return &Guard{cfg: cfg}
}

// Allow 报告受保护动作当前是否可以发起。
func (g *Guard) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.locked
}

// Fail 记录一次失败。达到上限时进入锁定并启动倒计时，返回是否已锁定。
func (g *Guard) Fail(kind FailureKind) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.locked {
		return true
	}
	if kind == FailureTransport && !g.cfg.CountTransportErrors {
		return false
	}
	g.attempts++
	if g.attempts >= g.cfg.MaxAttempts {
		g.lockLocked()
	}
	return g.locked
}

// Success 在动作成功后清零尝试计数。
func (g *Guard) Success() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.locked {
		g.attempts = 0
	}
}

func (g *Guard) Attempts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempts
}

func (g *Guard) Locked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.locked
}

// Remaining 返回锁定剩余秒数，未锁定时为 0。
func (g *Guard) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remaining
}

// Stop 终止倒计时 goroutine，供测试与停机清理。
func (g *Guard) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stop != nil {
		close(g.stop)
		g.stop = nil
	}
}

// lockLocked 进入锁定态。调用方必须已持有 g.mu。
func (g *Guard) lockLocked() {
	g.locked = true
	g.remaining = int(g.cfg.LockFor / time.Second)
	g.stop = make(chan struct{})
	go g.countdown(g.stop)
}

func (g *Guard) countdown(stop chan struct{}) {
	ticker := time.NewTicker(g.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			g.mu.Lock()
			g.remaining--
			remaining := g.remaining
			done := remaining <= 0
			var onTick func(int)
			var onUnlock func()
			if done {
				g.locked = false
				g.attempts = 0
				g.remaining = 0
				g.stop = nil
				onUnlock = g.cfg.OnUnlock
			} else {
				onTick = g.cfg.OnTick
			}
			g.mu.Unlock()
			if onTick != nil {
				onTick(remaining)
			}
			if onUnlock != nil {
				onUnlock()
				return
			}
			if done {
				return
			}
		}
	}
}
