package dispatch

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Wawayooo/ONLINE-INVOICING/internal/config"
	"github.com/Wawayooo/ONLINE-INVOICING/internal/guard"
	"github.com/Wawayooo/ONLINE-INVOICING/internal/invoice"
	"github.com/Wawayooo/ONLINE-INVOICING/internal/roomsync"

	"github.com/rs/zerolog/log"
)

// API 是 dispatcher 依赖的后端调用面，由 roomsync.Client 实现。
type API interface {
	Approve(ctx context.Context, roomHash, buyerHash string) (*invoice.Detail, error)
	Disapprove(ctx context.Context, roomHash, buyerHash string) (*invoice.Detail, error)
	MarkPaid(ctx context.Context, roomHash, buyerHash string) (*invoice.Detail, error)
	EditInvoice(ctx context.Context, roomHash string, d *invoice.Detail) (*invoice.Detail, error)
	ConfirmPayment(ctx context.Context, roomHash string) (*roomsync.ConfirmResult, error)
	JoinRoom(ctx context.Context, roomHash string, form roomsync.JoinForm) (*roomsync.JoinResult, error)
	FetchCSRF(ctx context.Context) (string, error)
	AuthenticateSeller(ctx context.Context, secretKey, csrfToken string) (*roomsync.AuthResult, error)
	AuthenticateRoom(ctx context.Context, roomHash, csrfToken string) (*roomsync.AuthResult, error)
}

// Confirmer 在危险动作前向用户要一次确认。
type Confirmer interface {
	Confirm(prompt string) bool
}

// Notifier 把锁定、倒计时等提示透出给 UI。
type Notifier interface {
	Notify(message string)
}

// guard 调用点名称。每个受保护动作有独立的尝试预算。
const (
	SiteSecretKey = "secret_key"
	SiteBuyerHash = "buyer_hash"
	SiteRoomLook  = "room_lookup"
	SiteRoomJoin  = "room_join"
)

// Dispatcher 把所有可变更动作收口到一个入口：同一时刻只允许一个请求在途，
// 受保护动作另受各自 guard 的尝试预算约束。两个禁用原因彼此独立，
// guard 解锁不会打断在途请求，请求结束也不会解除锁定。
type Dispatcher struct {
	api     API
	cfg     config.Config
	confirm Confirmer
	notify  Notifier

	mu     sync.Mutex
	busy   bool
	csrf   string
	guards map[string]*guard.Guard
}

func New(api API, cfg config.Config, confirm Confirmer, notify Notifier) *Dispatcher {
	return &Dispatcher{
		api:     api,
		cfg:     cfg,
		confirm: confirm,
		notify:  notify,
		guards:  make(map[string]*guard.Guard),
	}
}

// guardFor 懒建调用点对应的 guard。密钥与买家 hash 校验给 2 次机会，
// 房间查找与加入给 3 次。
func (d *Dispatcher) guardFor(site string) *guard.Guard {
	d.mu.Lock()
	defer d.mu.Unlock()
	if g, ok := d.guards[site]; ok {
		return g
	}
	max := d.cfg.AuthMaxAttempts
	if site == SiteRoomLook || site == SiteRoomJoin {
		max = d.cfg.JoinMaxAttempts
	}
	g := guard.New(guard.Config{
		MaxAttempts:          max,
		LockFor:              d.cfg.LockoutDuration(),
		CountTransportErrors: d.cfg.CountTransportErrors,
		OnUnlock: func() {
			d.notify.Notify("You can try again now.")
		},
	})
	d.guards[site] = g
	return g
}

// GuardState 供 UI 渲染剩余尝试次数与倒计时。
type GuardState struct {
	Attempts  int
	Locked    bool
	Remaining int
}

func (d *Dispatcher) GuardStatus(site string) GuardState {
	g := d.guardFor(site)
	return GuardState{Attempts: g.Attempts(), Locked: g.Locked(), Remaining: g.Remaining()}
}

// Busy 报告是否有请求在途。
func (d *Dispatcher) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busy
}

// begin 占用在途槽位。任何出口（成功、拒绝、网络失败）都必须走 end
// 把交互还回去，所以全部入口统一用 defer。
func (d *Dispatcher) begin() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.busy {
		return ErrBusy
	}
	d.busy = true
	return nil
}

func (d *Dispatcher) end() {
	d.mu.Lock()
	d.busy = false
	d.mu.Unlock()
}

// Stop 停掉所有 guard 的倒计时 goroutine。
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, g := range d.guards {
		g.Stop()
	}
}

// Approve / Disapprove / MarkPaid 买家动作。后端 401 视为买家身份
// 校验失败并计入 buyer_hash guard 的尝试预算。
func (d *Dispatcher) Approve(ctx context.Context, roomHash, buyerHash string) (*invoice.Detail, error) {
	return d.buyerAction(ctx, roomHash, buyerHash, d.api.Approve)
}

func (d *Dispatcher) Disapprove(ctx context.Context, roomHash, buyerHash string) (*invoice.Detail, error) {
	return d.buyerAction(ctx, roomHash, buyerHash, d.api.Disapprove)
}

func (d *Dispatcher) MarkPaid(ctx context.Context, roomHash, buyerHash string) (*invoice.Detail, error) {
	if !d.confirm.Confirm("Mark this invoice as paid?") {
		return nil, ErrCancelled
	}
	return d.buyerAction(ctx, roomHash, buyerHash, d.api.MarkPaid)
}

func (d *Dispatcher) buyerAction(ctx context.Context, roomHash, buyerHash string, fn func(context.Context, string, string) (*invoice.Detail, error)) (*invoice.Detail, error) {
	g := d.guardFor(SiteBuyerHash)
	if !g.Allow() {
		return nil, ErrLockedOut
	}
	if err := d.begin(); err != nil {
		return nil, err
	}
	defer d.end()

	detail, err := fn(ctx, roomHash, buyerHash)
	if err != nil {
		d.recordFailure(g, SiteBuyerHash, err)
		return nil, err
	}
	g.Success()
	return detail, nil
}

// EditInvoice 卖家改票。提交前用状态机判定可编辑性：
// 只有 draft / negotiating 两个状态放行，其余直接拒绝不发请求。
// 字段校验也在本地先做，校验不过同样不发请求。
func (d *Dispatcher) EditInvoice(ctx context.Context, roomHash string, current invoice.Status, detail *invoice.Detail) (*invoice.Detail, error) {
	if !invoice.ControlsFor(current).SellerFormEditable {
		return nil, ErrFormLocked
	}
	if err := invoice.ValidateFields(detail, time.Now()); err != nil {
		return nil, err
	}
	if err := d.begin(); err != nil {
		return nil, err
	}
	defer d.end()
	return d.api.EditInvoice(ctx, roomHash, detail)
}

// ConfirmPayment 卖家确认收款。不可逆，先过一次确认。
func (d *Dispatcher) ConfirmPayment(ctx context.Context, roomHash string) (*roomsync.ConfirmResult, error) {
	if !d.confirm.Confirm("Confirm receipt of payment? This finalizes the invoice.") {
		return nil, ErrCancelled
	}
	if err := d.begin(); err != nil {
		return nil, err
	}
	defer d.end()
	return d.api.ConfirmPayment(ctx, roomHash)
}

// JoinRoom 买家加入。房间占用/不存在的拒绝计入 room_join guard。
func (d *Dispatcher) JoinRoom(ctx context.Context, roomHash string, form roomsync.JoinForm) (*roomsync.JoinResult, error) {
	g := d.guardFor(SiteRoomJoin)
	if !g.Allow() {
		return nil, ErrLockedOut
	}
	if err := d.begin(); err != nil {
		return nil, err
	}
	defer d.end()

	result, err := d.api.JoinRoom(ctx, roomHash, form)
	if err != nil {
		d.recordFailure(g, SiteRoomJoin, err)
		return nil, err
	}
	g.Success()
	return result, nil
}

// VerifyBuyerHash 本地比对买家出示的 hash 与缓存凭证。
// 不一致计入 buyer_hash guard，与后端 401 共享同一份预算。
func (d *Dispatcher) VerifyBuyerHash(presented, cached string) error {
	g := d.guardFor(SiteBuyerHash)
	if !g.Allow() {
		return ErrLockedOut
	}
	if cached == "" || presented != cached {
		if g.Fail(guard.FailureAuth) {
			d.notify.Notify("Too many failed attempts. Please wait before trying again.")
		}
		return errors.New("buyer hash mismatch")
	}
	g.Success()
	return nil
}

// AuthenticateSeller 卖家密钥认证。没有 CSRF token 就硬停；
// 密钥强度先本地校验（不占尝试预算），确认后才真正提交。
func (d *Dispatcher) AuthenticateSeller(ctx context.Context, secretKey string) (*roomsync.AuthResult, error) {
	token, err := d.csrfToken(ctx)
	if err != nil {
		return nil, err
	}
	if err := invoice.ValidateSecretKey(secretKey); err != nil {
		return nil, err
	}
	if !d.confirm.Confirm("Proceed with seller authentication?") {
		return nil, ErrCancelled
	}

	g := d.guardFor(SiteSecretKey)
	if !g.Allow() {
		return nil, ErrLockedOut
	}
	if err := d.begin(); err != nil {
		return nil, err
	}
	defer d.end()

	result, err := d.api.AuthenticateSeller(ctx, secretKey, token)
	if err != nil {
		d.recordFailure(g, SiteSecretKey, err)
		return nil, err
	}
	g.Success()
	return result, nil
}

// AuthenticateRoom 卖家房间句柄校验，未知房间计入 room_lookup guard。
func (d *Dispatcher) AuthenticateRoom(ctx context.Context, roomHash string) (*roomsync.AuthResult, error) {
	token, err := d.csrfToken(ctx)
	if err != nil {
		return nil, err
	}

	g := d.guardFor(SiteRoomLook)
	if !g.Allow() {
		return nil, ErrLockedOut
	}
	if err := d.begin(); err != nil {
		return nil, err
	}
	defer d.end()

	result, err := d.api.AuthenticateRoom(ctx, roomHash, token)
	if err != nil {
		d.recordFailure(g, SiteRoomLook, err)
		return nil, err
	}
	g.Success()
	return result, nil
}

// csrfToken 返回缓存的 token，第一次用时才去取。取不到视为硬性失败。
func (d *Dispatcher) csrfToken(ctx context.Context) (string, error) {
	d.mu.Lock()
	token := d.csrf
	d.mu.Unlock()
	if token != "" {
		return token, nil
	}
	token, err := d.api.FetchCSRF(ctx)
	if err != nil || token == "" {
		log.Warn().Err(err).Msg("fetch csrf token")
		return "", ErrNoCSRF
	}
	d.mu.Lock()
	d.csrf = token
	d.mu.Unlock()
	return token, nil
}

// recordFailure 只把可归因于凭证的拒绝计入尝试预算。
func (d *Dispatcher) recordFailure(g *guard.Guard, site string, err error) {
	kind, counted := classify(site, err)
	if !counted {
		return
	}
	if g.Fail(kind) {
		d.notify.Notify("Too many failed attempts. Please wait before trying again.")
	}
}

// classify 判定失败来源与是否计数：401/403 一律是凭证拒绝；
// 404 只在房间查找/加入场景计数（查不到房间就是这次尝试被拒）。
// 其余 4xx（校验失败、状态冲突等）与凭证无关，不占预算；
// 网络错误与 5xx 归为传输失败，由 guard 按配置决定是否计数。
func classify(site string, err error) (guard.FailureKind, bool) {
	if errors.Is(err, roomsync.ErrRoomNotFound) {
		return guard.FailureAuth, site == SiteRoomLook || site == SiteRoomJoin
	}
	var apiErr *roomsync.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized, apiErr.StatusCode == http.StatusForbidden:
			return guard.FailureAuth, true
		case apiErr.StatusCode >= 500:
			return guard.FailureTransport, true
		default:
			return guard.FailureAuth, false
		}
	}
	return guard.FailureTransport, true
}
