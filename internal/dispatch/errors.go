package dispatch

import "errors"

var (
	// ErrBusy 表示已有请求在途。busy 与 guard 锁定是两个独立的禁用原因，
	// 互不覆盖。
	ErrBusy = errors.New("another action is in flight")

	// ErrLockedOut 表示该动作的 guard 正处于锁定倒计时中。
	ErrLockedOut = errors.New("too many attempts, action temporarily locked")

	// ErrFormLocked 表示当前发票状态不允许卖家编辑。
	ErrFormLocked = errors.New("invoice is not editable in its current status")

	// ErrNoCSRF 表示拿不到 CSRF token，认证流程必须硬停。
	ErrNoCSRF = errors.New("csrf token unavailable")

	// ErrCancelled 表示用户在确认环节放弃了动作。
	ErrCancelled = errors.New("action cancelled")
)
