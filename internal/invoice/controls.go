package invoice

// Actor 是触发状态迁移的角色。
type Actor string

const (
	ActorBuyer  Actor = "buyer"
	ActorSeller Actor = "seller"
)

// Action 是状态机定义的动作集合。
type Action string

const (
	ActionApprove        Action = "approve"
	ActionDisapprove     Action = "disapprove"
	ActionEdit           Action = "edit"
	ActionMarkPaid       Action = "mark-paid"
	ActionConfirmPayment Action = "confirm-payment"
)

// 状态标签文案，UI 必须原样复现。
const (
	LabelDisapproved = "DISAPPROVED"
	LabelApproved    = "APPROVED"
	LabelPaid        = "PAID (Awaiting Seller Confirmation)"
)

// ControlState 描述某个状态下各控件的可见/可用情况。
// 它是 ControlsFor 的纯函数输出，未知状态得到零值（不显示任何控件，不崩溃）。
type ControlState struct {
	ShowApprove          bool
	ShowDisapprove       bool
	ShowMarkPaid         bool
	PrefillPaymentMethod bool
	ShowConfirmPayment   bool
	SellerFormEditable   bool
	NotifySeller         bool
	Label                string
	RedirectToProof      bool
}

// ControlsFor 把发票状态映射为控件可见性，是渲染的唯一入口。
func ControlsFor(s Status) ControlState {
	switch s {
	case StatusDraft:
		return ControlState{
			ShowApprove:        true,
			ShowDisapprove:     true,
			SellerFormEditable: true,
		}
	case StatusNegotiating:
		return ControlState{
			SellerFormEditable: true,
			NotifySeller:       true,
			Label:              LabelDisapproved,
		}
	case StatusPending:
		return ControlState{
			ShowMarkPaid:         true,
			PrefillPaymentMethod: true,
			Label:                LabelApproved,
		}
	case StatusUnconfirmedPayment:
		return ControlState{
			ShowConfirmPayment: true,
			Label:              LabelPaid,
		}
	case StatusFinalized:
		return ControlState{RedirectToProof: true}
	}
	return ControlState{}
}

type transition struct {
	action Action
	actor  Actor
}

// 状态迁移表：线性推进加一个协商分支。
// 买家在卖家改完价后仍可从 negotiating 直接 approve。
var transitions = map[Status]map[transition]Status{
	StatusDraft: {
		{ActionApprove, ActorBuyer}:    StatusPending,
		{ActionDisapprove, ActorBuyer}: StatusNegotiating,
		{ActionEdit, ActorSeller}:      StatusDraft,
	},
	StatusNegotiating: {
		{ActionApprove, ActorBuyer}: StatusPending,
		{ActionEdit, ActorSeller}:   StatusDraft,
	},
	StatusPending: {
		{ActionMarkPaid, ActorBuyer}: StatusUnconfirmedPayment,
	},
	StatusUnconfirmedPayment: {
		{ActionConfirmPayment, ActorSeller}: StatusFinalized,
	},
}

// CanTransition 报告 actor 在 from 状态下执行 action 是否合法，
// 合法时返回目标状态。
func CanTransition(from Status, action Action, actor Actor) (Status, bool) {
	to, ok := transitions[from][transition{action, actor}]
	return to, ok
}
