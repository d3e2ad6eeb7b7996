package roomsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/Wawayooo/ONLINE-INVOICING/internal/invoice"
)

// ErrRoomNotFound 表示房间句柄无效，渲染侧据此直接中止而不是画空房间。
var ErrRoomNotFound = errors.New("room not found")

// APIError 是后端的显式拒绝（非 2xx 响应）。网络层失败不会包成 APIError，
// 调用方可以据此区分"认证失败"与"传输失败"。
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Client 是协商房间的同步客户端，持有 cookie jar 以维持 CSRF 会话。
type Client struct {
	base string
	http *http.Client
}

func NewClient(base string) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Jar: jar, Timeout: 15 * time.Second},
	}
}

// Party 是房间内一方的公开资料。
type Party struct {
	Fullname    string `json:"fullname"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	SocialMedia string `json:"social_media"`
}

// Identity 声明调用方在房间里的身份。买家必须持有加入时下发的 hash。
type Identity struct {
	Role      invoice.Actor
	BuyerHash string
}

// RoomView 是拉取并鉴权后的房间视图。买家身份不通过时
// Authorized 为 false 且 Invoice 被抹掉，调用方不得渲染发票内容。
type RoomView struct {
	RoomHash        string
	IsBuyerAssigned bool
	Seller          *Party
	Buyer           *Party
	Invoice         *invoice.Detail
	Authorized      bool
}

type buyerPayload struct {
	Party
	BuyerHash string `json:"buyer_hash"`
}

type roomPayload struct {
	RoomHash        string          `json:"room_hash"`
	IsBuyerAssigned bool            `json:"is_buyer_assigned"`
	Seller          *Party          `json:"seller"`
	Buyer           *buyerPayload   `json:"buyer"`
	Invoice         json.RawMessage `json:"invoice"`
}

// LoadRoom 拉取房间详情并做买家授权判定：身份 hash 必须与房间登记的
// hash 完全一致，否则视图降级（发票不可见）。卖家视图不做该判定。
func (c *Client) LoadRoom(ctx context.Context, roomHash string, id Identity) (*RoomView, error) {
	var payload roomPayload
	if err := c.getJSON(ctx, "/api/room/"+roomHash+"/", &payload); err != nil {
		return nil, err
	}

	view := &RoomView{
		RoomHash:        payload.RoomHash,
		IsBuyerAssigned: payload.IsBuyerAssigned,
		Seller:          payload.Seller,
		Authorized:      true,
	}
	if payload.Buyer != nil {
		p := payload.Buyer.Party
		view.Buyer = &p
	}
	if id.Role == invoice.ActorBuyer {
		view.Authorized = payload.Buyer != nil &&
			id.BuyerHash != "" &&
			payload.Buyer.BuyerHash == id.BuyerHash
	}
	if view.Authorized && len(payload.Invoice) > 0 && string(payload.Invoice) != "null" {
		d, err := invoice.ParseJSON(payload.Invoice)
		if err != nil {
			return nil, err
		}
		view.Invoice = d
	}
	return view, nil
}

type actionResult struct {
	Invoice json.RawMessage `json:"invoice"`
}

// Approve / Disapprove / MarkPaid 提交买家动作，成功时返回
// 后端迁移后的权威发票，调用方必须用它整体替换本地状态。
func (c *Client) Approve(ctx context.Context, roomHash, buyerHash string) (*invoice.Detail, error) {
	return c.buyerAction(ctx, roomHash, "approve", buyerHash)
}

func (c *Client) Disapprove(ctx context.Context, roomHash, buyerHash string) (*invoice.Detail, error) {
	return c.buyerAction(ctx, roomHash, "disapprove", buyerHash)
}

func (c *Client) MarkPaid(ctx context.Context, roomHash, buyerHash string) (*invoice.Detail, error) {
	return c.buyerAction(ctx, roomHash, "mark-paid", buyerHash)
}

func (c *Client) buyerAction(ctx context.Context, roomHash, action, buyerHash string) (*invoice.Detail, error) {
	body, _ := json.Marshal(map[string]string{"buyer_hash": buyerHash})
	var result actionResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/buyer/"+roomHash+"/"+action+"/", body, &result); err != nil {
		return nil, err
	}
	return invoice.ParseJSON(result.Invoice)
}

type editResult struct {
	Invoice json.RawMessage `json:"invoice"`
}

// EditInvoice 提交卖家改票。路由按发票形状二选一，与后端两个编辑入口对应。
func (c *Client) EditInvoice(ctx context.Context, roomHash string, d *invoice.Detail) (*invoice.Detail, error) {
	w := d.Wire()
	body, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	path := "/api/seller/" + roomHash + "/edit-single-invoice/"
	if d.Kind == invoice.KindMulti {
		path = "/api/seller/" + roomHash + "/edit-invoice/"
	}
	var result editResult
	if err := c.doJSON(ctx, http.MethodPut, path, body, &result); err != nil {
		return nil, err
	}
	return invoice.ParseJSON(result.Invoice)
}

// ConfirmResult 是卖家确认收款的响应，finalized 后必须跳转凭证页。
type ConfirmResult struct {
	InvoiceStatus string `json:"invoice_status"`
	RedirectURL   string `json:"redirect_url"`
}

func (c *Client) ConfirmPayment(ctx context.Context, roomHash string) (*ConfirmResult, error) {
	var result ConfirmResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/seller/"+roomHash+"/confirm-payment/", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// JoinForm 是买家加入表单。
type JoinForm struct {
	Fullname    string
	Email       string
	Phone       string
	SocialMedia string
}

// JoinResult 含一次性下发的 buyer hash，调用方应立即落本地缓存。
type JoinResult struct {
	BuyerHash   string `json:"buyer_hash"`
	RedirectURL string `json:"redirect_url"`
}

// JoinRoom 买家加入房间。房间已被占用时后端回 403，
// 包装为 APIError 交给上层提示。
func (c *Client) JoinRoom(ctx context.Context, roomHash string, form JoinForm) (*JoinResult, error) {
	values := url.Values{}
	values.Set("fullname", form.Fullname)
	values.Set("email", form.Email)
	values.Set("phone", form.Phone)
	values.Set("social_media", form.SocialMedia)
	var result JoinResult
	if err := c.postForm(ctx, "/api/buyer/"+roomHash+"/join/", values, "", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FetchCSRF 获取 CSRF token，同时让 cookie jar 收下配套 cookie。
func (c *Client) FetchCSRF(ctx context.Context) (string, error) {
	var payload struct {
		Token string `json:"csrf_token"`
	}
	if err := c.getJSON(ctx, "/csrf", &payload); err != nil {
		return "", err
	}
	return payload.Token, nil
}

// AuthResult 是卖家认证两步里每一步的响应。
type AuthResult struct {
	Success     bool   `json:"success"`
	RedirectURL string `json:"redirect_url"`
	NextStep    string `json:"next_step"`
	RoomToken   string `json:"room_token"`
}

// AuthenticateSeller 第一步：密钥认证。csrfToken 必须先经 FetchCSRF 取得。
func (c *Client) AuthenticateSeller(ctx context.Context, secretKey, csrfToken string) (*AuthResult, error) {
	values := url.Values{}
	values.Set("secret_key", secretKey)
	var result AuthResult
	if err := c.postForm(ctx, "/seller_authenticate/", values, csrfToken, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AuthenticateRoom 第二步：房间句柄校验。
func (c *Client) AuthenticateRoom(ctx context.Context, roomHash, csrfToken string) (*AuthResult, error) {
	values := url.Values{}
	values.Set("room_hash", roomHash)
	var result AuthResult
	if err := c.postForm(ctx, "/seller_room_authenticate/", values, csrfToken, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.send(req, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, out)
}

func (c *Client) postForm(ctx context.Context, path string, values url.Values, csrfToken string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, strings.NewReader(values.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if csrfToken != "" {
		req.Header.Set("X-CSRF-Token", csrfToken)
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrRoomNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(data))
		var body struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &body) == nil && body.Error != "" {
			msg = body.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
