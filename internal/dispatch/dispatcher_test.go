package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Wawayooo/ONLINE-INVOICING/internal/config"
	"github.com/Wawayooo/ONLINE-INVOICING/internal/invoice"
	"github.com/Wawayooo/ONLINE-INVOICING/internal/roomsync"
)

// fakeAPI lets each test script the backend's behavior per method.
type fakeAPI struct {
	approveFn    func(ctx context.Context, roomHash, buyerHash string) (*invoice.Detail, error)
	editFn       func(ctx context.Context, roomHash string, d *invoice.Detail) (*invoice.Detail, error)
	confirmFn    func(ctx context.Context, roomHash string) (*roomsync.ConfirmResult, error)
	joinFn       func(ctx context.Context, roomHash string, form roomsync.JoinForm) (*roomsync.JoinResult, error)
	csrfFn       func(ctx context.Context) (string, error)
	authSellerFn func(ctx context.Context, secretKey, csrfToken string) (*roomsync.AuthResult, error)
	authRoomFn   func(ctx context.Context, roomHash, csrfToken string) (*roomsync.AuthResult, error)
	approveCalls int
	authCalls    int
	editCalls    int
	mu           sync.Mutex
}

var errNotScripted = errors.New("not scripted")

func (f *fakeAPI) Approve(ctx context.Context, roomHash, buyerHash string) (*invoice.Detail, error) {
	f.mu.Lock()
	f.approveCalls++
	f.mu.Unlock()
	if f.approveFn == nil {
		return nil, errNotScripted
	}
	return f.approveFn(ctx, roomHash, buyerHash)
}

func (f *fakeAPI) Disapprove(ctx context.Context, roomHash, buyerHash string) (*invoice.Detail, error) {
	return f.Approve(ctx, roomHash, buyerHash)
}

func (f *fakeAPI) MarkPaid(ctx context.Context, roomHash, buyerHash string) (*invoice.Detail, error) {
	return f.Approve(ctx, roomHash, buyerHash)
}

func (f *fakeAPI) EditInvoice(ctx context.Context, roomHash string, d *invoice.Detail) (*invoice.Detail, error) {
	f.mu.Lock()
	f.editCalls++
	f.mu.Unlock()
	if f.editFn == nil {
		return nil, errNotScripted
	}
	return f.editFn(ctx, roomHash, d)
}

func (f *fakeAPI) ConfirmPayment(ctx context.Context, roomHash string) (*roomsync.ConfirmResult, error) {
	if f.confirmFn == nil {
		return nil, errNotScripted
	}
	return f.confirmFn(ctx, roomHash)
}

func (f *fakeAPI) JoinRoom(ctx context.Context, roomHash string, form roomsync.JoinForm) (*roomsync.JoinResult, error) {
	if f.joinFn == nil {
		return nil, errNotScripted
	}
	return f.joinFn(ctx, roomHash, form)
}

func (f *fakeAPI) FetchCSRF(ctx context.Context) (string, error) {
	if f.csrfFn == nil {
		return "tok-1", nil
	}
	return f.csrfFn(ctx)
}

func (f *fakeAPI) AuthenticateSeller(ctx context.Context, secretKey, csrfToken string) (*roomsync.AuthResult, error) {
	f.mu.Lock()
	f.authCalls++
	f.mu.Unlock()
	if f.authSellerFn == nil {
		return nil, errNotScripted
	}
	return f.authSellerFn(ctx, secretKey, csrfToken)
}

func (f *fakeAPI) AuthenticateRoom(ctx context.Context, roomHash, csrfToken string) (*roomsync.AuthResult, error) {
	if f.authRoomFn == nil {
		return nil, errNotScripted
	}
	return f.authRoomFn(ctx, roomHash, csrfToken)
}

type yesConfirmer struct{}

func (yesConfirmer) Confirm(string) bool { return true }

type noConfirmer struct{}

func (noConfirmer) Confirm(string) bool { return false }

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(message string) {
	n.mu.Lock()
	n.messages = append(n.messages, message)
	n.mu.Unlock()
}

func testConfig() config.Config {
	return config.Config{AuthMaxAttempts: 2, JoinMaxAttempts: 3, LockoutSeconds: 30}
}

func newTestDispatcher(api API) (*Dispatcher, *recordingNotifier) {
	n := &recordingNotifier{}
	return New(api, testConfig(), yesConfirmer{}, n), n
}

func TestDispatcher_ApproveReturnsServerState(t *testing.T) {
	api := &fakeAPI{
		approveFn: func(ctx context.Context, roomHash, buyerHash string) (*invoice.Detail, error) {
			return &invoice.Detail{Kind: invoice.KindSingle, Status: invoice.StatusPending}, nil
		},
	}
	d, _ := newTestDispatcher(api)
	defer d.Stop()

	detail, err := d.Approve(context.Background(), "abc123", "hash-1")
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if detail.Status != invoice.StatusPending {
		t.Errorf("Approve() status = %q, want pending", detail.Status)
	}
	if cs := invoice.ControlsFor(detail.Status); cs.Label != invoice.LabelApproved {
		t.Errorf("label after approve = %q, want %q", cs.Label, invoice.LabelApproved)
	}
	if d.Busy() {
		t.Error("Busy() = true after request finished, want false")
	}
}

func TestDispatcher_SecondRequestWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	api := &fakeAPI{
		approveFn: func(ctx context.Context, roomHash, buyerHash string) (*invoice.Detail, error) {
			close(started)
			<-release
			return &invoice.Detail{Status: invoice.StatusPending}, nil
		},
	}
	d, _ := newTestDispatcher(api)
	defer d.Stop()

	done := make(chan error, 1)
	go func() {
		_, err := d.Approve(context.Background(), "abc123", "hash-1")
		done <- err
	}()
	<-started

	if _, err := d.Disapprove(context.Background(), "abc123", "hash-1"); !errors.Is(err, ErrBusy) {
		t.Errorf("second action error = %v, want ErrBusy", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first action error = %v", err)
	}
	// The slot is released once the in-flight request completes.
	if d.Busy() {
		t.Error("Busy() = true after completion, want false")
	}
}

func TestDispatcher_BuyerHashLockoutAfterTwoRejections(t *testing.T) {
	api := &fakeAPI{
		approveFn: func(ctx context.Context, roomHash, buyerHash string) (*invoice.Detail, error) {
			return nil, &roomsync.APIError{StatusCode: 401, Message: "unauthorized"}
		},
	}
	d, n := newTestDispatcher(api)
	defer d.Stop()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := d.Approve(ctx, "abc123", "bad-hash"); err == nil {
			t.Fatal("Approve() with bad hash should fail")
		}
	}

	if _, err := d.Approve(ctx, "abc123", "bad-hash"); !errors.Is(err, ErrLockedOut) {
		t.Errorf("third attempt error = %v, want ErrLockedOut", err)
	}
	if got := api.approveCalls; got != 2 {
		t.Errorf("backend saw %d calls, want 2 (locked attempt must not reach the network)", got)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.messages) == 0 {
		t.Error("lockout should notify the user")
	}
}

func TestDispatcher_TransportErrorsDoNotConsumeBudget(t *testing.T) {
	api := &fakeAPI{
		approveFn: func(ctx context.Context, roomHash, buyerHash string) (*invoice.Detail, error) {
			return nil, errors.New("dial tcp: connection refused")
		},
	}
	d, _ := newTestDispatcher(api)
	defer d.Stop()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := d.Approve(ctx, "abc123", "hash-1"); err == nil {
			t.Fatal("Approve() should surface the transport error")
		}
	}
	if st := d.GuardStatus(SiteBuyerHash); st.Locked || st.Attempts != 0 {
		t.Errorf("GuardStatus() = %+v, want unlocked with zero attempts", st)
	}
}

func TestDispatcher_ServerErrorsTreatedAsTransport(t *testing.T) {
	api := &fakeAPI{
		approveFn: func(ctx context.Context, roomHash, buyerHash string) (*invoice.Detail, error) {
			return nil, &roomsync.APIError{StatusCode: 502, Message: "bad gateway"}
		},
	}
	d, _ := newTestDispatcher(api)
	defer d.Stop()

	for i := 0; i < 3; i++ {
		_, _ = d.Approve(context.Background(), "abc123", "hash-1")
	}
	if st := d.GuardStatus(SiteBuyerHash); st.Locked {
		t.Errorf("GuardStatus() locked after 5xx errors, want unlocked")
	}
}

func TestDispatcher_NonCredentialRejectionsDoNotConsumeBudget(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"validation rejection", 400},
		{"stale state conflict", 409},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{
				approveFn: func(ctx context.Context, roomHash, buyerHash string) (*invoice.Detail, error) {
					return nil, &roomsync.APIError{StatusCode: tt.status, Message: "rejected"}
				},
			}
			d, _ := newTestDispatcher(api)
			defer d.Stop()

			// Well past the 2-attempt limit; none of these are credential failures.
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				if _, err := d.Approve(ctx, "abc123", "hash-1"); errors.Is(err, ErrLockedOut) {
					t.Fatalf("attempt %d locked out", i+1)
				}
			}
			if st := d.GuardStatus(SiteBuyerHash); st.Locked || st.Attempts != 0 {
				t.Errorf("GuardStatus() = %+v, want unlocked with zero attempts", st)
			}
			if api.approveCalls != 3 {
				t.Errorf("backend saw %d calls, want 3", api.approveCalls)
			}
		})
	}
}

func TestDispatcher_RoomNotFoundCountsOnlyForLookupSites(t *testing.T) {
	api := &fakeAPI{
		approveFn: func(ctx context.Context, roomHash, buyerHash string) (*invoice.Detail, error) {
			return nil, roomsync.ErrRoomNotFound
		},
		joinFn: func(ctx context.Context, roomHash string, form roomsync.JoinForm) (*roomsync.JoinResult, error) {
			return nil, roomsync.ErrRoomNotFound
		},
	}
	d, _ := newTestDispatcher(api)
	defer d.Stop()

	ctx := context.Background()
	// A vanished room says nothing about the buyer's credential.
	for i := 0; i < 3; i++ {
		_, _ = d.Approve(ctx, "gone", "hash-1")
	}
	if st := d.GuardStatus(SiteBuyerHash); st.Locked || st.Attempts != 0 {
		t.Errorf("buyer hash GuardStatus() = %+v, want unlocked with zero attempts", st)
	}

	// Joining an unknown room is the guarded rejection for that site.
	_, _ = d.JoinRoom(ctx, "gone", roomsync.JoinForm{Fullname: "Bob"})
	if st := d.GuardStatus(SiteRoomJoin); st.Attempts != 1 {
		t.Errorf("room join GuardStatus() attempts = %d, want 1", st.Attempts)
	}
}

func TestDispatcher_AuthenticateSeller_NoCSRFHardStop(t *testing.T) {
	api := &fakeAPI{
		csrfFn: func(ctx context.Context) (string, error) {
			return "", errors.New("connection refused")
		},
	}
	d, _ := newTestDispatcher(api)
	defer d.Stop()

	_, err := d.AuthenticateSeller(context.Background(), "Str0ng!Key")
	if !errors.Is(err, ErrNoCSRF) {
		t.Fatalf("AuthenticateSeller() error = %v, want ErrNoCSRF", err)
	}
	if api.authCalls != 0 {
		t.Error("authentication must not be attempted without a CSRF token")
	}
}

func TestDispatcher_AuthenticateSeller_WeakKeyRejectedLocally(t *testing.T) {
	api := &fakeAPI{}
	d, _ := newTestDispatcher(api)
	defer d.Stop()

	_, err := d.AuthenticateSeller(context.Background(), "weak")
	var errs invoice.FieldErrors
	if !errors.As(err, &errs) {
		t.Fatalf("AuthenticateSeller() error = %T, want FieldErrors", err)
	}
	if api.authCalls != 0 {
		t.Error("weak key must be rejected before any network call")
	}
	// Local validation failures do not consume the attempt budget.
	if st := d.GuardStatus(SiteSecretKey); st.Attempts != 0 {
		t.Errorf("GuardStatus() attempts = %d, want 0", st.Attempts)
	}
}

func TestDispatcher_AuthenticateSeller_Lockout(t *testing.T) {
	api := &fakeAPI{
		authSellerFn: func(ctx context.Context, secretKey, csrfToken string) (*roomsync.AuthResult, error) {
			return nil, &roomsync.APIError{StatusCode: 401, Message: "invalid secret key"}
		},
	}
	d, _ := newTestDispatcher(api)
	defer d.Stop()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := d.AuthenticateSeller(ctx, "Wr0ng!Key"); err == nil {
			t.Fatal("AuthenticateSeller() should fail")
		}
	}
	if _, err := d.AuthenticateSeller(ctx, "Wr0ng!Key"); !errors.Is(err, ErrLockedOut) {
		t.Errorf("third attempt error = %v, want ErrLockedOut", err)
	}
	if api.authCalls != 2 {
		t.Errorf("backend saw %d auth calls, want 2", api.authCalls)
	}
}

func TestDispatcher_ConfirmDeclinedCancelsAction(t *testing.T) {
	api := &fakeAPI{}
	d := New(api, testConfig(), noConfirmer{}, &recordingNotifier{})
	defer d.Stop()

	if _, err := d.MarkPaid(context.Background(), "abc123", "hash-1"); !errors.Is(err, ErrCancelled) {
		t.Errorf("MarkPaid() error = %v, want ErrCancelled", err)
	}
	if _, err := d.ConfirmPayment(context.Background(), "abc123"); !errors.Is(err, ErrCancelled) {
		t.Errorf("ConfirmPayment() error = %v, want ErrCancelled", err)
	}
	if api.approveCalls != 0 {
		t.Error("declined confirmation must not reach the backend")
	}
}

func TestDispatcher_EditBlockedOutsideEditableStatuses(t *testing.T) {
	api := &fakeAPI{
		editFn: func(ctx context.Context, roomHash string, d *invoice.Detail) (*invoice.Detail, error) {
			return &invoice.Detail{Status: invoice.StatusDraft}, nil
		},
	}
	d, _ := newTestDispatcher(api)
	defer d.Stop()

	detail := &invoice.Detail{
		Kind:          invoice.KindSingle,
		InvoiceDate:   "2026-01-10",
		Description:   "Logo design work",
		Quantity:      1,
		UnitPrice:     150,
		PaymentMethod: "cash",
	}
	ctx := context.Background()

	for _, status := range []invoice.Status{invoice.StatusPending, invoice.StatusUnconfirmedPayment, invoice.StatusFinalized, invoice.Status("bogus")} {
		if _, err := d.EditInvoice(ctx, "abc123", status, detail); !errors.Is(err, ErrFormLocked) {
			t.Errorf("EditInvoice(%q) error = %v, want ErrFormLocked", status, err)
		}
	}
	if api.editCalls != 0 {
		t.Error("locked form must not reach the backend")
	}

	for _, status := range []invoice.Status{invoice.StatusDraft, invoice.StatusNegotiating} {
		if _, err := d.EditInvoice(ctx, "abc123", status, detail); err != nil {
			t.Errorf("EditInvoice(%q) error = %v, want nil", status, err)
		}
	}
}

func TestDispatcher_EditValidatedBeforeDispatch(t *testing.T) {
	api := &fakeAPI{
		editFn: func(ctx context.Context, roomHash string, d *invoice.Detail) (*invoice.Detail, error) {
			return &invoice.Detail{Status: invoice.StatusDraft}, nil
		},
	}
	d, _ := newTestDispatcher(api)
	defer d.Stop()

	bad := &invoice.Detail{
		Kind:          invoice.KindSingle,
		InvoiceDate:   "2999-01-01",
		Description:   "Logo design work",
		Quantity:      0,
		PaymentMethod: "cash",
	}
	_, err := d.EditInvoice(context.Background(), "abc123", invoice.StatusDraft, bad)
	var errs invoice.FieldErrors
	if !errors.As(err, &errs) {
		t.Fatalf("EditInvoice() error = %T, want FieldErrors", err)
	}
	if api.editCalls != 0 {
		t.Errorf("backend saw %d edit calls, want 0 (invalid fields must be blocked locally)", api.editCalls)
	}
}

func TestDispatcher_JoinRoomBudget(t *testing.T) {
	api := &fakeAPI{
		joinFn: func(ctx context.Context, roomHash string, form roomsync.JoinForm) (*roomsync.JoinResult, error) {
			return nil, &roomsync.APIError{StatusCode: 403, Message: "room occupied"}
		},
	}
	d, _ := newTestDispatcher(api)
	defer d.Stop()

	ctx := context.Background()
	// Joining gets a 3-attempt budget, one more than the auth sites.
	for i := 0; i < 3; i++ {
		if _, err := d.JoinRoom(ctx, "abc123", roomsync.JoinForm{Fullname: "Bob"}); errors.Is(err, ErrLockedOut) {
			t.Fatalf("attempt %d locked out early", i+1)
		}
	}
	if _, err := d.JoinRoom(ctx, "abc123", roomsync.JoinForm{Fullname: "Bob"}); !errors.Is(err, ErrLockedOut) {
		t.Errorf("fourth attempt error = %v, want ErrLockedOut", err)
	}
}

func TestDispatcher_VerifyBuyerHash(t *testing.T) {
	d, _ := newTestDispatcher(&fakeAPI{})
	defer d.Stop()

	if err := d.VerifyBuyerHash("hash-1", "hash-1"); err != nil {
		t.Errorf("VerifyBuyerHash() matching error = %v, want nil", err)
	}
	if err := d.VerifyBuyerHash("wrong", "hash-1"); err == nil {
		t.Error("VerifyBuyerHash() mismatch should fail")
	}
	if err := d.VerifyBuyerHash("wrong", "hash-1"); err == nil {
		t.Error("VerifyBuyerHash() mismatch should fail")
	}
	if err := d.VerifyBuyerHash("hash-1", "hash-1"); !errors.Is(err, ErrLockedOut) {
		t.Errorf("VerifyBuyerHash() after lockout error = %v, want ErrLockedOut", err)
	}
}

func TestDispatcher_GuardsAreIndependentPerSite(t *testing.T) {
	api := &fakeAPI{
		approveFn: func(ctx context.Context, roomHash, buyerHash string) (*invoice.Detail, error) {
			return nil, &roomsync.APIError{StatusCode: 401, Message: "unauthorized"}
		},
		joinFn: func(ctx context.Context, roomHash string, form roomsync.JoinForm) (*roomsync.JoinResult, error) {
			return &roomsync.JoinResult{BuyerHash: "hash-1"}, nil
		},
	}
	d, _ := newTestDispatcher(api)
	defer d.Stop()

	ctx := context.Background()
	_, _ = d.Approve(ctx, "abc123", "bad")
	_, _ = d.Approve(ctx, "abc123", "bad")
	if st := d.GuardStatus(SiteBuyerHash); !st.Locked {
		t.Fatal("buyer hash guard should be locked")
	}

	// A lockout on one site must not spill into the others.
	if _, err := d.JoinRoom(ctx, "xyz789", roomsync.JoinForm{Fullname: "Bob"}); err != nil {
		t.Errorf("JoinRoom() error = %v, want nil while another site is locked", err)
	}
}

func TestDispatcher_CSRFFetchedOnce(t *testing.T) {
	var fetches int
	api := &fakeAPI{
		csrfFn: func(ctx context.Context) (string, error) {
			fetches++
			return "tok-1", nil
		},
		authRoomFn: func(ctx context.Context, roomHash, csrfToken string) (*roomsync.AuthResult, error) {
			if csrfToken != "tok-1" {
				t.Errorf("csrf token = %q, want tok-1", csrfToken)
			}
			return &roomsync.AuthResult{Success: true}, nil
		},
	}
	d, _ := newTestDispatcher(api)
	defer d.Stop()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := d.AuthenticateRoom(ctx, "abc123"); err != nil {
			t.Fatalf("AuthenticateRoom() error = %v", err)
		}
	}
	if fetches != 1 {
		t.Errorf("csrf fetched %d times, want 1", fetches)
	}
}
