package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Wawayooo/ONLINE-INVOICING/internal/config"
	"github.com/Wawayooo/ONLINE-INVOICING/internal/dispatch"
	"github.com/Wawayooo/ONLINE-INVOICING/internal/invoice"
	"github.com/Wawayooo/ONLINE-INVOICING/internal/items"
	clog "github.com/Wawayooo/ONLINE-INVOICING/internal/log"
	"github.com/Wawayooo/ONLINE-INVOICING/internal/roomsync"

	"github.com/rs/zerolog/log"
)

// termConfirmer 在终端里做 y/N 确认，对应浏览器端的 confirm 对话框。
type termConfirmer struct {
	in *bufio.Reader
}

func (t *termConfirmer) Confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	line, err := t.in.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "y")
}

type termNotifier struct{}

func (termNotifier) Notify(message string) {
	fmt.Println("! " + message)
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: client <command> [flags]

commands:
  view <room>             show the room and available controls
  watch <room>            follow live negotiation updates
  join <room>             join a room as the buyer
  approve <room>          approve the invoice (buyer; --hash re-verifies)
  disapprove <room>       disapprove the invoice (buyer; --hash re-verifies)
  mark-paid <room>        mark the invoice as paid (buyer; --hash re-verifies)
  edit <room>             edit the invoice (seller)
  confirm-payment <room>  confirm receipt of payment (seller)
  seller-auth             authenticate with the seller secret key
  room-auth <room>        verify a room handle (seller)`)
	os.Exit(2)
}

func main() {
	cfg := config.Load()
	clog.Init(cfg.Env)

	if len(os.Args) < 2 {
		usage()
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	client := roomsync.NewClient(cfg.APIBase)
	cache, err := roomsync.OpenCache("")
	if err != nil {
		log.Fatal().Err(err).Msg("open buyer hash cache")
	}
	d := dispatch.New(client, cfg, &termConfirmer{in: bufio.NewReader(os.Stdin)}, termNotifier{})
	defer d.Stop()

	ctx := context.Background()
	switch cmd {
	case "view":
		runView(ctx, client, cache, args)
	case "watch":
		runWatch(ctx, client, args)
	case "join":
		runJoin(ctx, d, cache, args)
	case "approve", "disapprove", "mark-paid":
		runBuyerAction(ctx, d, cache, cmd, args)
	case "edit":
		runEdit(ctx, client, d, args)
	case "confirm-payment":
		runConfirmPayment(ctx, d, args)
	case "seller-auth":
		runSellerAuth(ctx, d, args)
	case "room-auth":
		runRoomAuth(ctx, d, args)
	default:
		usage()
	}
}

func roomArg(args []string) string {
	if len(args) < 1 || args[0] == "" {
		usage()
	}
	return args[0]
}

func fatal(err error) {
	switch {
	case errors.Is(err, dispatch.ErrLockedOut):
		fmt.Fprintln(os.Stderr, "locked out: too many attempts, wait for the countdown")
	case errors.Is(err, dispatch.ErrBusy):
		fmt.Fprintln(os.Stderr, "another action is still in flight")
	case errors.Is(err, roomsync.ErrRoomNotFound):
		fmt.Fprintln(os.Stderr, "room not found")
	default:
		fmt.Fprintln(os.Stderr, "error: "+err.Error())
	}
	os.Exit(1)
}

func runView(ctx context.Context, client *roomsync.Client, cache *roomsync.Cache, args []string) {
	roomHash := roomArg(args)
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	asSeller := fs.Bool("seller", false, "view as the seller")
	_ = fs.Parse(args[1:])

	id := roomsync.Identity{Role: invoice.ActorBuyer, BuyerHash: cache.Get(roomHash)}
	if *asSeller {
		id = roomsync.Identity{Role: invoice.ActorSeller}
	}
	view, err := client.LoadRoom(ctx, roomHash, id)
	if err != nil {
		fatal(err)
	}
	renderRoom(view, id.Role)
}

func renderRoom(view *roomsync.RoomView, role invoice.Actor) {
	fmt.Println("room: " + view.RoomHash)
	if view.Seller != nil {
		fmt.Println("seller: " + view.Seller.Fullname)
	}
	if view.Buyer != nil {
		fmt.Println("buyer:  " + view.Buyer.Fullname)
	} else {
		fmt.Println("buyer:  (waiting)")
	}
	if !view.Authorized {
		fmt.Println("not authorized for this room; invoice hidden")
		return
	}
	if view.Invoice == nil {
		fmt.Println("no invoice yet")
		return
	}

	d := view.Invoice
	fmt.Println("\ninvoice (" + string(d.Status) + ")")
	fmt.Println("  date: " + d.InvoiceDate + "  due: " + d.DueDate + "  payment: " + d.PaymentMethod)
	if d.Kind == invoice.KindMulti {
		for _, it := range d.Items {
			fmt.Printf("  %-20s x%-3d @ %8.2f = %9.2f\n", it.ProductName, it.Quantity, float64(it.UnitPrice), float64(it.LineTotal))
		}
	} else {
		fmt.Printf("  %-20s x%-3d @ %8.2f\n", d.Description, d.Quantity, d.UnitPrice)
	}
	fmt.Printf("  total: %.2f\n", d.GrandTotal())

	cs := invoice.ControlsFor(d.Status)
	if cs.Label != "" {
		fmt.Println("  status label: " + cs.Label)
	}
	if cs.RedirectToProof {
		fmt.Println("  invoice finalized; see /proof_transaction/" + view.RoomHash + "/")
		return
	}
	var actions []string
	if role == invoice.ActorBuyer {
		if cs.ShowApprove {
			actions = append(actions, "approve")
		}
		if cs.ShowDisapprove {
			actions = append(actions, "disapprove")
		}
		if cs.ShowMarkPaid {
			actions = append(actions, "mark-paid")
		}
	} else {
		if cs.SellerFormEditable {
			actions = append(actions, "edit")
		}
		if cs.ShowConfirmPayment {
			actions = append(actions, "confirm-payment")
		}
	}
	if len(actions) > 0 {
		fmt.Println("  available: " + strings.Join(actions, ", "))
	}
}

func runWatch(ctx context.Context, client *roomsync.Client, args []string) {
	roomHash := roomArg(args)
	events, err := client.Subscribe(ctx, roomHash)
	if err != nil {
		fatal(err)
	}
	fmt.Println("watching room " + roomHash + " (ctrl-c to stop)")
	for evt := range events {
		fmt.Printf("[%s] %s\n", evt.Type, string(evt.Data))
	}
}

func runJoin(ctx context.Context, d *dispatch.Dispatcher, cache *roomsync.Cache, args []string) {
	roomHash := roomArg(args)
	fs := flag.NewFlagSet("join", flag.ExitOnError)
	fullname := fs.String("fullname", "", "buyer full name")
	email := fs.String("email", "", "buyer email")
	phone := fs.String("phone", "", "buyer phone")
	social := fs.String("social", "", "buyer social media handle")
	_ = fs.Parse(args[1:])

	result, err := d.JoinRoom(ctx, roomHash, roomsync.JoinForm{
		Fullname:    *fullname,
		Email:       *email,
		Phone:       *phone,
		SocialMedia: *social,
	})
	if err != nil {
		fatal(err)
	}
	if err := cache.Put(roomHash, result.BuyerHash); err != nil {
		log.Warn().Err(err).Msg("cache buyer hash")
	}
	fmt.Println("joined; buyer hash saved locally")
	fmt.Println("next: " + result.RedirectURL)
}

func runBuyerAction(ctx context.Context, d *dispatch.Dispatcher, cache *roomsync.Cache, action string, args []string) {
	roomHash := roomArg(args)
	fs := flag.NewFlagSet(action, flag.ExitOnError)
	reentered := fs.String("hash", "", "re-enter the buyer hash to verify against the saved copy")
	_ = fs.Parse(args[1:])

	buyerHash := cache.Get(roomHash)
	if buyerHash == "" {
		fmt.Fprintln(os.Stderr, "no buyer hash cached for this room; join first")
		os.Exit(1)
	}
	// 出示的 hash 先与本地缓存比对，比对失败与后端 401 共享尝试预算。
	if *reentered != "" {
		if err := d.VerifyBuyerHash(*reentered, buyerHash); err != nil {
			fatal(err)
		}
	}
	var (
		detail *invoice.Detail
		err    error
	)
	switch action {
	case "approve":
		detail, err = d.Approve(ctx, roomHash, buyerHash)
	case "disapprove":
		detail, err = d.Disapprove(ctx, roomHash, buyerHash)
	case "mark-paid":
		detail, err = d.MarkPaid(ctx, roomHash, buyerHash)
	}
	if err != nil {
		fatal(err)
	}
	cs := invoice.ControlsFor(detail.Status)
	fmt.Println("invoice is now " + string(detail.Status))
	if cs.Label != "" {
		fmt.Println("label: " + cs.Label)
	}
}

// itemFlag 收集重复的 --item product|description|qty|price。
type itemFlag []string

func (f *itemFlag) String() string     { return strings.Join(*f, "; ") }
func (f *itemFlag) Set(v string) error { *f = append(*f, v); return nil }

func runEdit(ctx context.Context, client *roomsync.Client, d *dispatch.Dispatcher, args []string) {
	roomHash := roomArg(args)
	fs := flag.NewFlagSet("edit", flag.ExitOnError)
	invoiceDate := fs.String("invoice-date", "", "invoice date (YYYY-MM-DD)")
	dueDate := fs.String("due-date", "", "due date (YYYY-MM-DD)")
	payment := fs.String("payment", "cash", "payment method")
	var rows itemFlag
	fs.Var(&rows, "item", "item as product|description|qty|price (repeatable)")
	_ = fs.Parse(args[1:])

	view, err := client.LoadRoom(ctx, roomHash, roomsync.Identity{Role: invoice.ActorSeller})
	if err != nil {
		fatal(err)
	}
	if view.Invoice == nil {
		fmt.Fprintln(os.Stderr, "room has no invoice")
		os.Exit(1)
	}

	ed := items.NewEditor()
	for i, row := range rows {
		parts := strings.SplitN(row, "|", 4)
		if len(parts) != 4 {
			fmt.Fprintln(os.Stderr, "bad --item value: "+row)
			os.Exit(1)
		}
		qty, _ := strconv.Atoi(parts[2])
		price, _ := strconv.ParseFloat(parts[3], 64)
		if i > 0 {
			ed.Add()
		}
		if err := ed.Set(i, parts[0], parts[1], qty, price); err != nil {
			fatal(err)
		}
	}
	detail := ed.Detail(*invoiceDate, *dueDate, *payment)

	updated, err := d.EditInvoice(ctx, roomHash, view.Invoice.Status, detail)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("invoice updated, back to %s; total %.2f\n", updated.Status, updated.GrandTotal())
}

func runConfirmPayment(ctx context.Context, d *dispatch.Dispatcher, args []string) {
	roomHash := roomArg(args)
	result, err := d.ConfirmPayment(ctx, roomHash)
	if err != nil {
		fatal(err)
	}
	fmt.Println("invoice " + result.InvoiceStatus)
	fmt.Println("proof: " + result.RedirectURL)
}

func runSellerAuth(ctx context.Context, d *dispatch.Dispatcher, args []string) {
	fs := flag.NewFlagSet("seller-auth", flag.ExitOnError)
	secretKey := fs.String("secret-key", "", "seller secret key")
	_ = fs.Parse(args)
	if *secretKey == "" {
		fmt.Fprintln(os.Stderr, "missing --secret-key")
		os.Exit(1)
	}
	result, err := d.AuthenticateSeller(ctx, *secretKey)
	if err != nil {
		fatal(err)
	}
	fmt.Println("authenticated; room: " + result.RedirectURL)
}

func runRoomAuth(ctx context.Context, d *dispatch.Dispatcher, args []string) {
	roomHash := roomArg(args)
	result, err := d.AuthenticateRoom(ctx, roomHash)
	if err != nil {
		fatal(err)
	}
	fmt.Println("room verified: " + result.RedirectURL)
}
