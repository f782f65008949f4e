package alerts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"buybox/internal/buybox"
)

// fakeChannel records sends and optionally fails.
type fakeChannel struct {
	name string
	sent []string
	err  error
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(_ context.Context, text string) error {
	f.sent = append(f.sent, text)
	return f.err
}

func successResult(status buybox.Status, price float64) *buybox.Result {
	return &buybox.Result{
		ASIN:     "B000000001",
		Title:    "Stainless Steel Electric Kettle 1.7L Cordless",
		Price:    &price,
		Currency: "ZAR",
		Seller:   "Gadget Hub",
		Status:   status,
		Outcome:  buybox.OutcomeSuccess,
	}
}

// TestDispatch_FiresOnChangeOnly verifies the same-status case stays quiet
// and a transition reaches every channel.
func TestDispatch_FiresOnChangeOnly(t *testing.T) {
	t.Parallel()

	a := &fakeChannel{name: "telegram"}
	b := &fakeChannel{name: "whatsapp"}
	d := NewDispatcher(NewRegistry(a, b), NotifyAll)

	d.Dispatch(context.Background(), "losing", successResult(buybox.StatusLosing, 100))
	if len(a.sent) != 0 || len(b.sent) != 0 {
		t.Fatalf("unchanged status should not alert: %d/%d", len(a.sent), len(b.sent))
	}

	d.Dispatch(context.Background(), "winning", successResult(buybox.StatusLosing, 100))
	if len(a.sent) != 1 || len(b.sent) != 1 {
		t.Fatalf("change should reach both channels: %d/%d", len(a.sent), len(b.sent))
	}
	if !strings.Contains(a.sent[0], "(was winning)") {
		t.Fatalf("message missing previous state: %q", a.sent[0])
	}
}

// TestDispatch_FirstObservationCountsAsChange verifies prevStatus "" alerts.
func TestDispatch_FirstObservationCountsAsChange(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{name: "telegram"}
	d := NewDispatcher(NewRegistry(ch), NotifyAll)

	d.Dispatch(context.Background(), "", successResult(buybox.StatusWinning, 100))
	if len(ch.sent) != 1 {
		t.Fatalf("sent=%d, want 1", len(ch.sent))
	}
	if strings.Contains(ch.sent[0], "(was") {
		t.Fatalf("first observation should not name a previous state: %q", ch.sent[0])
	}
}

// TestDispatch_RespectsToggles verifies disabled states stay silent.
func TestDispatch_RespectsToggles(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{name: "telegram"}
	d := NewDispatcher(NewRegistry(ch), Notify{Winning: true})

	d.Dispatch(context.Background(), "winning", successResult(buybox.StatusLosing, 100))
	if len(ch.sent) != 0 {
		t.Fatal("losing alerts are disabled")
	}
	d.Dispatch(context.Background(), "losing", successResult(buybox.StatusWinning, 100))
	if len(ch.sent) != 1 {
		t.Fatal("winning alerts are enabled")
	}
}

// TestDispatch_SkipsNonSuccess verifies blocked/error results never alert.
func TestDispatch_SkipsNonSuccess(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{name: "telegram"}
	d := NewDispatcher(NewRegistry(ch), NotifyAll)

	res := &buybox.Result{ASIN: "B000000001", Status: buybox.StatusUnknown, Outcome: buybox.OutcomeBlocked}
	d.Dispatch(context.Background(), "winning", res)
	if len(ch.sent) != 0 {
		t.Fatal("blocked result should not alert")
	}
}

// TestDispatch_FailedChannelDoesNotBlockOthers verifies delivery is
// best-effort per channel.
func TestDispatch_FailedChannelDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	bad := &fakeChannel{name: "telegram", err: errors.New("bot token revoked")}
	good := &fakeChannel{name: "whatsapp"}
	d := NewDispatcher(NewRegistry(bad, good), NotifyAll)

	d.Dispatch(context.Background(), "", successResult(buybox.StatusLosing, 100))
	if len(good.sent) != 1 {
		t.Fatalf("second channel skipped after first failed: sent=%d", len(good.sent))
	}
}

// TestMessage_TitleCapAndPrice verifies the 40-char title cap and the
// formatted price line.
// TestSetSettings_TakesEffect verifies a runtime toggle change is picked up
// by the next dispatch.
func TestSetSettings_TakesEffect(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{name: "telegram"}
	d := NewDispatcher(NewRegistry(ch), NotifyAll)

	d.SetSettings(Notify{Winning: true})
	if got := d.Settings(); got != (Notify{Winning: true}) {
		t.Fatalf("settings=%#v", got)
	}

	d.Dispatch(context.Background(), "winning", successResult(buybox.StatusLosing, 100))
	if len(ch.sent) != 0 {
		t.Fatalf("losing is toggled off, sent=%q", ch.sent)
	}
	d.Dispatch(context.Background(), "losing", successResult(buybox.StatusWinning, 100))
	if len(ch.sent) != 1 {
		t.Fatalf("winning is toggled on, sent=%q", ch.sent)
	}
}

// TestSendTest_ReportsPerChannel verifies the test send hits every channel
// and maps failures to their error text.
func TestSendTest_ReportsPerChannel(t *testing.T) {
	t.Parallel()

	bad := &fakeChannel{name: "telegram", err: errors.New("bot token revoked")}
	good := &fakeChannel{name: "whatsapp"}
	d := NewDispatcher(NewRegistry(bad, good), NotifyAll)

	out := d.SendTest(context.Background())
	if out["whatsapp"] != "sent" {
		t.Fatalf("whatsapp=%q", out["whatsapp"])
	}
	if out["telegram"] != "bot token revoked" {
		t.Fatalf("telegram=%q", out["telegram"])
	}
	if len(good.sent) != 1 || len(bad.sent) != 1 {
		t.Fatalf("sends: good=%d bad=%d", len(good.sent), len(bad.sent))
	}
}

func TestMessage_TitleCapAndPrice(t *testing.T) {
	t.Parallel()

	res := successResult(buybox.StatusLosing, 1299)
	res.Title = strings.Repeat("A", 60)

	msg := Message("winning", res)
	first := strings.SplitN(msg, "\n", 2)[0]
	title := strings.TrimPrefix(first, "Buybox update: ")
	if len([]rune(title)) != 40 || !strings.HasSuffix(title, "...") {
		t.Fatalf("title=%q, want 40 runes ending in ...", title)
	}
	if !strings.Contains(msg, "1,299.00") {
		t.Fatalf("message missing grouped price: %q", msg)
	}
	if !strings.Contains(msg, "Seller: Gadget Hub") {
		t.Fatalf("message missing seller: %q", msg)
	}
}

// TestMessage_NoPriceAndNoSeller verifies the sparse-result rendering.
func TestMessage_NoPriceAndNoSeller(t *testing.T) {
	t.Parallel()

	res := &buybox.Result{
		ASIN:    "B000000001",
		Status:  buybox.StatusUnknown,
		Outcome: buybox.OutcomeSuccess,
	}
	msg := Message("", res)
	if strings.Contains(msg, "Price:") {
		t.Fatalf("price line present without a price: %q", msg)
	}
	if !strings.Contains(msg, "Seller: Unknown") {
		t.Fatalf("missing seller placeholder: %q", msg)
	}
	if !strings.Contains(msg, "(untitled)") {
		t.Fatalf("missing title placeholder: %q", msg)
	}
}

// TestFormatPrice covers a known code and the unknown-code fallback.
func TestFormatPrice(t *testing.T) {
	t.Parallel()

	if got := FormatPrice("ZAR", 1660); !strings.Contains(got, "1,660.00") {
		t.Fatalf("ZAR: %q", got)
	}
	if got := FormatPrice("??", 12.5); got != "12.50" {
		t.Fatalf("fallback: %q", got)
	}
}

// TestTelegram_Send verifies the Bot API call shape against a local server.
func TestTelegram_Send(t *testing.T) {
	t.Parallel()

	var gotPath, gotChat, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = r.ParseForm()
		gotChat = r.FormValue("chat_id")
		gotText = r.FormValue("text")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegram("123:SECRET", "42")
	tg.client.SetBaseURL(srv.URL)

	if err := tg.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotPath != "/bot123:SECRET/sendMessage" {
		t.Fatalf("path=%q", gotPath)
	}
	if gotChat != "42" || gotText != "hello" {
		t.Fatalf("chat=%q text=%q", gotChat, gotText)
	}
}

// TestTelegram_SendErrorStatus verifies non-2xx becomes an error.
func TestTelegram_SendErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	tg := NewTelegram("bad", "42")
	tg.client.SetBaseURL(srv.URL)

	if err := tg.Send(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for HTTP 401")
	}
}

// TestWhatsApp_Send verifies the CallMeBot query parameters.
func TestWhatsApp_Send(t *testing.T) {
	t.Parallel()

	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/whatsapp.php" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.Query()
		w.Write([]byte("Message queued"))
	}))
	defer srv.Close()

	wa := NewWhatsApp("+27820000000", "apikey123")
	wa.client.SetBaseURL(srv.URL)

	if err := wa.Send(context.Background(), "price drop"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotQuery["phone"][0] != "+27820000000" || gotQuery["apikey"][0] != "apikey123" {
		t.Fatalf("query=%v", gotQuery)
	}
	if gotQuery["text"][0] != "price drop" {
		t.Fatalf("text=%v", gotQuery["text"])
	}
}
