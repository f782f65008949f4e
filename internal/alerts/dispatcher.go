package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"buybox/internal/buybox"
	"buybox/internal/metrics"
)

// titleMaxLen keeps messages readable on phone notifications.
const titleMaxLen = 40

// Notify selects which new states trigger a message.
type Notify struct {
	Winning bool `json:"winning"`
	Losing  bool `json:"losing"`
	Amazon  bool `json:"amazon"`
	Unknown bool `json:"unknown"`
}

// NotifyAll is the default: every state change is worth hearing about.
var NotifyAll = Notify{Winning: true, Losing: true, Amazon: true, Unknown: true}

func (n Notify) wants(s buybox.Status) bool {
	switch s {
	case buybox.StatusWinning:
		return n.Winning
	case buybox.StatusLosing:
		return n.Losing
	case buybox.StatusAmazon:
		return n.Amazon
	default:
		return n.Unknown
	}
}

// Dispatcher fans status changes out to the registered channels. The
// per-state toggles are adjustable at runtime through the API.
type Dispatcher struct {
	reg Registry

	mu     sync.RWMutex
	notify Notify
}

func NewDispatcher(reg Registry, notify Notify) *Dispatcher {
	return &Dispatcher{reg: reg, notify: notify}
}

// Settings returns the current toggles.
func (d *Dispatcher) Settings() Notify {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.notify
}

// SetSettings replaces the toggles.
func (d *Dispatcher) SetSettings(n Notify) {
	d.mu.Lock()
	d.notify = n
	d.mu.Unlock()
}

// Channels lists the registered channel names.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.reg.All()))
	for _, ch := range d.reg.All() {
		names = append(names, ch.Name())
	}
	return names
}

// SendTest pushes a fixed message through every channel and reports the
// per-channel outcome, keyed by channel name.
func (d *Dispatcher) SendTest(ctx context.Context) map[string]string {
	out := make(map[string]string, len(d.reg.All()))
	for _, ch := range d.reg.All() {
		err := ch.Send(ctx, "Buybox tracker test notification")
		metrics.RecordAlert(ch.Name(), err == nil)
		if err != nil {
			out[ch.Name()] = err.Error()
			continue
		}
		out[ch.Name()] = "sent"
	}
	return out
}

// Dispatch sends a message when the result's status differs from prevStatus
// and the new state is enabled. prevStatus "" means first observation, which
// counts as a change.
//
// Only successful extractions are considered: a blocked or errored attempt
// says nothing about who holds the buybox.
func (d *Dispatcher) Dispatch(ctx context.Context, prevStatus string, res *buybox.Result) {
	if res.Outcome != buybox.OutcomeSuccess {
		return
	}
	if string(res.Status) == prevStatus {
		return
	}
	if !d.Settings().wants(res.Status) {
		return
	}

	text := Message(prevStatus, res)
	for _, ch := range d.reg.All() {
		err := ch.Send(ctx, text)
		metrics.RecordAlert(ch.Name(), err == nil)
		if err != nil {
			slog.Error("alert delivery failed", "channel", ch.Name(), "asin", res.ASIN, "err", err)
			continue
		}
		slog.Info("alert sent", "channel", ch.Name(), "asin", res.ASIN, "status", res.Status)
	}
}

// Message renders the notification text for a status change.
func Message(prevStatus string, res *buybox.Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Buybox update: %s\n", truncateTitle(res.Title))
	if prevStatus == "" {
		fmt.Fprintf(&b, "Status: %s\n", res.Status)
	} else {
		fmt.Fprintf(&b, "Status: %s (was %s)\n", res.Status, prevStatus)
	}
	if res.Price != nil {
		fmt.Fprintf(&b, "Price: %s\n", FormatPrice(res.Currency, *res.Price))
	}
	fmt.Fprintf(&b, "Seller: %s\n", res.SellerText())
	fmt.Fprintf(&b, "ASIN: %s", res.ASIN)
	if res.URL != "" {
		fmt.Fprintf(&b, "\n%s", res.URL)
	}
	return b.String()
}

// FormatPrice renders an amount with its currency symbol and thousands
// grouping, e.g. "ZAR 1,299.00". Unknown codes fall back to a plain number.
func FormatPrice(code string, amount float64) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return fmt.Sprintf("%.2f", amount)
	}
	p := message.NewPrinter(language.English)
	return p.Sprint(currency.Symbol(unit.Amount(amount)))
}

func truncateTitle(title string) string {
	if title == "" {
		return "(untitled)"
	}
	runes := []rune(title)
	if len(runes) <= titleMaxLen {
		return title
	}
	return string(runes[:titleMaxLen-3]) + "..."
}
