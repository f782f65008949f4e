// Package alerts delivers buybox status-change notifications.
//
// Each delivery target implements Channel; the Dispatcher decides when a
// result warrants a message and fans it out to every configured channel.
// Delivery is best-effort: a failed send is logged and counted, never
// propagated into the check pipeline.
package alerts

import "context"

// Channel is one delivery target (Telegram, WhatsApp).
type Channel interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// Registry holds the configured channels.
type Registry struct {
	channels []Channel
}

// NewRegistry keeps the non-nil channels in the order given.
func NewRegistry(chans ...Channel) Registry {
	out := make([]Channel, 0, len(chans))
	for _, c := range chans {
		if c != nil {
			out = append(out, c)
		}
	}
	return Registry{channels: out}
}

// All returns the channels in registration order.
func (r Registry) All() []Channel {
	return r.channels
}
