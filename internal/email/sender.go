// Package email consumes survey events from the bus and sends the configured
// follow-up notification with bounded retry.
package email

import "context"

// OutboundEmail is one rendered message ready for delivery.
type OutboundEmail struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
	ReplyTo  string
}

// Sender delivers rendered emails through a provider.
type Sender interface {
	Send(ctx context.Context, msg OutboundEmail) (providerMessageID string, err error)
}
