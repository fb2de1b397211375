// Package email defines the outbound mail message and the transport contract.
package email

import "context"

// Message is a multipart alert. Text is the plain-text part; HTML, when set,
// is attached as the preferred alternative.
type Message struct {
	From    string
	To      string
	Subject string
	Text    string
	HTML    string
}

type Sender interface {
	Send(ctx context.Context, message Message) error
}
