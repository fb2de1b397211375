package output

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bakkerme/dealwatch/internal/config"
	"github.com/bakkerme/dealwatch/internal/core"
	"github.com/bakkerme/dealwatch/internal/outputs/email/mock"
)

func TestEmailChannelSendRendersHTMLAndText(t *testing.T) {
	sender := &mock.Sender{}
	channel, err := NewEmailChannel(&config.EmailOutput{To: "deals@example.com", Subject: "Deal alert"}, sender)
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}
	event := sampleEvent()
	event.Name = "Jacket | Navy"
	if err := channel.Send(context.Background(), event); err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs := sender.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	msg := msgs[0]
	if msg.Subject != "Deal alert: 75.0% off Jacket | Navy" {
		t.Fatalf("subject=%q", msg.Subject)
	}
	if !strings.Contains(msg.Text, "~~£400.00~~ **£100.00**") {
		t.Fatalf("text body missing price: %q", msg.Text)
	}
	if !strings.Contains(msg.HTML, "<table>") || !strings.Contains(msg.HTML, "<del>£400.00</del>") {
		t.Fatalf("html body not rendered with tables and strikethrough: %q", msg.HTML)
	}
	if !strings.Contains(msg.HTML, `href="https://shop.example/jacket"`) {
		t.Fatalf("html body missing product link: %q", msg.HTML)
	}
}

func TestEmailChannelSummaryListsSources(t *testing.T) {
	sender := &mock.Sender{}
	channel, _ := NewEmailChannel(&config.EmailOutput{To: "deals@example.com", Subject: "Deals"}, sender)
	summary := &core.RunSummary{
		ProductsChecked: 12,
		HighDiscounts:   1,
		Sources: []core.SourceResult{
			{Name: "flannels", OK: true, Events: 12, Duration: 1500 * time.Millisecond},
			{Name: "harrods", Error: "timeout"},
		},
	}
	if err := channel.SendSummary(context.Background(), summary); err != nil {
		t.Fatalf("send summary: %v", err)
	}
	msg := sender.Messages()[0]
	if msg.Subject != "Deals: session summary (1 high discounts)" {
		t.Fatalf("subject=%q", msg.Subject)
	}
	for _, want := range []string{"flannels", "harrods", "timeout", "None"} {
		if !strings.Contains(msg.Text, want) {
			t.Fatalf("summary text missing %q: %q", want, msg.Text)
		}
	}
}

func TestEmailChannelPropagatesSendError(t *testing.T) {
	sender := &mock.Sender{Err: errors.New("smtp down")}
	channel, _ := NewEmailChannel(&config.EmailOutput{To: "deals@example.com", Subject: "Deals"}, sender)
	if err := channel.Send(context.Background(), sampleEvent()); err == nil {
		t.Fatalf("expected send error")
	}
}

func TestNewEmailChannelRequiresRecipient(t *testing.T) {
	if _, err := NewEmailChannel(&config.EmailOutput{Subject: "x"}, &mock.Sender{}); err == nil {
		t.Fatalf("expected error without recipient")
	}
}
