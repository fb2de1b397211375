package output

import (
	"context"
	"fmt"

	"github.com/bakkerme/dealwatch/internal/config"
	"github.com/bakkerme/dealwatch/internal/core"
	"github.com/bakkerme/dealwatch/internal/outputs/email"
	"github.com/yuin/goldmark"
)

// EmailChannel sends one message per discount event, with a plain-text
// markdown body and a rendered HTML alternative.
type EmailChannel struct {
	name      string
	config    config.EmailOutput
	sender    email.Sender
	converter goldmark.Markdown
}

func NewEmailChannel(cfg *config.EmailOutput, sender email.Sender) (*EmailChannel, error) {
	if cfg == nil {
		return nil, fmt.Errorf("email config is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("email sender is required")
	}
	if cfg.To == "" || cfg.Subject == "" {
		return nil, fmt.Errorf("email to and subject are required")
	}
	return &EmailChannel{
		name:      nameOr(cfg.Name, "email"),
		config:    *cfg,
		sender:    sender,
		converter: newMarkdownConverter(),
	}, nil
}

func (c *EmailChannel) Name() string {
	return c.name
}

func (c *EmailChannel) Send(ctx context.Context, event *core.DiscountEvent) error {
	if event == nil {
		return fmt.Errorf("discount event is required")
	}
	subject := fmt.Sprintf("%s: %s%% off %s", c.config.Subject, formatPercent(event.DiscountPercentage), event.Name)
	return c.send(ctx, subject, eventMarkdown(event))
}

func (c *EmailChannel) SendSummary(ctx context.Context, summary *core.RunSummary) error {
	if summary == nil {
		return fmt.Errorf("run summary is required")
	}
	subject := fmt.Sprintf("%s: session summary (%d high discounts)", c.config.Subject, summary.HighDiscounts)
	return c.send(ctx, subject, summaryMarkdown(summary))
}

// Probe is a no-op; a test email on every start is noise.
func (c *EmailChannel) Probe(context.Context) error {
	return nil
}

func (c *EmailChannel) send(ctx context.Context, subject, body string) error {
	html, err := renderMarkdown(c.converter, body)
	if err != nil {
		return fmt.Errorf("render email body: %w", err)
	}
	return c.sender.Send(ctx, email.Message{
		From:    c.config.From,
		To:      c.config.To,
		Subject: subject,
		Text:    body,
		HTML:    html,
	})
}
