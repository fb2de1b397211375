package output

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bakkerme/dealwatch/internal/config"
	"github.com/bakkerme/dealwatch/internal/core"
	"github.com/bakkerme/dealwatch/internal/outputs/webhook"
)

const (
	DefaultUsername  = "Fashion Discount Bot"
	DefaultAvatarURL = "https://cdn.discordapp.com/attachments/123/456/fashion-bot-avatar.png"

	alertColor        = 0xFF0000
	summaryColor      = 0x00FF00
	emptySummaryColor = 0x808080

	alertFooter   = "Fashion Discount Notifier • High Discount Alert"
	summaryFooter = "Fashion Discount Notifier • Session Summary"
	probeContent  = "🧪 Webhook test - Fashion Discount Notifier is online!"

	foundAtLayout = "15:04 on 02/01/2006"
)

// DiscordChannel renders discount events as Discord embeds.
type DiscordChannel struct {
	name      string
	username  string
	avatarURL string
	poster    webhook.Poster
}

func NewDiscordChannel(cfg *config.DiscordOutput, poster webhook.Poster) (*DiscordChannel, error) {
	if cfg == nil {
		return nil, fmt.Errorf("discord config is required")
	}
	if poster == nil {
		return nil, fmt.Errorf("discord poster is required")
	}
	username := strings.TrimSpace(cfg.Username)
	if username == "" {
		username = DefaultUsername
	}
	avatarURL := strings.TrimSpace(cfg.AvatarURL)
	if avatarURL == "" {
		avatarURL = DefaultAvatarURL
	}
	return &DiscordChannel{
		name:      nameOr(cfg.Name, "discord"),
		username:  username,
		avatarURL: avatarURL,
		poster:    poster,
	}, nil
}

func (c *DiscordChannel) Name() string {
	return c.name
}

func (c *DiscordChannel) Send(ctx context.Context, event *core.DiscountEvent) error {
	if event == nil {
		return fmt.Errorf("discount event is required")
	}
	return c.poster.Post(ctx, webhook.Payload{
		Username:  c.username,
		AvatarURL: c.avatarURL,
		Embeds:    []webhook.Embed{discountEmbed(event)},
	})
}

func (c *DiscordChannel) SendSummary(ctx context.Context, summary *core.RunSummary) error {
	if summary == nil {
		return fmt.Errorf("run summary is required")
	}
	return c.poster.Post(ctx, webhook.Payload{
		Username: c.username,
		Embeds:   []webhook.Embed{summaryEmbed(summary)},
	})
}

func (c *DiscordChannel) Probe(ctx context.Context) error {
	return c.poster.Post(ctx, webhook.Payload{
		Username: c.username,
		Content:  probeContent,
	})
}

func discountEmbed(event *core.DiscountEvent) webhook.Embed {
	embed := webhook.Embed{
		Title: fmt.Sprintf("🔥 %s%% OFF - %s", formatPercent(event.DiscountPercentage), event.Name),
		URL:   event.URL,
		Color: alertColor,
		Fields: []webhook.Field{
			{Name: "💰 Price", Value: fmt.Sprintf("~~£%.2f~~ **£%.2f**", event.OriginalPrice, event.SalePrice), Inline: true},
			{Name: "📊 Discount", Value: fmt.Sprintf("**%s%%** off", formatPercent(event.DiscountPercentage)), Inline: true},
			{Name: "💸 You Save", Value: fmt.Sprintf("**£%.2f**", event.Savings()), Inline: true},
			{Name: "🏪 Retailer", Value: event.Retailer, Inline: true},
			{Name: "🕐 Found At", Value: event.ScrapedAt.Format(foundAtLayout), Inline: true},
			{Name: "🔗 Shop Now", Value: fmt.Sprintf("[View Product](%s)", event.URL), Inline: true},
		},
		Footer:    &webhook.Footer{Text: alertFooter},
		Timestamp: event.ScrapedAt.Format(time.RFC3339),
	}
	if event.ImageURL != "" {
		embed.Image = &webhook.Image{URL: event.ImageURL}
	}
	return embed
}

func summaryEmbed(summary *core.RunSummary) webhook.Embed {
	color := emptySummaryColor
	if summary.HighDiscounts > 0 {
		color = summaryColor
	}
	retailers := strings.Join(summary.RetailersChecked, ", ")
	if retailers == "" {
		retailers = "None"
	}
	return webhook.Embed{
		Title: "📊 Scraping Session Summary",
		Color: color,
		Fields: []webhook.Field{
			{Name: "🛍️ Products Checked", Value: fmt.Sprintf("%d", summary.ProductsChecked), Inline: true},
			{Name: "🔥 High Discounts Found", Value: fmt.Sprintf("%d", summary.HighDiscounts), Inline: true},
			{Name: "🏪 Retailers Checked", Value: retailers},
		},
		Footer:    &webhook.Footer{Text: summaryFooter},
		Timestamp: summary.ProcessedAt.Format(time.RFC3339),
	}
}

// formatPercent renders the shortest exact form, always with a decimal point.
func formatPercent(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func nameOr(name, fallback string) string {
	if strings.TrimSpace(name) == "" {
		return fallback
	}
	return name
}
