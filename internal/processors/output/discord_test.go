package output

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bakkerme/dealwatch/internal/config"
	"github.com/bakkerme/dealwatch/internal/core"
	"github.com/bakkerme/dealwatch/internal/outputs/webhook/mock"
)

func sampleEvent() *core.DiscountEvent {
	return &core.DiscountEvent{
		URL:                "https://shop.example/jacket",
		Retailer:           "Flannels",
		Name:               "Wool Jacket",
		DiscountPercentage: 75,
		OriginalPrice:      400,
		SalePrice:          100,
		ImageURL:           "https://cdn.example/jacket.jpg",
		ScrapedAt:          time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC),
	}
}

func TestDiscordChannelSendBuildsAlertEmbed(t *testing.T) {
	poster := &mock.Poster{}
	channel, err := NewDiscordChannel(&config.DiscordOutput{}, poster)
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}
	if err := channel.Send(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(poster.Payloads) != 1 {
		t.Fatalf("expected one payload, got %d", len(poster.Payloads))
	}
	payload := poster.Payloads[0]
	if payload.Username != DefaultUsername || payload.AvatarURL != DefaultAvatarURL {
		t.Fatalf("unexpected identity: %q %q", payload.Username, payload.AvatarURL)
	}
	embed := payload.Embeds[0]
	if embed.Title != "🔥 75.0% OFF - Wool Jacket" {
		t.Fatalf("title=%q", embed.Title)
	}
	if embed.Color != alertColor || embed.Image == nil || embed.Image.URL != "https://cdn.example/jacket.jpg" {
		t.Fatalf("unexpected embed: %+v", embed)
	}
	want := map[string]string{
		"💰 Price":    "~~£400.00~~ **£100.00**",
		"📊 Discount": "**75.0%** off",
		"💸 You Save": "**£300.00**",
		"🏪 Retailer": "Flannels",
		"🕐 Found At": "14:05 on 09/03/2024",
		"🔗 Shop Now": "[View Product](https://shop.example/jacket)",
	}
	for _, field := range embed.Fields {
		if v, ok := want[field.Name]; ok && v != field.Value {
			t.Fatalf("field %s=%q want %q", field.Name, field.Value, v)
		}
		if !field.Inline {
			t.Fatalf("alert field %s should be inline", field.Name)
		}
	}
	if embed.Timestamp != "2024-03-09T14:05:00Z" {
		t.Fatalf("timestamp=%q", embed.Timestamp)
	}
}

func TestDiscordChannelOmitsImageWhenMissing(t *testing.T) {
	poster := &mock.Poster{}
	channel, _ := NewDiscordChannel(&config.DiscordOutput{Username: "Bot", AvatarURL: "https://a.example/x.png"}, poster)
	event := sampleEvent()
	event.ImageURL = ""
	if err := channel.Send(context.Background(), event); err != nil {
		t.Fatalf("send: %v", err)
	}
	if poster.Payloads[0].Embeds[0].Image != nil {
		t.Fatalf("expected no image")
	}
	if poster.Payloads[0].Username != "Bot" {
		t.Fatalf("expected configured username")
	}
}

func TestDiscordChannelSummaryColours(t *testing.T) {
	poster := &mock.Poster{}
	channel, _ := NewDiscordChannel(&config.DiscordOutput{}, poster)

	empty := &core.RunSummary{ProductsChecked: 3}
	busy := &core.RunSummary{ProductsChecked: 10, HighDiscounts: 2, RetailersChecked: []string{"Flannels", "END."}}
	if err := channel.SendSummary(context.Background(), empty); err != nil {
		t.Fatalf("send summary: %v", err)
	}
	if err := channel.SendSummary(context.Background(), busy); err != nil {
		t.Fatalf("send summary: %v", err)
	}

	first := poster.Payloads[0].Embeds[0]
	if first.Color != emptySummaryColor || first.Fields[2].Value != "None" {
		t.Fatalf("unexpected empty summary: %+v", first)
	}
	second := poster.Payloads[1].Embeds[0]
	if second.Color != summaryColor || second.Fields[2].Value != "Flannels, END." {
		t.Fatalf("unexpected summary: %+v", second)
	}
	if !second.Fields[0].Inline || !second.Fields[1].Inline || second.Fields[2].Inline {
		t.Fatalf("counts should be inline and retailers full width: %+v", second.Fields)
	}
	if poster.Payloads[1].AvatarURL != "" {
		t.Fatalf("summary carries no avatar, got %q", poster.Payloads[1].AvatarURL)
	}
}

func TestDiscordChannelProbe(t *testing.T) {
	poster := &mock.Poster{}
	channel, _ := NewDiscordChannel(&config.DiscordOutput{}, poster)
	if err := channel.Probe(context.Background()); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !strings.Contains(poster.Payloads[0].Content, "Webhook test") || len(poster.Payloads[0].Embeds) != 0 {
		t.Fatalf("unexpected probe payload: %+v", poster.Payloads[0])
	}
}

func TestFormatPercent(t *testing.T) {
	cases := map[float64]string{70: "70.0", 72.5: "72.5", 33.33: "33.33", 100: "100.0"}
	for in, want := range cases {
		if got := formatPercent(in); got != want {
			t.Fatalf("formatPercent(%v)=%q want %q", in, got, want)
		}
	}
}
