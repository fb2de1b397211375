package output

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/bakkerme/dealwatch/internal/core"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
)

func newMarkdownConverter() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	)
}

func renderMarkdown(converter goldmark.Markdown, input string) (string, error) {
	var buf bytes.Buffer
	if err := converter.Convert([]byte(input), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func eventMarkdown(event *core.DiscountEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## 🔥 %s%% OFF - %s\n\n", formatPercent(event.DiscountPercentage), escapeMarkdown(event.Name))
	b.WriteString("| Detail | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Price | ~~£%.2f~~ **£%.2f** |\n", event.OriginalPrice, event.SalePrice)
	fmt.Fprintf(&b, "| Discount | **%s%%** off |\n", formatPercent(event.DiscountPercentage))
	fmt.Fprintf(&b, "| You Save | **£%.2f** |\n", event.Savings())
	fmt.Fprintf(&b, "| Retailer | %s |\n", escapeMarkdown(event.Retailer))
	if !event.ScrapedAt.IsZero() {
		fmt.Fprintf(&b, "| Found At | %s |\n", event.ScrapedAt.Format(foundAtLayout))
	}
	fmt.Fprintf(&b, "\n[View Product](%s)\n", event.URL)
	if event.ImageURL != "" {
		fmt.Fprintf(&b, "\n![%s](%s)\n", escapeMarkdown(event.Name), event.ImageURL)
	}
	return b.String()
}

func summaryMarkdown(summary *core.RunSummary) string {
	retailers := strings.Join(summary.RetailersChecked, ", ")
	if retailers == "" {
		retailers = "None"
	}
	var b strings.Builder
	b.WriteString("## 📊 Scraping Session Summary\n\n")
	fmt.Fprintf(&b, "- **Products Checked:** %d\n", summary.ProductsChecked)
	fmt.Fprintf(&b, "- **High Discounts Found:** %d\n", summary.HighDiscounts)
	fmt.Fprintf(&b, "- **Retailers Checked:** %s\n", escapeMarkdown(retailers))
	if len(summary.Sources) > 0 {
		b.WriteString("\n| Source | Status | Products | Duration |\n|---|---|---|---|\n")
		for _, src := range summary.Sources {
			status := "✅"
			if !src.OK {
				status = "❌ " + escapeMarkdown(src.Error)
			}
			fmt.Fprintf(&b, "| %s | %s | %d | %s |\n", escapeMarkdown(src.Name), status, src.Events, src.Duration.Round(10*time.Millisecond))
		}
	}
	return b.String()
}

var markdownEscaper = strings.NewReplacer("|", `\|`, "*", `\*`, "_", `\_`, "[", `\[`, "]", `\]`)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
