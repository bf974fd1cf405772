package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/dealtracker/internal/alerts"
	"github.com/user/dealtracker/internal/storage"
)

// MessageBuilder helps construct formatted notification messages.
type MessageBuilder struct{}

// NewMessageBuilder creates a new message builder.
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{}
}

// BuildPriceAlert creates the message sent when an alert triggers.
func (m *MessageBuilder) BuildPriceAlert(n alerts.Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔔 *Price alert: %s*\n\n", escape(n.Game.Title))
	fmt.Fprintf(&b, "Now %s at %s (target %s)\n",
		FormatPrice(n.Deal.SalePrice, n.Deal.Currency),
		escape(n.Deal.StoreName),
		FormatPrice(n.Alert.TargetPrice, n.Alert.Currency))
	if n.Deal.NormalPrice > n.Deal.SalePrice {
		fmt.Fprintf(&b, "Was %s, %s off\n", FormatPrice(n.Deal.NormalPrice, n.Deal.Currency), FormatDiscount(n.Deal.SavingsPercentage))
	}
	if n.Deal.DealEndDate != nil {
		fmt.Fprintf(&b, "Ends %s\n", n.Deal.DealEndDate.UTC().Format("2006-01-02 15:04 MST"))
	}
	if n.Deal.DealURL != "" {
		fmt.Fprintf(&b, "\n[Open deal](%s)\n", n.Deal.DealURL)
	}
	fmt.Fprintf(&b, "\nUse `/reset %d` to watch again.", n.Alert.ID)
	return b.String()
}

// BuildDealList creates a numbered list of deals under a header.
func (m *MessageBuilder) BuildDealList(header string, deals []storage.DealView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n\n", header)
	for i, d := range deals {
		fmt.Fprintf(&b, "%d. %s: %s on %s",
			i+1, FormatDealLink(d.Title, d.DealURL), FormatPrice(d.SalePrice, d.Currency), escape(d.StoreName))
		if d.SavingsPercentage > 0 {
			fmt.Fprintf(&b, " (-%s)", FormatDiscount(d.SavingsPercentage))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// BuildAlertList lists a user's alerts.
func (m *MessageBuilder) BuildAlertList(list []storage.AlertView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 *Your alerts (%d)*\n\n", len(list))
	for _, a := range list {
		state := "watching"
		if a.IsTriggered {
			state = "triggered"
			if a.TriggeredPrice != nil {
				state += " at " + FormatPrice(*a.TriggeredPrice, a.Currency)
			}
		}
		fmt.Fprintf(&b, "`#%d` %s below %s, %s\n", a.ID, escape(a.GameTitle), FormatPrice(a.TargetPrice, a.Currency), state)
	}
	return b.String()
}

// FormatPrice renders a price, "Free" for zero.
func FormatPrice(price float64, currency string) string {
	if price == 0 {
		return "Free"
	}
	switch strings.ToUpper(currency) {
	case "", "USD":
		return fmt.Sprintf("$%.2f", price)
	case "EUR":
		return fmt.Sprintf("€%.2f", price)
	case "GBP":
		return fmt.Sprintf("£%.2f", price)
	default:
		return fmt.Sprintf("%.2f %s", price, strings.ToUpper(currency))
	}
}

// FormatDiscount renders a savings percentage without trailing zeros.
func FormatDiscount(savings float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", savings), "0"), ".") + "%"
}

// FormatDealLink creates a markdown link to a deal, or the bare title without URL.
func FormatDealLink(title, url string) string {
	if url == "" {
		return escape(title)
	}
	return fmt.Sprintf("[%s](%s)", escape(title), url)
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}
