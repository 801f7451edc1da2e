package alert

import (
	"fmt"
	"strings"
	"time"

	"visa-slot-watcher/internal/domain"
)

const stampLayout = "2006-01-02 15:04:05"

// BuildAlertMessage формирует письмо о свежих слотах по совпадению
// одной подписки.
func BuildAlertMessage(m domain.Match, ref time.Time) domain.AlertMessage {
	var sections []string

	sections = append(sections, "🎯 Fresh visa slots detected!")
	sections = append(sections, fmt.Sprintf(
		"The following appointments were updated within your %d minute threshold:",
		m.Subscription.ThresholdMin,
	))

	var lines strings.Builder
	for _, rec := range m.Records {
		lines.WriteString(fmt.Sprintf("• %s — %s\n", rec.VisaType, rec.Location))
		details := []string{fmt.Sprintf("updated %s ago", humanMinutes(rec.Freshness))}
		if rec.Appointments > 0 {
			details = append(details, fmt.Sprintf("%d appointments", rec.Appointments))
		}
		if rec.EarliestDate != "" {
			earliest := rec.EarliestDate
			if rec.DateKnown {
				earliest = rec.CanonDate
			}
			details = append(details, "earliest date "+earliest)
		}
		lines.WriteString("  " + strings.Join(details, ", ") + "\n")
	}
	sections = append(sections, strings.TrimSpace(lines.String()))

	sections = append(sections,
		"🤖 This is an automated alert from Visa Tracker.\n"+
			"🕐 Generated at "+ref.Format(stampLayout))

	return domain.AlertMessage{
		Subject: fmt.Sprintf("🚨 Fresh Visa Slots Available! (%d alerts)", len(m.Records)),
		Body:    strings.Join(sections, "\n\n"),
	}
}

// BuildWelcomeMessage формирует подтверждение оформленной подписки.
func BuildWelcomeMessage(sub domain.Subscription, now time.Time) domain.AlertMessage {
	locations := "All locations"
	if len(sub.Locations) > 0 {
		locations = strings.Join(sub.Locations, ", ")
	}

	var body strings.Builder
	body.WriteString("🎉 Welcome to Visa Tracker!\n\n")
	body.WriteString("Your subscription has been confirmed:\n")
	body.WriteString("• Visa types: " + strings.Join(sub.VisaTypes, ", ") + "\n")
	body.WriteString("• Locations: " + locations + "\n")
	body.WriteString(fmt.Sprintf("• Alert threshold: %d minutes\n\n", sub.ThresholdMin))
	body.WriteString("You will get a mail as soon as matching slots show up.\n")
	body.WriteString("📧 If you didn't subscribe, please ignore this email.\n")
	body.WriteString("🕐 Generated at " + now.Format(stampLayout))

	return domain.AlertMessage{
		Subject: "✅ Visa Tracker Subscription Confirmed!",
		Body:    body.String(),
	}
}

// BuildTestMessage формирует проверочное уведомление. Им проверяют,
// что канал доставки настроен и письма доходят.
func BuildTestMessage(now time.Time) domain.AlertMessage {
	return domain.AlertMessage{
		Subject: "🧪 Visa Tracker Test Alert",
		Body: "This is a test alert from Visa Tracker.\n\n" +
			"If you are reading this, alert delivery works.\n" +
			"🕐 Generated at " + now.Format(stampLayout),
	}
}

func humanMinutes(d time.Duration) string {
	minutes := int(d.Minutes())
	if minutes <= 0 {
		return "less than a minute"
	}
	if minutes == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}
