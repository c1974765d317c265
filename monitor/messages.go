package monitor

import (
	"fmt"
	"strings"
	"time"

	"visaslot-notifier/pkg/notifier"
)

// maxAlternativesListed caps the alternative-locations summary; the rest is
// reported as a count.
const maxAlternativesListed = 5

func slotAlertMessage(slot notifier.Slot, isNew bool, siteURL string) string {
	header := "🚨 *Visa Slot Alert!* 🚨"
	if !isNew {
		header = "🔁 *Slot Still Open*"
	}
	return fmt.Sprintf(
		"%s\n\n"+
			"📍 *Location:* %s\n"+
			"📌 *Visa Type:* %s\n"+
			"⏳ *Earliest Date:* %s\n"+
			"🟢 *Slots Available:* %s\n"+
			"⏰ *Last Updated:* %s\n\n"+
			"🔗 [Check Now](%s)",
		header, slot.Location, slot.VisaType, slot.EarliestDate,
		slot.SlotsAvailable, slot.LastUpdated, siteURL)
}

func alternativesMessage(slots []notifier.Slot) string {
	var b strings.Builder
	b.WriteString("⚠️ *No slots at your preferred consulate*\n\n")
	b.WriteString("Other open locations for your visa type:\n")

	listed := slots
	if len(listed) > maxAlternativesListed {
		listed = listed[:maxAlternativesListed]
	}
	for _, slot := range listed {
		fmt.Fprintf(&b, "• %s | Date: %s | Slots: %s\n",
			slot.Location, slot.EarliestDate, slot.SlotsAvailable)
	}
	if rest := len(slots) - maxAlternativesListed; rest > 0 {
		fmt.Fprintf(&b, "\n_...and %d more locations_", rest)
	}
	return b.String()
}

func noSlotsMessage(interval time.Duration) string {
	return fmt.Sprintf("ℹ️ No open slots found at this time.\nNext check in %d minutes...",
		int(interval.Minutes()))
}

func couldNotFetchMessage(interval time.Duration) string {
	return fmt.Sprintf("⚠️ Could not fetch slot data right now.\nWill keep trying every %d minutes.",
		int(interval.Minutes()))
}

func cycleErrorMessage(detail string, interval time.Duration) string {
	if len(detail) > 100 {
		detail = detail[:100]
	}
	return fmt.Sprintf("⚠️ Error checking slots: %s\nWill retry in %d minutes.",
		detail, int(interval.Minutes()))
}
