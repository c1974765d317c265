// Package match filters scraped slots against a subscriber's preferences.
package match

import (
	"strings"

	"visaslot-notifier/pkg/notifier"
)

// visaEquivalents maps a subscriber's visa choice to the labels the site uses
// for it. Unmapped choices fall back to exact comparison.
var visaEquivalents = map[string][]string{
	"B1":    {"B1", "B1/B2"},
	"B2":    {"B2", "B1/B2"},
	"B1/B2": {"B1/B2"},
	"F-1":   {"F1", "F1/F2", "F-1"},
	"H-1B":  {"H1B", "H-1B", "H1", "H-1"},
	"J-1":   {"J1", "J-1"},
	"L-1":   {"L1", "L-1"},
}

// VisaMatches reports whether a site-reported visa label satisfies the
// subscriber's chosen visa type.
func VisaMatches(pref, site string) bool {
	pref = strings.ToUpper(strings.TrimSpace(pref))
	site = strings.ToUpper(strings.TrimSpace(site))

	if labels, ok := visaEquivalents[pref]; ok {
		for _, l := range labels {
			if site == l {
				return true
			}
		}
		return false
	}
	return pref == site
}

// yearMatches reports whether the date string passes the year filter. Absent
// filters and absent dates always pass; availability is checked separately.
func yearMatches(date string, years []string) bool {
	if len(years) == 0 || date == "" || date == "N/A" {
		return true
	}
	for _, y := range years {
		if strings.Contains(date, y) {
			return true
		}
	}
	return false
}

// Filter partitions slots into those at the subscriber's preferred consulate
// and open alternatives elsewhere. Slots whose visa type doesn't match appear
// in neither list. Source order is preserved.
func Filter(slots []notifier.Slot, prefs *notifier.Preferences) (matching, alternatives []notifier.Slot) {
	var preferred, other []notifier.Slot

	for _, slot := range slots {
		if !VisaMatches(prefs.VisaType, slot.VisaType) {
			continue
		}

		if prefs.ConsulateCity == notifier.CityAll {
			if strings.HasSuffix(strings.TrimSpace(slot.Location), prefs.ConsulateType) {
				preferred = append(preferred, slot)
			} else {
				other = append(other, slot)
			}
		} else {
			if slot.Location == prefs.FullConsulate() {
				preferred = append(preferred, slot)
			} else {
				other = append(other, slot)
			}
		}
	}

	for _, slot := range preferred {
		if slot.Available() && yearMatches(slot.EarliestDate, prefs.YearFilter) {
			matching = append(matching, slot)
		}
	}
	for _, slot := range other {
		if slot.Available() && yearMatches(slot.EarliestDate, prefs.YearFilter) {
			alternatives = append(alternatives, slot)
		}
	}

	return matching, alternatives
}
