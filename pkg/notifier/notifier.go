// Package notifier contains the core domain types for the visa slot
// notification service.
package notifier

import (
	"fmt"
	"strings"
	"time"
)

// MaxNotifiedSlots bounds the per-subscriber dedup history. Oldest keys are
// evicted first.
const MaxNotifiedSlots = 50

// CityAll is the wildcard consulate city matching every location of the
// chosen consulate type.
const CityAll = "ALL"

// Menu option tables for the preference wizard.
var (
	VisaTypes      = []string{"B1", "B2", "B1/B2", "F-1", "H-1B", "J-1", "L-1"}
	Cities         = []string{CityAll, "MUMBAI", "HYDERABAD", "CHENNAI", "NEW DELHI", "KOLKATA"}
	ConsulateTypes = []string{"CONSULAR", "VAC"}
	YearOptions    = []string{"No Filter", "2025", "2026", "2027"}

	// IntervalOptions lists the labels in display order; Intervals maps
	// them to durations.
	IntervalOptions = []string{"5 min", "10 min", "30 min", "60 min"}
	Intervals       = map[string]time.Duration{
		"5 min":  5 * time.Minute,
		"10 min": 10 * time.Minute,
		"30 min": 30 * time.Minute,
		"60 min": 60 * time.Minute,
	}
)

// Slot is one row scraped from the availability page. All fields are opaque
// strings as published by the site; Slots are immutable once parsed and are
// never persisted directly.
type Slot struct {
	Location       string // e.g. "MUMBAI VAC"
	VisaType       string // site-side label, e.g. "B1/B2"
	LastUpdated    string
	EarliestDate   string // may be "N/A"
	SlotsAvailable string // numeric-looking but compared only against "0"
}

// Available reports whether the slot can actually be booked.
func (s Slot) Available() bool {
	return s.SlotsAvailable != "0" &&
		s.EarliestDate != "N/A" &&
		strings.TrimSpace(s.EarliestDate) != ""
}

// Key identifies a slot for dedup purposes. The exact construction is
// persisted in subscriber records, so it must not change.
func (s Slot) Key() string {
	return s.Location + "_" + s.EarliestDate
}

func (s Slot) String() string {
	return fmt.Sprintf("Location: %s, Type: %s, Date: %s, Slots: %s",
		s.Location, s.VisaType, s.EarliestDate, s.SlotsAvailable)
}

// Preferences is one subscriber's monitoring configuration plus the loop
// state that must survive a restart.
type Preferences struct {
	ChatID          int64         `json:"chat_id"`
	VisaType        string        `json:"visa_type"`
	ConsulateCity   string        `json:"consulate_city"`
	ConsulateType   string        `json:"consulate_type"`
	CheckInterval   time.Duration `json:"check_interval"`
	YearFilter      []string      `json:"year_filter,omitempty"` // nil = no filter
	NoSlotAlertSent bool          `json:"no_slot_alert_sent"`
	NotifiedSlots   []string      `json:"notified_slots,omitempty"`
	Active          bool          `json:"active"` // monitoring was running; resumed on boot
	CreatedAt       time.Time     `json:"created_at"`
}

// Complete reports whether every field required to start monitoring is set.
func (p *Preferences) Complete() bool {
	return p.VisaType != "" &&
		p.ConsulateCity != "" &&
		p.ConsulateType != "" &&
		p.CheckInterval > 0
}

// FullConsulate returns the exact location string for a specific city choice,
// e.g. "MUMBAI VAC".
func (p *Preferences) FullConsulate() string {
	if p.ConsulateCity == "" || p.ConsulateType == "" {
		return "Not set"
	}
	return p.ConsulateCity + " " + p.ConsulateType
}

// Summary renders the settings overview shown by the wizard and /status.
func (p *Preferences) Summary() string {
	visa := p.VisaType
	if visa == "" {
		visa = "Not set"
	}
	years := "None"
	if len(p.YearFilter) > 0 {
		years = strings.Join(p.YearFilter, ", ")
	}
	interval := "Not set"
	if p.CheckInterval > 0 {
		interval = fmt.Sprintf("%d min", int(p.CheckInterval.Minutes()))
	}
	return fmt.Sprintf("• Visa Type: %s\n• Consulate: %s\n• Year Filter: %s\n• Interval: %s",
		visa, p.FullConsulate(), years, interval)
}

// WasNotified reports whether the slot key has already been alerted.
func (p *Preferences) WasNotified(key string) bool {
	for _, k := range p.NotifiedSlots {
		if k == key {
			return true
		}
	}
	return false
}

// MarkNotified records an alerted slot key and reports whether it was new.
// The history keeps the most recent MaxNotifiedSlots entries.
func (p *Preferences) MarkNotified(key string) bool {
	if p.WasNotified(key) {
		return false
	}
	p.NotifiedSlots = append(p.NotifiedSlots, key)
	if n := len(p.NotifiedSlots); n > MaxNotifiedSlots {
		p.NotifiedSlots = p.NotifiedSlots[n-MaxNotifiedSlots:]
	}
	return true
}

// Clone returns an independent copy for a monitor loop to own while the
// wizard keeps editing the stored record.
func (p *Preferences) Clone() *Preferences {
	c := *p
	if p.YearFilter != nil {
		c.YearFilter = append([]string(nil), p.YearFilter...)
	}
	if p.NotifiedSlots != nil {
		c.NotifiedSlots = append([]string(nil), p.NotifiedSlots...)
	}
	return &c
}
