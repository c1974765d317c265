package notifier

import (
	"fmt"
	"testing"
	"time"
)

func TestSlotAvailable(t *testing.T) {
	tests := []struct {
		name string
		slot Slot
		want bool
	}{
		{
			name: "open slot",
			slot: Slot{Location: "MUMBAI VAC", EarliestDate: "2025-06-01", SlotsAvailable: "3"},
			want: true,
		},
		{
			name: "zero slots",
			slot: Slot{Location: "CHENNAI VAC", EarliestDate: "2025-06-01", SlotsAvailable: "0"},
			want: false,
		},
		{
			name: "no date sentinel",
			slot: Slot{Location: "CHENNAI VAC", EarliestDate: "N/A", SlotsAvailable: "3"},
			want: false,
		},
		{
			name: "blank date",
			slot: Slot{Location: "CHENNAI VAC", EarliestDate: "   ", SlotsAvailable: "3"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.slot.Available(); got != tt.want {
				t.Errorf("Available() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSlotKey(t *testing.T) {
	s := Slot{Location: "MUMBAI VAC", EarliestDate: "2025-03-01"}
	if got, want := s.Key(), "MUMBAI VAC_2025-03-01"; got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
}

func TestPreferencesComplete(t *testing.T) {
	p := &Preferences{ChatID: 1}
	if p.Complete() {
		t.Error("empty preferences should not be complete")
	}
	p.VisaType = "B1"
	p.ConsulateCity = "ALL"
	p.ConsulateType = "VAC"
	if p.Complete() {
		t.Error("preferences without interval should not be complete")
	}
	p.CheckInterval = 5 * time.Minute
	if !p.Complete() {
		t.Error("fully populated preferences should be complete")
	}
}

func TestMarkNotified(t *testing.T) {
	p := &Preferences{}

	if !p.MarkNotified("MUMBAI VAC_2025-03-01") {
		t.Error("first occurrence should be new")
	}
	if p.MarkNotified("MUMBAI VAC_2025-03-01") {
		t.Error("second occurrence should be a repeat")
	}
	if !p.WasNotified("MUMBAI VAC_2025-03-01") {
		t.Error("key should be remembered")
	}
}

func TestMarkNotifiedBounded(t *testing.T) {
	p := &Preferences{}
	for i := 0; i < MaxNotifiedSlots*3; i++ {
		p.MarkNotified(fmt.Sprintf("MUMBAI VAC_2025-01-%03d", i))
	}
	if len(p.NotifiedSlots) != MaxNotifiedSlots {
		t.Fatalf("history length = %d, want %d", len(p.NotifiedSlots), MaxNotifiedSlots)
	}
	// Oldest entries must have been evicted, newest kept.
	if p.WasNotified("MUMBAI VAC_2025-01-000") {
		t.Error("oldest key should have been evicted")
	}
	if !p.WasNotified(fmt.Sprintf("MUMBAI VAC_2025-01-%03d", MaxNotifiedSlots*3-1)) {
		t.Error("newest key should be retained")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	p := &Preferences{ChatID: 7, YearFilter: []string{"2025"}, NotifiedSlots: []string{"a_b"}}
	c := p.Clone()
	c.YearFilter[0] = "2026"
	c.MarkNotified("c_d")
	if p.YearFilter[0] != "2025" {
		t.Error("clone shares year filter backing array")
	}
	if len(p.NotifiedSlots) != 1 {
		t.Error("clone shares notified slots")
	}
}
