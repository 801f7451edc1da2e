package normalize

import (
	"testing"
	"time"

	"visa-slot-watcher/internal/domain"
)

var ist = time.FixedZone("IST", 5*3600+1800)

func TestNormalizeFreshness(t *testing.T) {
	n := New(5*time.Hour+30*time.Minute, ist)
	ref := time.Date(2025, 8, 14, 12, 0, 0, 0, ist)
	src := ref.Add(-10*time.Minute - (5*time.Hour + 30*time.Minute))

	rec := n.Normalize(domain.RawRecord{
		VisaType:   "B2 (Dropbox)",
		Location:   "NEW DELHI VAC",
		SourceTime: src.Format("2006-01-02 15:04:05"),
	}, ref)

	if rec.ParseFailed {
		t.Fatalf("не ожидали ошибку разбора времени")
	}
	if got := rec.FreshnessMinutes(); got != 10 {
		t.Fatalf("ожидали свежесть 10 минут, получили %v", got)
	}
}

func TestNormalizeBadTimestamp(t *testing.T) {
	n := New(0, ist)
	rec := n.Normalize(domain.RawRecord{VisaType: "F1", SourceTime: "вчера"}, time.Now())
	if !rec.ParseFailed {
		t.Fatalf("ожидали пометку об ошибке разбора")
	}
}

func TestBaseTypeAndSubtype(t *testing.T) {
	cases := []struct {
		label   string
		base    string
		subtype string
	}{
		{"B1/B2 (Dropbox)", "B1/B2", "Dropbox"},
		{"H1B (Blanket)", "H1B", "Blanket"},
		{"F1 (Emergency)", "F1", "Emergency"},
		{"B2 (Regular)", "B2", "Regular"},
		{"L1 (VIP)", "L1", "Other"},
		{"J1", "J1", "Other"},
	}
	for _, tc := range cases {
		if got := BaseType(tc.label); got != tc.base {
			t.Fatalf("%s: ожидали базовый тип %q, получили %q", tc.label, tc.base, got)
		}
		if got := Subtype(tc.label); got != tc.subtype {
			t.Fatalf("%s: ожидали подтип %q, получили %q", tc.label, tc.subtype, got)
		}
	}
}

func TestCanonDate(t *testing.T) {
	cases := []struct {
		in    string
		out   string
		known bool
	}{
		{"27 Aug, 25", "2025-08-27", true},
		{"3 Sep 25", "2025-09-03", true},
		{"27 Aug, 2025", "2025-08-27", true},
		{"No dates", "No dates", false},
		{"27 Foo, 25", "27 Foo, 25", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, known := CanonDate(tc.in)
		if got != tc.out || known != tc.known {
			t.Fatalf("%q: ожидали (%q, %v), получили (%q, %v)", tc.in, tc.out, tc.known, got, known)
		}
	}
}

func TestNormalizeAllDeduplicates(t *testing.T) {
	n := New(0, ist)
	ref := time.Date(2025, 8, 14, 12, 0, 0, 0, ist)
	payload := domain.RawPayload{Result: map[string][]domain.RawRecord{
		"B2 (Dropbox)": {
			{VisaType: "B2 (Dropbox)", Location: "CHENNAI VAC", Appointments: 1, SourceTime: "2025-08-14 11:00:00"},
			{VisaType: "B2 (Dropbox)", Location: "CHENNAI VAC", Appointments: 7, SourceTime: "2025-08-14 11:30:00"},
		},
		"F1": {
			{VisaType: "F1", Location: "MUMBAI", SourceTime: "2025-08-14 10:00:00"},
		},
	}}

	records := n.NormalizeAll(payload, ref)
	if len(records) != 2 {
		t.Fatalf("ожидали 2 записи после схлопывания, получили %d", len(records))
	}
	for _, rec := range records {
		if rec.VisaType == "B2 (Dropbox)" && rec.Appointments != 7 {
			t.Fatalf("ожидали, что выживет последняя запись, получили %d мест", rec.Appointments)
		}
	}
}

func TestNormalizeAllFillsLabelFromKey(t *testing.T) {
	n := New(0, ist)
	payload := domain.RawPayload{Result: map[string][]domain.RawRecord{
		"H1B (Dropbox)": {{Location: "HYDERABAD VAC", SourceTime: "2025-08-14 10:00:00"}},
	}}
	records := n.NormalizeAll(payload, time.Date(2025, 8, 14, 12, 0, 0, 0, ist))
	if len(records) != 1 {
		t.Fatalf("ожидали 1 запись, получили %d", len(records))
	}
	if records[0].VisaType != "H1B (Dropbox)" {
		t.Fatalf("ожидали метку из ключа, получили %q", records[0].VisaType)
	}
}

func TestSortRecordsUnknownLast(t *testing.T) {
	records := []domain.NormalizedRecord{
		{CanonDate: "No dates", DateKnown: false},
		{CanonDate: "2025-09-01", DateKnown: true},
		{CanonDate: "2025-08-27", DateKnown: true},
	}
	SortRecords(records)
	if records[0].CanonDate != "2025-08-27" || records[1].CanonDate != "2025-09-01" {
		t.Fatalf("распознанные даты должны идти первыми по возрастанию")
	}
	if records[2].DateKnown {
		t.Fatalf("нераспознанная дата должна быть последней")
	}
}

func TestCategory(t *testing.T) {
	cases := map[string]string{
		"B1/B2": "Business/Tourism",
		"F1":    "Student",
		"H1B":   "Skilled Worker",
		"L1":    "Intracompany Transfer",
		"O1":    "Extraordinary Ability",
		"J1":    "Exchange Visitor",
		"H4":    "H4 Dependent",
		"K1":    "Other",
	}
	for label, want := range cases {
		if got := Category(label); got != want {
			t.Fatalf("%s: ожидали категорию %q, получили %q", label, want, got)
		}
	}
}
