package rendered

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"visa-slot-watcher/internal/domain"
)

func TestDisabledTierFails(t *testing.T) {
	b := New("https://example.com", false, rate.NewLimiter(rate.Inf, 0), zerolog.Nop())
	_, err := b.Attempt(context.Background())
	if !errors.Is(err, domain.ErrTierFailed) {
		t.Fatalf("отключённый уровень должен отвечать отказом, получили %v", err)
	}
}

func TestBuildPayloadGroupsByVisaType(t *testing.T) {
	fetchedAt := time.Date(2025, 8, 27, 12, 0, 0, 0, time.UTC)
	rows := []tableRow{
		{Location: "NEW DELHI VAC", VisaType: "B1/B2 (Dropbox)", EarliestDate: "27 Aug, 25", Appointments: "12 slots", Updated: "Aug 27, 2025, 10:30 AM"},
		{Location: "CHENNAI VAC", VisaType: "B1/B2 (Dropbox)", Appointments: "no data"},
		{Location: "MUMBAI", VisaType: "F1 (Regular)", Appointments: "3"},
		{Location: "", VisaType: "H1B"},
	}

	payload, err := buildPayload(rows, fetchedAt)
	if err != nil {
		t.Fatalf("строки должны были собраться: %v", err)
	}
	if payload.CreatedOn != fetchedAt.UnixMilli() {
		t.Fatalf("createdon должен быть временем загрузки, получили %d", payload.CreatedOn)
	}

	dropbox := payload.Result["B1/B2 (Dropbox)"]
	if len(dropbox) != 2 {
		t.Fatalf("ожидали 2 записи Dropbox, получили %d", len(dropbox))
	}
	if dropbox[0].Appointments != 12 {
		t.Fatalf("число мест должно браться из цифр в ячейке: %+v", dropbox[0])
	}
	if dropbox[0].SourceTime != "2025-08-27 10:30:00" {
		t.Fatalf("время из ячейки разобрано неверно: %q", dropbox[0].SourceTime)
	}
	if dropbox[1].SourceTime != "2025-08-27 12:00:00" {
		t.Fatalf("нечитаемое время должно заменяться временем загрузки: %q", dropbox[1].SourceTime)
	}

	if len(payload.Result["F1 (Regular)"]) != 1 {
		t.Fatalf("записи других типов потерялись: %+v", payload.Result)
	}
	if _, ok := payload.Result["H1B"]; ok {
		t.Fatalf("строка без локации должна пропускаться")
	}
}

func TestBuildPayloadEmptyTable(t *testing.T) {
	if _, err := buildPayload(nil, time.Now()); !errors.Is(err, domain.ErrTierFailed) {
		t.Fatalf("пустая таблица должна считаться отказом уровня, получили %v", err)
	}
	rows := []tableRow{{Location: "DELHI", VisaType: ""}}
	if _, err := buildPayload(rows, time.Now()); !errors.Is(err, domain.ErrTierFailed) {
		t.Fatalf("таблица без пригодных строк должна считаться отказом, получили %v", err)
	}
}

func TestParseCount(t *testing.T) {
	cases := map[string]int{
		"12 slots":  12,
		"3":         3,
		"no data":   0,
		"":          0,
		"about 450": 450,
	}
	for in, want := range cases {
		if got := parseCount(in); got != want {
			t.Fatalf("parseCount(%q) = %d, ожидали %d", in, got, want)
		}
	}
}
