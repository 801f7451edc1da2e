package markup

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"visa-slot-watcher/internal/domain"
)

const slotsJSON = `{"result":{"B1/B2 (Regular)":[{"visa_location":"CHENNAI","createdon":"2025-08-27 09:30:00"}]}}`

func noLimit() *rate.Limiter {
	return rate.NewLimiter(rate.Inf, 0)
}

func TestAttemptEmbeddedData(t *testing.T) {
	page := `<html><script>
		var slotsData = ` + slotsJSON + `;
		renderTable(slotsData);
	</script></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer srv.Close()

	e := New(srv.URL, noLimit(), zerolog.Nop())
	payload, err := e.Attempt(context.Background())
	if err != nil {
		t.Fatalf("встроенные данные должны были найтись: %v", err)
	}
	if len(payload.Result["B1/B2 (Regular)"]) != 1 {
		t.Fatalf("данные разобраны неверно: %+v", payload)
	}
}

func TestAttemptLinkedData(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<script>$.ajax({url: "/data/slots.json", dataType: "json"});</script>`))
	})
	mux.HandleFunc("/data/slots.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(slotsJSON))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	e := New(srv.URL+"/page", noLimit(), zerolog.Nop())
	payload, err := e.Attempt(context.Background())
	if err != nil {
		t.Fatalf("ссылка из разметки должна была сработать: %v", err)
	}
	if len(payload.Result) != 1 {
		t.Fatalf("данные разобраны неверно: %+v", payload)
	}
}

func TestAttemptBrokenEmbeddedFallsThrough(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<script>
			var slotsData = {broken};
			fetch("/ok.json").then(render);
		</script>`))
	})
	mux.HandleFunc("/ok.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(slotsJSON))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	e := New(srv.URL+"/page", noLimit(), zerolog.Nop())
	if _, err := e.Attempt(context.Background()); err != nil {
		t.Fatalf("после мусорного объекта должна пробоваться ссылка: %v", err)
	}
}

func TestAttemptNothingFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>plain page</body></html>`))
	}))
	defer srv.Close()

	e := New(srv.URL, noLimit(), zerolog.Nop())
	if _, err := e.Attempt(context.Background()); !errors.Is(err, domain.ErrTierFailed) {
		t.Fatalf("ожидали ErrTierFailed, получили %v", err)
	}
}

func TestAttemptPageUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	e := New(srv.URL, noLimit(), zerolog.Nop())
	if _, err := e.Attempt(context.Background()); !errors.Is(err, domain.ErrTierFailed) {
		t.Fatalf("ожидали ErrTierFailed, получили %v", err)
	}
}

func TestLinkedURLsPrefersS3(t *testing.T) {
	page := `data loaded from "https://cvs-bucket.s3.ap-south-1.amazonaws.com/last-availability.json"
		plus $.ajax({url: "/fallback.json"})`
	e := New("https://example.com/page", noLimit(), zerolog.Nop())

	urls := e.linkedURLs(page)
	if len(urls) != 2 {
		t.Fatalf("ожидали две ссылки, получили %v", urls)
	}
	if urls[0] != "https://cvs-bucket.s3.ap-south-1.amazonaws.com/last-availability.json" {
		t.Fatalf("ссылка на S3 должна идти первой: %v", urls)
	}
	if urls[1] != "https://example.com/fallback.json" {
		t.Fatalf("относительная ссылка должна разрешаться от страницы: %v", urls)
	}
}
