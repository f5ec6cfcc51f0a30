package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersExposed(t *testing.T) {
	m := New()
	m.LedgerMutations.WithLabelValues("credit", Outcome(nil)).Inc()
	m.LedgerMutations.WithLabelValues("debit", Outcome(errors.New("x"))).Inc()

	if got := testutil.ToFloat64(m.LedgerMutations.WithLabelValues("credit", "ok")); got != 1 {
		t.Fatalf("expected 1 credit, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `congo_shop_ledger_mutations_total{operation="debit",outcome="error"} 1`) {
		t.Fatalf("metric not exposed:\n%s", body)
	}
}

func TestNewIsolatedRegistries(t *testing.T) {
	// Each call owns its registry, so building twice must not panic.
	_ = New()
	_ = New()
}
