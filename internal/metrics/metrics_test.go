package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if jobsTotal == nil || fetchTotal == nil || httpRequestsTotal == nil || cleanupDeletedTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpersIncrementCollectors(t *testing.T) {
	Init()

	before := testutil.ToFloat64(jobsTotal.WithLabelValues("manual", "completed"))
	ObserveJob("manual", "completed")
	if got := testutil.ToFloat64(jobsTotal.WithLabelValues("manual", "completed")); got != before+1 {
		t.Fatalf("expected jobs counter %v, got %v", before+1, got)
	}

	beforeCleanup := testutil.ToFloat64(cleanupDeletedTotal.WithLabelValues("logs"))
	ObserveCleanup("logs", 0)
	ObserveCleanup("logs", 3)
	if got := testutil.ToFloat64(cleanupDeletedTotal.WithLabelValues("logs")); got != beforeCleanup+3 {
		t.Fatalf("expected cleanup counter %v, got %v", beforeCleanup+3, got)
	}

	beforeBytes := testutil.ToFloat64(fetchBytesTotal.WithLabelValues("metrics.example"))
	ObserveFetch("https://metrics.example/page", "success", 512, 20*time.Millisecond)
	if got := testutil.ToFloat64(fetchBytesTotal.WithLabelValues("metrics.example")); got != beforeBytes+512 {
		t.Fatalf("expected bytes counter %v, got %v", beforeBytes+512, got)
	}
}

func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
