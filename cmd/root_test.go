package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/target-scraper/internal/app"
	"github.com/JakeFAU/target-scraper/internal/cleanup"
	"github.com/JakeFAU/target-scraper/internal/config"
	"github.com/JakeFAU/target-scraper/internal/scraper"
)

// useApp makes the root command use a memory-backed app for the test.
func useApp(t *testing.T) *app.App {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	a, err := app.New(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	prev := newApp
	newApp = func(context.Context, string) (*app.App, error) { return a, nil }
	t.Cleanup(func() { newApp = prev })
	return a
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateOnMemoryStore(t *testing.T) {
	useApp(t)
	_, err := execute(t, "migrate")
	require.NoError(t, err)
}

func TestCleanupPrintsResult(t *testing.T) {
	useApp(t)
	out, err := execute(t, "cleanup")
	require.NoError(t, err)

	var res cleanup.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Zero(t, res.RecordsDeleted)
}

func TestRunRejectsBadArguments(t *testing.T) {
	useApp(t)
	_, err := execute(t, "run", "abc")
	require.ErrorContains(t, err, "invalid target id")

	useApp(t)
	_, err = execute(t, "run", "42")
	require.ErrorIs(t, err, scraper.ErrNotFound)

	_, err = execute(t, "run")
	require.Error(t, err)
}

func TestRunScrapesTarget(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Catalog</title></head><body><p>ok</p></body></html>`))
	}))
	defer site.Close()

	a := useApp(t)
	target, err := a.Targets.Create(context.Background(), scraper.Target{
		Name: "catalog",
		URL:  site.URL + "/catalog",
	})
	require.NoError(t, err)

	out, err := execute(t, "run", strconv.FormatInt(target.ID, 10))
	require.NoError(t, err)

	var job scraper.Job
	require.NoError(t, json.Unmarshal([]byte(out), &job))
	require.Equal(t, scraper.JobStatusCompleted, job.Status)
	require.Equal(t, target.ID, job.TargetID)
}

func TestAppFactoryFailureStopsCommand(t *testing.T) {
	prev := newApp
	newApp = func(context.Context, string) (*app.App, error) { return nil, scraper.ErrNotFound }
	t.Cleanup(func() { newApp = prev })

	_, err := execute(t, "migrate")
	require.ErrorContains(t, err, "failed to initialize application services")
}
