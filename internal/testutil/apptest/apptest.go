// Package apptest wires the whole runtime on the in-memory store for
// handler tests.
package apptest

import (
	"net/http"
	"testing"
	"time"

	"github.com/dalemusser/liveplay/internal/app/services"
	"github.com/dalemusser/liveplay/internal/app/store/memory"
	"github.com/dalemusser/liveplay/internal/app/system/clock"
	"github.com/dalemusser/liveplay/internal/testutil"
	"go.uber.org/zap"
)

// Start is the fake clock's initial time.
var Start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// App is a wired runtime plus handles for driving it.
type App struct {
	*services.Services
	Clock    *clock.Fake
	Fixtures *testutil.Fixtures
}

// New builds an App. cfg may be the zero value.
func New(t *testing.T, cfg services.Config) *App {
	t.Helper()
	set := memory.New().Set()
	clk := clock.NewFake(Start)
	if cfg.ActivityLogMode == "" {
		cfg.ActivityLogMode = "db"
	}
	svc := services.New(set, clk, zap.NewNop(), cfg)
	t.Cleanup(svc.Hub.Close)
	return &App{
		Services: svc,
		Clock:    clk,
		Fixtures: testutil.NewFixtures(t, set, Start),
	}
}

// Serve runs req through h and returns the recorder.
func Serve(h http.Handler, req *http.Request) *testutil.ResponseRecorder {
	rec := testutil.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
