//go:build integration

package browser_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"reconagent/internal/browser"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRodObserver_Integration(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		fmt.Fprintln(w, `<html><head><title>Hello</title></head><body><h1>Hello World</h1>
<script>document.body.insertAdjacentHTML('beforeend', '<p id="late">rendered</p>')</script></body></html>`)
	}))
	defer ts.Close()

	cfg := browser.DefaultConfig()
	cfg.NavigationTimeout = "10s"
	cfg.Screenshot = true
	o := browser.NewRodObserver(cfg)
	defer func() {
		if err := o.Close(); err != nil {
			t.Logf("close: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	obs, err := o.Observe(ctx, ts.URL)
	require.NoError(t, err)
	assert.Equal(t, "Hello", obs.Title)
	assert.Equal(t, http.StatusOK, obs.Status)
	assert.Equal(t, "yes", obs.Headers["x-test"])
	assert.Contains(t, obs.HTML, `id="late"`, "scripts run before the snapshot")
	assert.NotEmpty(t, obs.Screenshot)

	// The browser is reused.
	_, err = o.Observe(ctx, ts.URL)
	require.NoError(t, err)
}
