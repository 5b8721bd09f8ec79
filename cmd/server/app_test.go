package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollis-dev/quarry/internal/api"
	"github.com/hollis-dev/quarry/internal/config"
	"github.com/hollis-dev/quarry/internal/platform/logger"
)

// newTestApplication wires a full application over an embedded sqlite store.
func newTestApplication(t *testing.T) *application {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{Port: 0, LogLevel: "error"},
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			URL:    filepath.Join(t.TempDir(), "tasks.db"),
		},
		Queue: config.QueueConfig{
			MaxConcurrentTasks:     2,
			PollIntervalSeconds:    1,
			CleanupIntervalSeconds: 3600,
			RetentionDays:          1,
			MaxPayloadSizeBytes:    64 * 1024,
			CacheMaxTerminal:       16,
		},
	}

	log, err := logger.Setup(cfg.Server.LogLevel)
	require.NoError(t, err)

	app, err := newApplication(context.Background(), cfg, log)
	require.NoError(t, err)
	t.Cleanup(app.cleanup)
	return app
}

func TestApplicationServesTaskLifecycle(t *testing.T) {
	app := newTestApplication(t)
	server := httptest.NewServer(app.setupRouter())
	defer server.Close()

	// Health and metrics come up with the router.
	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Submit a batch echo task.
	resp, err = http.Post(server.URL+"/api/tasks", "application/json",
		strings.NewReader(`{"type":"batch","payload":{"hello":"world"},"name":"smoke"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var submitted api.SubmitTaskResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))
	require.NoError(t, resp.Body.Close())
	require.NotEmpty(t, submitted.TaskID)

	// Poll until the echo processor finishes it.
	require.Eventually(t, func() bool {
		resp, err := http.Get(server.URL + "/api/tasks/" + submitted.TaskID)
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var status api.StatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return false
		}
		return status.Status == "success"
	}, 10*time.Second, 100*time.Millisecond, "task never completed")

	// An unknown type is rejected up front.
	resp, err = http.Post(server.URL+"/api/tasks", "application/json",
		strings.NewReader(`{"type":"teleport"}`))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Stats reflect the completed work.
	resp, err = http.Get(server.URL + "/api/tasks/stats")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats struct {
		Store struct {
			Total int `json:"total"`
		} `json:"store"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Store.Total)
}

func TestOpenTaskStoreRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	_, _, err := openTaskStore(context.Background(), config.DatabaseConfig{
		Driver: "oracle",
		URL:    "whatever",
	})
	require.ErrorContains(t, err, "unsupported database driver")
}
