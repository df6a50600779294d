package main

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/chronoflow/internal/testutil"
)

func Test_run(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	port, err := testutil.RandomPort()
	require.NoError(t, err, "failed to get random port to start server")
	listenAddr := fmt.Sprintf("localhost:%d", port)

	getwd := func() (string, error) { return t.TempDir(), nil }
	noenv := func(string) string { return "" }

	t.Run("serve and stop with context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)

		done := make(chan error, 1)
		go func() {
			done <- run(ctx, noenv, getwd, []string{
				"--address", listenAddr,
				"--log-level", "debug",
				"--environment", "test",
				"--database", pg.DSN,
				"--jwt-secret", "access",
				"--jwt-refresh-secret", "refresh",
			})
		}()

		require.Eventually(t, func() bool {
			resp, err := http.Get("http://" + listenAddr + "/health")
			if err != nil {
				return false
			}
			_ = resp.Body.Close()
			return resp.StatusCode == http.StatusOK
		}, 5*time.Second, 50*time.Millisecond, "server should become healthy")

		cancel()

		select {
		case err := <-done:
			require.NoError(t, err, "on correct stop should not return error")
		case <-time.After(10 * time.Second):
			t.Fatal("server did not stop")
		}
	})

	t.Run("fail without secrets", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		t.Cleanup(cancel)

		err := run(ctx, noenv, getwd, []string{
			"--address", listenAddr,
			"--database", pg.DSN,
		})

		require.Error(t, err, "secrets are required")
	})

	t.Run("fail with same secrets", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		t.Cleanup(cancel)

		err := run(ctx, noenv, getwd, []string{
			"--address", listenAddr,
			"--environment", "test",
			"--database", pg.DSN,
			"--jwt-secret", "same",
			"--jwt-refresh-secret", "same",
		})

		require.Error(t, err)
	})

	t.Run("fail with invalid trusted proxies", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		t.Cleanup(cancel)

		err := run(ctx, noenv, getwd, []string{
			"--address", listenAddr,
			"--environment", "test",
			"--database", pg.DSN,
			"--jwt-secret", "access",
			"--jwt-refresh-secret", "refresh",
			"--trusted-proxies", "not-a-cidr",
		})

		require.ErrorContains(t, err, "trusted proxies")
	})
}
