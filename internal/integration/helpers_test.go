package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatrelay/internal/app"
	"chatrelay/internal/config"
	"chatrelay/internal/testutil"
)

const frameTimeout = 3 * time.Second

// relay runs a full application on a free local port
type relay struct {
	app *app.Application
}

func newConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Database.Path = filepath.Join(t.TempDir(), "integration.db")
	return cfg
}

func startRelay(t *testing.T, cfg *config.Config) *relay {
	t.Helper()
	application, err := app.NewApplication(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
	})
	return &relay{app: application}
}

// join connects a client and consumes its initial history frame
func (r *relay) join(t *testing.T, room, userID, name string) (*testutil.Client, testutil.Frame) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()

	client, err := testutil.Dial(ctx, r.app.Addr(), room, userID, name)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	history, err := client.WaitFor("chat.history", frameTimeout)
	require.NoError(t, err)
	return client, history
}
