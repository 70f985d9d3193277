package app

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jonhpyo/MyHTS/internal/infra"
)

func TestBootstrap_InitializeAndRun(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "boot.db")
	cfg, err := infra.ParseConfig([]byte(fmt.Sprintf(`
database:
  driver: sqlite
  dsn: %q
trading:
  symbols: [aapl]
server:
  addr: "127.0.0.1:0"
`, dsn)))
	require.NoError(t, err)

	b := NewBootstrap(cfg)
	require.NoError(t, b.Initialize(context.Background()))
	defer b.Close()
	require.NotNil(t, b.Service)
	require.Equal(t, []string{"AAPL"}, b.Service.Symbols())

	acct, err := b.Service.OpenAccount(context.Background(), 1, "main")
	require.NoError(t, err)
	require.Equal(t, int64(10_000_000), int64(acct.Balance)/1_000_000)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
