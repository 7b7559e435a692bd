package commands

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/extractflow/cmd/extractflow/ui"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/config"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/flow"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/ledger"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/observability"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/remote"
)

// hangingClient blocks CreateObject until the request context ends.
type hangingClient struct {
	remote.ObjectClient
	entered chan struct{}
}

func (c *hangingClient) CreateObject(ctx context.Context, _ remote.CreateObjectRequest) (*remote.Ack, error) {
	close(c.entered)
	<-ctx.Done()
	return nil, remote.NetworkError("create object", ctx.Err())
}

func newHangingSession(t *testing.T) (*session, *hangingClient) {
	t.Helper()
	client := &hangingClient{entered: make(chan struct{})}
	s := &session{observers: &observerMux{}, logger: observability.Nop()}
	s.controller = flow.NewController(client, ledger.New(ledger.Config{}, nil),
		flow.WithObserver(s.observers.observe))
	require.NoError(t, s.controller.SubmitFiles([]flow.UploadedFile{
		{Name: "a.txt", Size: 4, Content: []byte("X=1\n")},
	}))
	return s, client
}

func TestExtractUntilSettled_SecondSignalAbortsCallInFlight(t *testing.T) {
	s, client := newHangingSession(t)
	u := ui.Plain(&bytes.Buffer{}, strings.NewReader(""))
	sigs := make(chan os.Signal)

	done := make(chan error, 1)
	go func() { done <- extractUntilSettled(context.Background(), u, s, sigs) }()
	<-client.entered

	sigs <- os.Interrupt
	select {
	case err := <-done:
		t.Fatalf("first signal must not abort the call in flight, got %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, flow.AwaitingUpload, s.controller.State())
	assert.False(t, s.controller.InProgress())

	sigs <- os.Interrupt
	select {
	case err := <-done:
		assert.ErrorIs(t, err, flow.ErrStaleRun)
	case <-time.After(2 * time.Second):
		t.Fatal("extraction still blocked after the second signal")
	}

	records := s.controller.Ledger().Records()
	require.Len(t, records, 2)
	assert.Equal(t, ledger.PhaseSettled, records[1].Phase)
	assert.Equal(t, string(remote.KindNetwork), records[1].ErrorKind)
	assert.Empty(t, s.controller.Orphans())
}

func TestExtractUntilSettled_ReturnsWithoutSignals(t *testing.T) {
	path := writeInput(t, "X=1\n")
	setupCommand(t, "")

	s, err := openSession(context.Background(), appCfg, logger)
	require.NoError(t, err)
	defer s.Close()

	files, err := readFiles([]string{path})
	require.NoError(t, err)
	require.NoError(t, s.controller.SubmitFiles(files))

	require.NoError(t, extractUntilSettled(context.Background(), out, s, make(chan os.Signal)))
	require.NotNil(t, s.controller.Result())
	assert.Equal(t, "X=1", *s.controller.Result())
}

func TestOrphanHint(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Contains(t, orphanHint(cfg), "auto_cleanup_orphans")
	assert.Contains(t, orphanHint(cfg), "archive.driver")

	cfg.Archive.Driver = "sqlite"
	assert.Equal(t, "Run `extractflow cleanup` to delete them", orphanHint(cfg))
}

func TestRunAndCleanupCommandsRegistered(t *testing.T) {
	flag := runCmd.Flags().Lookup("cleanup")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)

	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"run", "session", "cleanup", "history", "stub"} {
		assert.True(t, names[name], name)
	}
}
