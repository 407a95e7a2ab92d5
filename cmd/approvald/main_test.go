package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/xraph/approvals"
	"github.com/xraph/approvals/approval"
	"github.com/xraph/approvals/notify"
	"github.com/xraph/approvals/store/memory"
	"github.com/xraph/approvals/store/sqlite"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	s, err := openStore(ctx, approvals.StoreConfig{Driver: "memory"}, discard())
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, s)

	s, err = openStore(ctx, approvals.StoreConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "approvals.db")}, discard())
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Store{}, s)
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Close())

	_, err = openStore(ctx, approvals.StoreConfig{Driver: "cassandra"}, discard())
	assert.ErrorIs(t, err, approvals.ErrNoStore)

	_, err = openStore(ctx, approvals.StoreConfig{Driver: "redis", DSN: "not a url"}, discard())
	assert.Error(t, err)
}

func TestBuildNotifier_FallsBackToLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	mux := buildNotifier(approvals.NotifyConfig{}, notify.NoLinks{}, logger)

	for _, ch := range []approval.Channel{approval.ChannelEmail, approval.ChannelSlack} {
		buf.Reset()
		err := mux.SendApprovalRequest(context.Background(), ch, approval.Notification{
			InstanceID: "wfrun_test",
			Request:    approval.RequestMetadata{ApplicantID: "alice", ApplicationName: "model.png"},
		})
		require.NoError(t, err)
		assert.Contains(t, buf.String(), "approval requested", "channel %s", ch)
	}
}

func TestSetupTracing(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	shutdown, err := setupTracing(approvals.TelemetryConfig{}, io.Discard)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	var buf bytes.Buffer
	shutdown, err = setupTracing(approvals.TelemetryConfig{StdoutTraces: true}, &buf)
	require.NoError(t, err)
	_, span := otel.Tracer("test").Start(context.Background(), "smoke")
	span.End()
	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "smoke")
}
