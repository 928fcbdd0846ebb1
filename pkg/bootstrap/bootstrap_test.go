package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z-wentao/docflow/pkg/config"
	"github.com/z-wentao/docflow/pkg/converter"
	"github.com/z-wentao/docflow/pkg/events"
	"github.com/z-wentao/docflow/pkg/storage"
)

func TestNewLocalApp(t *testing.T) {
	cfg := config.Default()
	cfg.Converter.Type = "passthrough"
	cfg.Queue.Workers = 2
	require.NoError(t, cfg.Validate())

	app, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)

	assert.IsType(t, &storage.JobStore{}, app.Store)
	assert.IsType(t, events.NopPublisher{}, app.Events)
	assert.Equal(t, 2, app.Processor.Workers())

	out, err := app.Processor.SubmitInline(context.Background(), []byte("doc"))
	require.NoError(t, err)
	assert.Equal(t, []byte("doc"), out)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, app.Close(ctx))
}

func TestNewConverter(t *testing.T) {
	conv, err := NewConverter(config.ConverterConfig{
		Type:      "unoconvert",
		BasePort:  2003,
		Instances: 2,
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &converter.Unoconv{}, conv)

	_, err = NewConverter(config.ConverterConfig{Type: "pandoc"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestNewRejectsUnknownBackends(t *testing.T) {
	_, err := NewStore(context.Background(), config.StorageConfig{Type: "s3"}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewPublisher(config.EventsConfig{Type: "kafka"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestCleanupLedgerSkipsUnsupportedStore(t *testing.T) {
	done := make(chan struct{})
	go func() {
		CleanupLedger(context.Background(), storage.NewJobStore(10), time.Millisecond, zerolog.Nop())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup loop should return for a store without expiry")
	}
}
