package engine

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhikook/chililog-server/entry"
	"github.com/zhikook/chililog-server/metric"
	"github.com/zhikook/chililog-server/parser"
	"github.com/zhikook/chililog-server/queue"
	"github.com/zhikook/chililog-server/repository"
	"github.com/zhikook/chililog-server/storage"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

func strPtr(s string) *string { return &s }

func envelope(message string) queue.Envelope {
	return queue.Envelope{
		Timestamp: "2011-01-01T00:00:00.000Z",
		Source:    "junit",
		Host:      strPtr("localhost"),
		Severity:  "4",
		Message:   message,
	}
}

func field(name string, dataType entry.DataType, props ...string) repository.FieldConfig {
	fc := repository.FieldConfig{Name: name, DataType: dataType, Properties: map[string]string{}}
	for i := 0; i+1 < len(props); i += 2 {
		fc.Properties[props[i]] = props[i+1]
	}
	return fc
}

// delimitedRepository has one pipe-delimited catch-all parser with six typed fields
func delimitedRepository(name string, workers int) repository.Config {
	cfg := repository.NewConfig(name)
	cfg.WriteQueueWorkerCount = workers
	cfg.Parsers = []repository.ParserConfig{{
		Name:               "parser1",
		Type:               parser.TypeDelimited,
		AppliesTo:          repository.AppliesToAll,
		FieldErrorHandling: repository.SkipEntry,
		Properties:         map[string]string{parser.PropertyDelimiter: "|"},
		Fields: []repository.FieldConfig{
			field("field1", entry.DataTypeString, parser.PropertyPosition, "1"),
			field("field2", entry.DataTypeInteger, parser.PropertyPosition, "2"),
			field("field3", entry.DataTypeLong, parser.PropertyPosition, "3"),
			field("field4", entry.DataTypeDouble, parser.PropertyPosition, "4"),
			field("field5", entry.DataTypeDate, parser.PropertyPosition, "5", parser.PropertyDateFormat, "yyyy-MM-dd HH:mm:ss"),
			field("field6", entry.DataTypeBoolean, parser.PropertyPosition, "6"),
		},
	}}
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

type fixture struct {
	broker  *fakeBroker
	store   *fakeStore
	metrics *Metrics
	deps    Dependencies
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	metrics, err := NewMetrics(metric.NewMetricsRegistry())
	require.NoError(t, err)

	f := &fixture{broker: newFakeBroker(), store: newFakeStore(), metrics: metrics}
	f.deps = Dependencies{
		Broker:   f.broker,
		Store:    f.store,
		Parsers:  parser.NewFactory(),
		Settings: Settings{PollTimeout: 20 * time.Millisecond, RedeliveryDelay: time.Millisecond},
		Metrics:  metrics,
		Logger:   testLogger(),
	}
	return f
}

// withStore swaps the entry store for every repository created afterwards
func (f *fixture) withStore(store storage.EntryStore) {
	f.deps.Store = store
}

func startRepository(t *testing.T, f *fixture, cfg repository.Config) *Repository {
	t.Helper()
	repo := NewRepository(cfg, f.deps)
	require.NoError(t, repo.Start(context.Background()))
	t.Cleanup(func() {
		if repo.Status() == repository.StatusOnline {
			_ = repo.Stop(context.Background())
		}
	})
	return repo
}

func lines(n int, format func(i int) string) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = format(i)
	}
	return out
}

func isBad(line string) bool { return !strings.Contains(line, "|") }
