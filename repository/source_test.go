package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhikook/chililog-server/entry"
	"github.com/zhikook/chililog-server/errors"
)

const seedYAML = `
repositories:
  - name: sandbox
    startup_status: Online
    write_queue_durable: true
    write_queue_worker_count: 2
    write_queue_max_memory: 1048576
    write_queue_max_memory_policy: Drop
    write_queue_page_size: 65536
    max_keywords: 10
    parsers:
      - name: pipes
        type: delimited
        applies_to: AllowFilter
        applies_to_source_filter: "app*"
        parse_field_error_handling: SkipEntry
        properties:
          delimiter: "|"
        fields:
          - name: count
            data_type: Integer
            properties:
              position: "2"
  - name: audit
    startup_status: Offline
    write_queue_worker_count: 1
    write_queue_max_memory: -1
    write_queue_max_memory_policy: Page
    write_queue_page_size: 4096
    max_keywords: -1
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repositories.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileSource_List(t *testing.T) {
	src := NewFileSource(writeFile(t, seedYAML))

	configs, err := src.List(context.Background())
	require.NoError(t, err)
	require.Len(t, configs, 2)

	sandbox := configs[0]
	assert.Equal(t, "sandbox", sandbox.Name)
	assert.Equal(t, 2, sandbox.WriteQueueWorkerCount)
	assert.Equal(t, MaxMemoryPolicyDrop, sandbox.WriteQueueMaxMemoryPolicy)
	require.Len(t, sandbox.Parsers, 1)
	assert.Equal(t, SkipEntry, sandbox.Parsers[0].ErrorHandling())
	assert.Equal(t, "app*", sandbox.Parsers[0].AppliesToSourceFilter)
	assert.Equal(t, entry.DataTypeInteger, sandbox.Parsers[0].Fields[0].DataType)

	assert.Equal(t, StatusOffline, configs[1].StartupStatus)
	assert.Equal(t, int64(-1), configs[1].WriteQueueMaxMemory)
}

func TestFileSource_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewFileSource(filepath.Join(t.TempDir(), "missing.yaml")).List(ctx)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewFileSource(writeFile(t, "repositories: [")).List(ctx)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewFileSource(writeFile(t, `
repositories:
  - name: "bad name"
    startup_status: Online
    write_queue_worker_count: 1
    write_queue_max_memory: -1
    write_queue_max_memory_policy: Page
    write_queue_page_size: 10
`)).List(ctx)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	dup := `
repositories:
  - name: a
    startup_status: Online
    write_queue_worker_count: 1
    write_queue_max_memory: -1
    write_queue_max_memory_policy: Page
    write_queue_page_size: 10
  - name: a
    startup_status: Online
    write_queue_worker_count: 1
    write_queue_max_memory: -1
    write_queue_max_memory_policy: Page
    write_queue_page_size: 10
`
	_, err = NewFileSource(writeFile(t, dup)).List(ctx)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}
