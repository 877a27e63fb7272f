package health

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_Update(t *testing.T) {
	monitor := NewMonitor()

	monitor.Update("nats", Status{Component: "wrong-name", Status: StateHealthy})

	got, ok := monitor.Get("nats")
	require.True(t, ok)
	assert.Equal(t, "nats", got.Component)
	assert.False(t, got.Timestamp.IsZero())

	_, ok = monitor.Get("http")
	assert.False(t, ok)
}

func TestMonitor_ConnectionCallback(t *testing.T) {
	monitor := NewMonitor()
	callback := monitor.ConnectionCallback("nats")

	callback(false)
	got, _ := monitor.Get("nats")
	assert.True(t, got.IsUnhealthy())

	callback(true)
	got, _ = monitor.Get("nats")
	assert.True(t, got.IsHealthy())
	assert.Equal(t, "Connected", got.Message)
}

func TestMonitor_StatusesSorted(t *testing.T) {
	monitor := NewMonitor()
	monitor.UpdateHealthy("store", "")
	monitor.UpdateDegraded("http", "")
	monitor.UpdateUnhealthy("nats", "")

	var names []string
	for _, s := range monitor.Statuses() {
		names = append(names, s.Component)
	}
	assert.Equal(t, []string{"http", "nats", "store"}, names)
}

func TestMonitor_Concurrent(t *testing.T) {
	monitor := NewMonitor()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			monitor.UpdateHealthy(fmt.Sprintf("component-%d", i%5), "ok")
		}(i)
		go func() {
			defer wg.Done()
			_ = monitor.Statuses()
		}()
	}
	wg.Wait()

	assert.Len(t, monitor.Statuses(), 5)
}
