package netstate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMonitor_EdgeTriggered(t *testing.T) {
	m := NewMonitor(false, quietLogger())
	var ups, downs int
	m.OnBecameOnline(func() { ups++ })
	m.OnBecameOffline(func() { downs++ })

	m.Signal(false) // no change
	require.Zero(t, ups+downs)

	m.Signal(true)
	m.Signal(true) // repeated signal is not a transition
	require.Equal(t, 1, ups)
	require.True(t, m.IsOnline())

	m.Signal(false)
	m.Signal(true)
	require.Equal(t, 2, ups)
	require.Equal(t, 1, downs)
	require.Equal(t, int64(3), m.Transitions())
}

func TestMonitor_RegistrationOrder(t *testing.T) {
	m := NewMonitor(false, quietLogger())
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		m.OnBecameOnline(func() { order = append(order, i) })
	}
	m.Signal(true)
	require.Equal(t, []int{0, 1, 2}, order)
}

func TestMonitor_Unregister(t *testing.T) {
	m := NewMonitor(false, quietLogger())
	var first, second int
	var unregisterSecond func()
	unregisterFirst := m.OnBecameOnline(func() {
		first++
		// unregistering a later handler during delivery suppresses it
		unregisterSecond()
	})
	unregisterSecond = m.OnBecameOnline(func() { second++ })

	m.Signal(true)
	require.Equal(t, 1, first)
	require.Zero(t, second)

	unregisterFirst()
	unregisterFirst() // idempotent
	m.Signal(false)
	m.Signal(true)
	require.Equal(t, 1, first)
	require.Zero(t, second)
}

func TestMonitor_ConcurrentSignals(t *testing.T) {
	m := NewMonitor(false, quietLogger())
	var ups, downs atomic.Int64
	m.OnBecameOnline(func() { ups.Add(1) })
	m.OnBecameOffline(func() { downs.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Signal(i%2 == 0)
		}(i)
	}
	wg.Wait()

	// transitions alternate, so the counts differ by at most one
	diff := ups.Load() - downs.Load()
	require.True(t, diff == 0 || diff == 1, "ups=%d downs=%d", ups.Load(), downs.Load())
	require.Equal(t, ups.Load()+downs.Load(), m.Transitions())
}

func TestHTTPProbe(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := &HTTPProbe{URL: srv.URL + "/health", Client: srv.Client()}
	require.Error(t, p.Probe(context.Background()))
	healthy.Store(true)
	require.NoError(t, p.Probe(context.Background()))
}

func TestWatch_FeedsMonitor(t *testing.T) {
	m := NewMonitor(false, quietLogger())
	var reachable atomic.Bool
	probe := ProberFunc(func(ctx context.Context) error {
		if reachable.Load() {
			return nil
		}
		return errors.New("no route to host")
	})

	cameOnline := make(chan struct{}, 1)
	m.OnBecameOnline(func() {
		select {
		case cameOnline <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, m, probe, WatchConfig{Interval: 5 * time.Millisecond, BackoffMin: time.Millisecond, BackoffMax: 5 * time.Millisecond})
	}()

	time.Sleep(20 * time.Millisecond)
	require.False(t, m.IsOnline())

	reachable.Store(true)
	select {
	case <-cameOnline:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not go online")
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
