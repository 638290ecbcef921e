package buffer

import (
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/metric"
)

func TestNew_RejectsZeroCapacity(t *testing.T) {
	_, err := New[int](0)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRing_FIFO(t *testing.T) {
	buf, err := New[string](3)
	require.NoError(t, err)
	defer buf.Close()

	assert.True(t, buf.IsEmpty())
	assert.Equal(t, 3, buf.Capacity())

	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, buf.Write(s))
	}
	assert.Equal(t, 3, buf.Size())

	first, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, "a", first)
	assert.Equal(t, []string{"b", "c"}, buf.ReadBatch(10))

	_, ok = buf.Read()
	assert.False(t, ok)
	assert.Nil(t, buf.ReadBatch(0))
}

func TestRing_OverflowPolicies(t *testing.T) {
	tests := []struct {
		name    string
		policy  OverflowPolicy
		want    []int
		dropped []int
	}{
		{"drop oldest", DropOldest, []int{3, 4, 5}, []int{1, 2}},
		{"drop newest", DropNewest, []int{1, 2, 3}, []int{4, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dropped []int
			buf, err := New[int](3,
				WithOverflowPolicy[int](tt.policy),
				WithDropCallback(func(i int) { dropped = append(dropped, i) }))
			require.NoError(t, err)
			defer buf.Close()

			for i := 1; i <= 5; i++ {
				require.NoError(t, buf.Write(i))
			}
			assert.Equal(t, tt.want, buf.ReadBatch(5))
			assert.Equal(t, tt.dropped, dropped)

			st := buf.Stats()
			assert.EqualValues(t, 2, st.Drops)
			assert.EqualValues(t, 3, st.Reads)
			assert.Equal(t, 3, st.MaxSize)
		})
	}
}

func TestRing_BlockWaitsForReader(t *testing.T) {
	buf, err := New[int](1, WithOverflowPolicy[int](Block))
	require.NoError(t, err)
	defer buf.Close()

	require.NoError(t, buf.Write(1))

	done := make(chan error, 1)
	go func() { done <- buf.Write(2) }()

	select {
	case <-done:
		t.Fatal("write should block on a full buffer")
	case <-time.After(50 * time.Millisecond):
	}

	v, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("write did not resume after read")
	}
	assert.Equal(t, []int{2}, buf.ReadBatch(1))
}

func TestRing_CloseReleasesBlockedWriter(t *testing.T) {
	buf, err := New[int](1, WithOverflowPolicy[int](Block))
	require.NoError(t, err)
	require.NoError(t, buf.Write(1))

	done := make(chan error, 1)
	go func() { done <- buf.Write(2) }()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, buf.Close())

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, stderrors.Is(err, errors.ErrAlreadyStopped))
	case <-time.After(time.Second):
		t.Fatal("blocked writer not released by Close")
	}

	// buffered items survive Close
	assert.Equal(t, []int{1}, buf.ReadBatch(4))
	assert.Error(t, buf.Write(3))
	assert.NoError(t, buf.Close())
}

func TestRing_ReadySignal(t *testing.T) {
	buf, err := New[int](4)
	require.NoError(t, err)
	defer buf.Close()

	select {
	case <-buf.Ready():
		t.Fatal("empty buffer should not be ready")
	default:
	}

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	select {
	case <-buf.Ready():
	case <-time.After(time.Second):
		t.Fatal("no ready signal after write")
	}
}

func TestRing_ConcurrentWriters(t *testing.T) {
	buf, err := New[int](1000)
	require.NoError(t, err)
	defer buf.Close()

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = buf.Write(i)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, buf.Size())
	assert.EqualValues(t, 1000, buf.Stats().Writes)
}

func TestRing_Metrics(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	buf, err := New[int](2, WithMetrics[int](reg, "udp-in"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, buf.Write(i))
	}
	buf.ReadBatch(1)

	families, err := reg.PrometheusRegistry().Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[mf.GetName()] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[mf.GetName()] = m.GetGauge().GetValue()
			}
		}
	}
	assert.Equal(t, 3.0, values["wpipe_buffer_writes_total"])
	assert.Equal(t, 1.0, values["wpipe_buffer_reads_total"])
	assert.Equal(t, 1.0, values["wpipe_buffer_drops_total"])
	assert.Equal(t, 0.5, values["wpipe_buffer_utilization"])

	// a second buffer with the same owner collides until the first closes
	_, err = New[int](2, WithMetrics[int](reg, "udp-in"))
	require.Error(t, err)
	require.NoError(t, buf.Close())
	other, err := New[int](2, WithMetrics[int](reg, "udp-in"))
	require.NoError(t, err)
	require.NoError(t, other.Close())
}

func TestParseOverflowPolicy(t *testing.T) {
	for _, p := range []OverflowPolicy{DropOldest, DropNewest, Block} {
		got, ok := ParseOverflowPolicy(p.String())
		assert.True(t, ok)
		assert.Equal(t, p, got)
	}
	got, ok := ParseOverflowPolicy("spill")
	assert.False(t, ok)
	assert.Equal(t, DropOldest, got)
}
