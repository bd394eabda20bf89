package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"stock-outage-alerts/internal/analytics"
)

// memoryRedis implements the Get/Set subset of redis.Cmdable the cache uses.
type memoryRedis struct {
	redis.Cmdable
	values map[string]string
	ttls   map[string]time.Duration
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{values: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (m *memoryRedis) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memoryRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		m.values[key] = string(v)
	case string:
		m.values[key] = v
	default:
		return redis.NewStatusResult("", errors.New("unsupported value type"))
	}
	m.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func TestKeyKeepsEmptyParts(t *testing.T) {
	if got := Key("forecast", "milk", "", "7"); got != "stockwatch:analytics:forecast:milk::7" {
		t.Fatalf("Key = %q", got)
	}
	if Key("forecast", "", "110001") == Key("forecast", "110001", "") {
		t.Fatal("scopes must not collide")
	}
}

func TestRememberWithoutCacheComputes(t *testing.T) {
	var c *ForecastCache
	calls := 0
	compute := func(context.Context) (int, error) {
		calls++
		return 42, nil
	}

	for i := 0; i < 2; i++ {
		v, err := Remember(context.Background(), c, Key("x"), compute)
		if err != nil || v != 42 {
			t.Fatalf("Remember = %d, %v", v, err)
		}
	}
	if calls != 2 {
		t.Fatalf("nil cache should compute every time, calls=%d", calls)
	}

	boom := errors.New("boom")
	if _, err := Remember(context.Background(), c, Key("y"), func(context.Context) (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("compute error should propagate, got %v", err)
	}
}

func TestRememberServesCachedForecast(t *testing.T) {
	ctx := context.Background()
	mem := newMemoryRedis()
	c := New(mem, 15*time.Minute, zerolog.Nop())

	actual := 0.5
	want := analytics.ForecastResult{
		Keyword: "milk",
		ForecastData: analytics.ForecastSeries{
			Dates:     []string{"2024-03-10", "2024-03-11"},
			Actual:    []*float64{&actual, nil},
			Predicted: []float64{0.5, 0.55},
		},
		DaysForecasted: 1,
	}
	calls := 0
	compute := func(context.Context) (analytics.ForecastResult, error) {
		calls++
		return want, nil
	}

	key := Key("forecast", "milk", "", "1")
	if _, err := Remember(ctx, c, key, compute); err != nil {
		t.Fatalf("first Remember: %v", err)
	}
	if mem.ttls[key] != 15*time.Minute {
		t.Fatalf("ttl = %s", mem.ttls[key])
	}

	got, err := Remember(ctx, c, key, compute)
	if err != nil {
		t.Fatalf("second Remember: %v", err)
	}
	if calls != 1 {
		t.Fatalf("cache hit should skip compute, calls=%d", calls)
	}
	fd := got.ForecastData
	if got.Keyword != "milk" || got.DaysForecasted != 1 || len(fd.Actual) != 2 {
		t.Fatalf("cached result = %+v", got)
	}
	if fd.Actual[0] == nil || *fd.Actual[0] != 0.5 || fd.Actual[1] != nil {
		t.Fatalf("actual values lost in cache: %v", fd.Actual)
	}
	if fd.Predicted[1] != 0.55 {
		t.Fatalf("predicted = %v", fd.Predicted)
	}
}

func TestRememberRecomputesCorruptEntry(t *testing.T) {
	ctx := context.Background()
	mem := newMemoryRedis()
	c := New(mem, time.Minute, zerolog.Nop())

	key := Key("clusters")
	mem.values[key] = "{not json"

	calls := 0
	v, err := Remember(ctx, c, key, func(context.Context) (int, error) {
		calls++
		return 7, nil
	})
	if err != nil || v != 7 || calls != 1 {
		t.Fatalf("Remember = %d, %v, calls=%d", v, err, calls)
	}
	if mem.values[key] != "7" {
		t.Fatalf("corrupt entry not replaced: %q", mem.values[key])
	}
}
