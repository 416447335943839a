package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/city-weather-proxy/internal/models"
)

func testEntry(name string) Entry {
	return Entry{
		Snapshot: models.NewWeatherSnapshot(1, name,
			[]models.Condition{{Main: "Clear", Description: "clear sky", Icon: "01d"}},
			models.Measurements{Temp: 12.5, Humidity: 60}),
		StoredAt: time.Now(),
	}
}

func TestKey(t *testing.T) {
	if got := Key(1248991); got != "weather_1248991" {
		t.Errorf("Key(1248991) = %q, want weather_1248991", got)
	}
	if Key(1) == Key(11) {
		t.Error("Key() must differ for different ids")
	}
}

func TestEntry_Fresh(t *testing.T) {
	stored := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e := Entry{StoredAt: stored}
	ttl := 5 * time.Minute

	if !e.Fresh(stored.Add(4*time.Minute+59*time.Second), ttl) {
		t.Error("Fresh() at 4:59 = false, want true")
	}
	if e.Fresh(stored.Add(5*time.Minute), ttl) {
		t.Error("Fresh() at 5:00 = true, want false")
	}
}

// TestInMemoryCache_GetSet verifies that Set stores values and Get retrieves them.
func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	val := testEntry("Seattle")
	if err := c.Set(ctx, "weather_1", val, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "weather_1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got.Snapshot.Name != "Seattle" || !got.StoredAt.Equal(val.StoredAt) {
		t.Errorf("Get() = %+v, want %+v", got, val)
	}
}

func TestInMemoryCache_Get_Miss(t *testing.T) {
	c := NewInMemoryCache()

	_, ok, err := c.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

// TestInMemoryCache_Set_Overwrites verifies there is at most one entry per key.
func TestInMemoryCache_Set_Overwrites(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	_ = c.Set(ctx, "weather_1", testEntry("first"), time.Minute)
	_ = c.Set(ctx, "weather_1", testEntry("second"), time.Minute)

	got, _, _ := c.Get(ctx, "weather_1")
	if got.Snapshot.Name != "second" {
		t.Errorf("Get() name = %q, want second", got.Snapshot.Name)
	}
	if n := c.Len(); n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}
}

// TestInMemoryCache_Get_Expired verifies expired entries read as misses and are reaped.
func TestInMemoryCache_Get_Expired(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	now := time.Now()
	c.now = func() time.Time { return now }

	_ = c.Set(ctx, "weather_1", testEntry("Seattle"), time.Minute)
	now = now.Add(time.Minute + time.Millisecond)

	_, ok, err := c.Get(ctx, "weather_1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for expired entry")
	}
	if n := c.Len(); n != 0 {
		t.Errorf("Len() after expired Get = %d, want 0", n)
	}
}

// TestInMemoryCache_ReturnsCopies verifies callers cannot mutate stored snapshots.
func TestInMemoryCache_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	_ = c.Set(ctx, "weather_1", testEntry("Seattle"), time.Minute)

	got, _, _ := c.Get(ctx, "weather_1")
	got.Snapshot.Conditions[0].Main = "Mutated"

	again, _, _ := c.Get(ctx, "weather_1")
	if again.Snapshot.Conditions[0].Main != "Clear" {
		t.Errorf("stored condition = %q, want Clear", again.Snapshot.Conditions[0].Main)
	}
}

// TestInMemoryCache_Concurrent exercises concurrent readers and writers; run with -race.
func TestInMemoryCache_Concurrent(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("weather_%d", i%4)
			for j := 0; j < 100; j++ {
				_ = c.Set(ctx, key, testEntry(key), time.Minute)
				_, _, _ = c.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	if n := c.Len(); n != 4 {
		t.Errorf("Len() = %d, want 4", n)
	}
}

func TestExpirationSeconds(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want int32
	}{
		{5 * time.Minute, 300},
		{1500 * time.Millisecond, 2},
		{time.Millisecond, 1},
		{0, 3600},
		{-time.Second, 3600},
		{31 * 24 * time.Hour, 3600},
	}
	for _, tt := range tests {
		if got := expirationSeconds(tt.ttl); got != tt.want {
			t.Errorf("expirationSeconds(%v) = %d, want %d", tt.ttl, got, tt.want)
		}
	}
}

func TestDecodeEntry_Corrupt(t *testing.T) {
	if _, ok, err := decodeEntry([]byte("not json")); err == nil || ok {
		t.Errorf("decodeEntry(corrupt) = ok %v, err %v; want error", ok, err)
	}
}

func TestParseAddrs(t *testing.T) {
	got := parseAddrs(" host1:11211 , ,host2:11211")
	if len(got) != 2 || got[0] != "host1:11211" || got[1] != "host2:11211" {
		t.Errorf("parseAddrs() = %v", got)
	}
}
