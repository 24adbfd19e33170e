package idgen

import (
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// MockClock for deterministic testing
type MockClock struct {
	CurrentTime int64
}

func (m *MockClock) Now() int64 {
	return m.CurrentTime
}

func TestSnowflake_Next(t *testing.T) {
	clock := &MockClock{CurrentTime: Epoch + 1000}
	nodeID := int64(1)
	sf, err := New(nodeID, clock)
	if err != nil {
		t.Fatalf("Failed to create Snowflake: %v", err)
	}

	id1, err := sf.Next()
	if err != nil {
		t.Fatalf("Failed to generate ID: %v", err)
	}

	id2, err := sf.Next()
	if err != nil {
		t.Fatalf("Failed to generate ID: %v", err)
	}

	if id1 == id2 {
		t.Errorf("IDs must be unique")
	}

	if id1 >= id2 {
		t.Errorf("IDs must be monotonic increasing")
	}
}

func TestSnowflake_NodeIDTooLarge(t *testing.T) {
	_, err := New(1024, nil) // max is 1023
	if err != ErrNodeIDTooLarge {
		t.Errorf("Expected ErrNodeIDTooLarge, got %v", err)
	}
}

func TestSnowflake_ClockMovedBack(t *testing.T) {
	clock := &MockClock{CurrentTime: Epoch + 2000}
	sf, _ := New(1, clock)

	_, _ = sf.Next()

	clock.CurrentTime = Epoch + 1000 // Move clock back
	_, err := sf.Next()

	if err != ErrClockMovedBack {
		t.Errorf("Expected ErrClockMovedBack, got %v", err)
	}
}

func TestSnowflake_Concurrency(t *testing.T) {
	sf, _ := New(1, &SystemClock{})
	numGoroutines := 50
	numIDs := 1000
	ids := make(chan int64, numGoroutines*numIDs)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			for j := 0; j < numIDs; j++ {
				id, err := sf.Next()
				if err != nil {
					t.Errorf("Concurrent generation failed: %v", err)
				}
				ids <- id
			}
		}()
	}

	uniqueMap := make(map[int64]bool)
	expectedCount := numGoroutines * numIDs
	for i := 0; i < expectedCount; i++ {
		select {
		case id := <-ids:
			if uniqueMap[id] {
				t.Errorf("Duplicate ID generated: %d", id)
			}
			uniqueMap[id] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("Timeout waiting for IDs")
		}
	}
}

// steppingClock returns a fixed regression once, then real time.
type steppingClock struct {
	calls int
	times []int64
}

func (c *steppingClock) Now() int64 {
	if c.calls < len(c.times) {
		v := c.times[c.calls]
		c.calls++
		return v
	}
	return time.Now().UnixMilli()
}

func TestSnowflake_ToleratesSmallDrift(t *testing.T) {
	now := time.Now().UnixMilli()
	clock := &steppingClock{times: []int64{now, now - 2}}
	sf, _ := New(1, clock, WithMaxDrift(50*time.Millisecond))

	first, err := sf.Next()
	if err != nil {
		t.Fatalf("Failed to generate ID: %v", err)
	}
	second, err := sf.Next()
	if err != nil {
		t.Fatalf("Expected drift to be absorbed, got %v", err)
	}
	if second <= first {
		t.Errorf("IDs must stay monotonic across drift")
	}
}

func TestRedisClock_FollowsServerTime(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	clock := NewRedisClock(client)
	a := clock.Now()
	b := clock.Now()
	if b < a {
		t.Errorf("RedisClock went backwards: %d then %d", a, b)
	}
	if diff := a - time.Now().UnixMilli(); diff > 60_000 || diff < -60_000 {
		t.Errorf("RedisClock too far from local time: %dms", diff)
	}
}
