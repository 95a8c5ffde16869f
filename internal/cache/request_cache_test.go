package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maxaizer/jobsync/internal/clock/clocktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ttl = 5 * time.Second

func countingFetcher(payload string, calls *int32) Fetcher {
	return func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(calls, 1)
		return []byte(payload), nil
	}
}

func Test_RequestCache_WhenInsideTTL_ShouldNotFetchAgain(t *testing.T) {
	assert := assert.New(t)

	clk := clocktest.New(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	cache := New(clk)
	var calls int32
	key := Key("GET", "http://backend/settings", nil)

	first, err := cache.Get(context.Background(), key, ttl, countingFetcher(`{"titles":"go"}`, &calls))
	require.NoError(t, err)

	clk.Advance(ttl - time.Millisecond)
	second, err := cache.Get(context.Background(), key, ttl, countingFetcher(`{"titles":"other"}`, &calls))
	require.NoError(t, err)

	assert.Equal(int32(1), atomic.LoadInt32(&calls))
	assert.Equal(first, second)
}

func Test_RequestCache_WhenTTLPassed_ShouldFetchAgain(t *testing.T) {
	assert := assert.New(t)

	clk := clocktest.New(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	cache := New(clk)
	var calls int32
	key := Key("GET", "http://backend/settings", nil)

	_, err := cache.Get(context.Background(), key, ttl, countingFetcher("old", &calls))
	require.NoError(t, err)

	clk.Advance(ttl + time.Millisecond)
	payload, err := cache.Get(context.Background(), key, ttl, countingFetcher("new", &calls))
	require.NoError(t, err)

	assert.Equal(int32(2), atomic.LoadInt32(&calls))
	assert.Equal("new", string(payload))
}

func Test_RequestCache_WhenFetchFails_ShouldNotStore(t *testing.T) {
	assert := assert.New(t)

	cache := New(clocktest.New(time.Now()))
	var calls int32
	key := Key("GET", "http://backend/stats", nil)

	_, err := cache.Get(context.Background(), key, ttl, func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("boom")
	})
	assert.Error(err)

	payload, err := cache.Get(context.Background(), key, ttl, countingFetcher("ok", &calls))
	assert.NoError(err)
	assert.Equal("ok", string(payload))
	assert.Equal(int32(2), atomic.LoadInt32(&calls))
}

func Test_RequestCache_WhenZeroTTL_ShouldAlwaysFetch(t *testing.T) {
	cache := New(clocktest.New(time.Now()))
	var calls int32
	key := Key("GET", "http://backend/logs/1", nil)

	for i := 0; i < 3; i++ {
		_, err := cache.Get(context.Background(), key, 0, countingFetcher("{}", &calls))
		require.NoError(t, err)
	}

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func Test_RequestCache_InvalidatePrefix_ShouldDropOnlyMatchingKeys(t *testing.T) {
	assert := assert.New(t)

	cache := New(clocktest.New(time.Now()))
	var searchCalls, settingsCalls int32
	searchKey := Key("POST", "http://backend/jobs/search", []byte(`{"status":"active"}`))
	settingsKey := Key("GET", "http://backend/settings", nil)

	_, _ = cache.Get(context.Background(), searchKey, ttl, countingFetcher("jobs", &searchCalls))
	_, _ = cache.Get(context.Background(), settingsKey, ttl, countingFetcher("settings", &settingsCalls))

	cache.InvalidatePrefix("POST http://backend/jobs/search")

	_, _ = cache.Get(context.Background(), searchKey, ttl, countingFetcher("jobs", &searchCalls))
	_, _ = cache.Get(context.Background(), settingsKey, ttl, countingFetcher("settings", &settingsCalls))

	assert.Equal(int32(2), atomic.LoadInt32(&searchCalls))
	assert.Equal(int32(1), atomic.LoadInt32(&settingsCalls))
}

func Test_RequestCache_WhenInvalidatedDuringFetch_ShouldNotStoreStalePayload(t *testing.T) {
	assert := assert.New(t)

	cache := New(clocktest.New(time.Now()))
	key := Key("GET", "http://backend/settings", nil)
	started, release := make(chan struct{}), make(chan struct{})
	var calls int32

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = cache.Get(context.Background(), key, ttl, func(ctx context.Context) ([]byte, error) {
			atomic.AddInt32(&calls, 1)
			close(started)
			<-release
			return []byte("stale"), nil
		})
	}()

	<-started
	cache.Invalidate(key)
	close(release)
	<-done

	payload, err := cache.Get(context.Background(), key, ttl, countingFetcher("fresh", &calls))
	assert.NoError(err)
	assert.Equal("fresh", string(payload))
	assert.Equal(int32(2), atomic.LoadInt32(&calls))
}

func Test_RequestCache_WhenConcurrentMisses_ShouldShareOneFetch(t *testing.T) {
	cache := New(clocktest.New(time.Now()))
	key := Key("GET", "http://backend/settings", nil)
	release := make(chan struct{})
	var calls int32

	fetch := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []byte("shared"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload, err := cache.Get(context.Background(), key, ttl, fetch)
			assert.NoError(t, err)
			assert.Equal(t, "shared", string(payload))
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func Test_Key_ShouldDependOnBody(t *testing.T) {
	assert := assert.New(t)

	a := Key("post", "http://backend/jobs/search", []byte(`{"status":"saved"}`))
	b := Key("POST", "http://backend/jobs/search", []byte(`{"status":"rejected"}`))

	assert.NotEqual(a, b)
	assert.Equal("GET http://backend/settings", Key("get", "http://backend/settings", nil))
}
