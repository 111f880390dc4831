//go:build integration

package ratelimit_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/jmerrifield20/kiosktrust/internal/ratelimit"
	"github.com/jmerrifield20/kiosktrust/internal/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	clock *fakeClock
	store *ratelimit.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
	s.clock = newFakeClock()
	s.store = ratelimit.NewRedisStore(s.redis.Client)
	s.store.SetClock(s.clock.Now)
}

func (s *RedisStoreSuite) TestSlidingWindow() {
	steps := []struct {
		at        time.Duration
		allowed   bool
		remaining int
	}{
		{0, true, 2},
		{1 * time.Second, true, 1},
		{2 * time.Second, true, 0},
		{3 * time.Second, false, 0},
		{11 * time.Second, true, 1},
	}
	for _, st := range steps {
		s.clock.Set(st.at)
		res, err := s.store.Allow(context.Background(), "ip:10.0.0.1", 3, 10*time.Second)
		s.Require().NoError(err)
		s.Equal(st.allowed, res.Allowed, "t=%s", st.at)
		s.Equal(st.remaining, res.Remaining, "t=%s", st.at)
	}
}

func (s *RedisStoreSuite) TestRetryAfter() {
	for i := range 3 {
		s.clock.Set(time.Duration(i) * time.Second)
		_, err := s.store.Allow(context.Background(), "k", 3, 10*time.Second)
		s.Require().NoError(err)
	}
	s.clock.Set(3 * time.Second)
	res, err := s.store.Allow(context.Background(), "k", 3, 10*time.Second)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Equal(7*time.Second, res.RetryAfter)
}

func (s *RedisStoreSuite) TestConcurrentAdmissionsAreExact() {
	const limit = 20
	var wg sync.WaitGroup
	var allowed atomic.Int32
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.store.Allow(context.Background(), "shared", limit, time.Minute)
			if err == nil && res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(limit), allowed.Load())
}

func (s *RedisStoreSuite) TestReset() {
	ctx := context.Background()
	_, _ = s.store.Allow(ctx, "k", 1, time.Minute)
	s.Require().NoError(s.store.Reset(ctx, "k"))
	res, err := s.store.Allow(ctx, "k", 1, time.Minute)
	s.Require().NoError(err)
	s.True(res.Allowed)
}
