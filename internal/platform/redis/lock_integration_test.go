//go:build integration

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"consentledger/internal/platform/config"
	"consentledger/pkg/platform/sentinel"
	"consentledger/pkg/testutil/containers"
)

type LockerSuite struct {
	suite.Suite
	redis  *containers.RedisContainer
	client *Client
	ctx    context.Context
}

func TestLockerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	suite.Run(t, new(LockerSuite))
}

func (s *LockerSuite) SetupSuite() {
	s.ctx = context.Background()
	s.redis = containers.GetManager().GetRedis(s.T())

	cfg := config.Defaults().Redis
	cfg.URL = s.redis.URL
	client, err := New(s.ctx, cfg)
	s.Require().NoError(err)
	s.client = client
}

func (s *LockerSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
}

func (s *LockerSuite) TestAcquireIsExclusive() {
	locker := NewLocker(s.client, "test:")

	release, err := locker.Acquire(s.ctx, "subject-a", time.Minute)
	s.Require().NoError(err)

	_, err = locker.Acquire(s.ctx, "subject-a", time.Minute)
	s.ErrorIs(err, sentinel.ErrConflict)

	other, err := locker.Acquire(s.ctx, "subject-b", time.Minute)
	s.Require().NoError(err)
	other(s.ctx)

	release(s.ctx)
	again, err := locker.Acquire(s.ctx, "subject-a", time.Minute)
	s.Require().NoError(err)
	again(s.ctx)
}

func (s *LockerSuite) TestReleaseKeepsForeignLock() {
	locker := NewLocker(s.client, "test:")

	release, err := locker.Acquire(s.ctx, "subject-a", 50*time.Millisecond)
	s.Require().NoError(err)
	time.Sleep(100 * time.Millisecond)

	second, err := locker.Acquire(s.ctx, "subject-a", time.Minute)
	s.Require().NoError(err)

	release(s.ctx)
	_, err = locker.Acquire(s.ctx, "subject-a", time.Minute)
	s.ErrorIs(err, sentinel.ErrConflict)
	second(s.ctx)
}

func (s *LockerSuite) TestHealth() {
	s.NoError(s.client.Health(s.ctx))
}
