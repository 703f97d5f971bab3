package limiter

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type MapLimiterSuite struct {
	suite.Suite
	clock time.Time
}

func TestMapLimiterSuite(t *testing.T) {
	suite.Run(t, new(MapLimiterSuite))
}

func (s *MapLimiterSuite) SetupTest() {
	s.clock = time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
}

func (s *MapLimiterSuite) limiter(rps float64, burst int) *MapLimiter {
	l := NewMapLimiter(rps, burst, time.Minute)
	s.Require().NotNil(l)
	l.now = func() time.Time { return s.clock }
	return l
}

func (s *MapLimiterSuite) TestInvalidArgs() {
	s.Nil(NewMapLimiter(0, 1, 0))
	s.Nil(NewMapLimiter(1, 0, 0))

	var l *MapLimiter
	res, err := l.Check(context.Background(), "10.0.0.1")
	s.Require().NoError(err)
	s.True(res.Allowed)
}

func (s *MapLimiterSuite) TestBurstThenDeny() {
	l := s.limiter(1, 2)
	ctx := context.Background()

	for i := range 2 {
		res, err := l.Check(ctx, "10.0.0.1")
		s.Require().NoError(err)
		s.True(res.Allowed, "request %d", i)
	}

	res, err := l.Check(ctx, "10.0.0.1")
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Equal(2, res.Limit)
	s.Zero(res.Remaining)
	s.Equal(1, res.RetryAfter)

	s.Run("other keys are independent", func() {
		res, err := l.Check(ctx, "10.0.0.2")
		s.Require().NoError(err)
		s.True(res.Allowed)
	})

	s.Run("tokens refill over time", func() {
		s.clock = s.clock.Add(time.Second)
		res, err := l.Check(ctx, "10.0.0.1")
		s.Require().NoError(err)
		s.True(res.Allowed)
	})
}

func (s *MapLimiterSuite) TestBlankKeyIsAllowed() {
	l := s.limiter(1, 1)
	for range 3 {
		res, err := l.Check(context.Background(), "  ")
		s.Require().NoError(err)
		s.True(res.Allowed)
	}
	s.Zero(l.Len())
}

func (s *MapLimiterSuite) TestIdleKeysAreEvicted() {
	l := s.limiter(100, 100)
	ctx := context.Background()
	for i := range 511 {
		_, err := l.Check(ctx, fmt.Sprintf("10.0.%d.%d", i/256, i%256))
		s.Require().NoError(err)
	}
	s.Equal(511, l.Len())

	s.clock = s.clock.Add(2 * time.Minute)
	_, err := l.Check(ctx, "fresh")
	s.Require().NoError(err)
	s.Equal(1, l.Len())
}
