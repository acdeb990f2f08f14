package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/alexander-t-ho/prediction-market-sub001/internal/cache/redis"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/domain"
)

func newClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redis.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), "test:")
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestLockManager(t *testing.T) {
	Convey("Given a lock manager", t, func() {
		c, mr := newClient(t)
		lm := redis.NewLockManager(c)
		ctx := context.Background()

		Convey("A second acquire fails while the lock is held", func() {
			unlock, err := lm.Acquire(ctx, "resolve:m1", time.Minute)
			So(err, ShouldBeNil)
			So(mr.Exists("test:lock:resolve:m1"), ShouldBeTrue)

			_, err = lm.Acquire(ctx, "resolve:m1", time.Minute)
			So(errors.Is(err, domain.ErrLockHeld), ShouldBeTrue)

			Convey("And succeeds after unlock", func() {
				unlock()
				unlock()
				again, err := lm.Acquire(ctx, "resolve:m1", time.Minute)
				So(err, ShouldBeNil)
				again()
			})
		})

		Convey("An expired holder cannot release a newer lock", func() {
			stale, err := lm.Acquire(ctx, "resolve:m2", time.Second)
			So(err, ShouldBeNil)
			mr.FastForward(2 * time.Second)

			fresh, err := lm.Acquire(ctx, "resolve:m2", time.Minute)
			So(err, ShouldBeNil)
			stale()
			So(mr.Exists("test:lock:resolve:m2"), ShouldBeTrue)
			fresh()
			So(mr.Exists("test:lock:resolve:m2"), ShouldBeFalse)
		})

		Convey("Different markets lock independently", func() {
			a, err := lm.Acquire(ctx, "resolve:a", time.Minute)
			So(err, ShouldBeNil)
			b, err := lm.Acquire(ctx, "resolve:b", time.Minute)
			So(err, ShouldBeNil)
			a()
			b()
		})
	})
}

func TestSignalBus(t *testing.T) {
	Convey("Given a signal bus", t, func() {
		c, _ := newClient(t)
		bus := redis.NewSignalBus(c, 100)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		Convey("Published payloads reach subscribers", func() {
			ch, err := bus.Subscribe(ctx, "resolutions")
			So(err, ShouldBeNil)
			So(bus.Publish(ctx, "resolutions", []byte(`{"market_id":"m1"}`)), ShouldBeNil)

			select {
			case got := <-ch:
				So(string(got), ShouldEqual, `{"market_id":"m1"}`)
			case <-time.After(2 * time.Second):
				So("no message received", ShouldBeEmpty)
			}
		})

		Convey("Stream entries are read back in order", func() {
			So(bus.StreamAppend(ctx, "stream:resolutions", []byte("one")), ShouldBeNil)
			So(bus.StreamAppend(ctx, "stream:resolutions", []byte("two")), ShouldBeNil)

			msgs, err := bus.StreamRead(ctx, "stream:resolutions", "0", 10)
			So(err, ShouldBeNil)
			So(msgs, ShouldHaveLength, 2)
			So(string(msgs[0].Payload), ShouldEqual, "one")
			So(string(msgs[1].Payload), ShouldEqual, "two")
			So(msgs[0].ID, ShouldNotBeEmpty)
		})

		Convey("Reading an absent stream yields nothing", func() {
			msgs, err := bus.StreamRead(ctx, "stream:empty", "0", 10)
			So(err, ShouldBeNil)
			So(msgs, ShouldBeEmpty)
		})
	})
}

func TestResultCache(t *testing.T) {
	Convey("Given a result cache", t, func() {
		c, mr := newClient(t)
		cache := redis.NewResultCache(c, time.Hour)
		ctx := context.Background()
		actual := decimal.RequireFromString("3.5")

		Convey("A stored result comes back intact", func() {
			in := domain.ResolutionResult{
				MarketID:          "m1",
				WinningOutcomeID:  "X",
				ActualValue:       &actual,
				PayoutSummary:     domain.PayoutSummary{TotalPool: decimal.RequireFromString("600"), WinnerCount: 2},
				TrendsetterPoints: map[string]int64{"A": 200},
				Success:           true,
			}
			So(cache.Set(ctx, in), ShouldBeNil)
			So(mr.TTL("test:resolution:m1"), ShouldEqual, time.Hour)

			out, err := cache.Get(ctx, "m1")
			So(err, ShouldBeNil)
			So(out.PayoutSummary.TotalPool.Equal(in.PayoutSummary.TotalPool), ShouldBeTrue)
			So(out.ActualValue.Equal(actual), ShouldBeTrue)
			So(out.TrendsetterPoints, ShouldResemble, in.TrendsetterPoints)
		})

		Convey("A missing result is not found", func() {
			_, err := cache.Get(ctx, "nope")
			So(errors.Is(err, domain.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestRateLimiter(t *testing.T) {
	Convey("Given a limit of two requests per minute", t, func() {
		c, _ := newClient(t)
		rl := redis.NewRateLimiter(c)
		ctx := context.Background()

		Convey("The third request is refused with a retry hint", func() {
			for i := 0; i < 2; i++ {
				ok, _, err := rl.Allow(ctx, "client-1", 2, time.Minute)
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
			}
			ok, retry, err := rl.Allow(ctx, "client-1", 2, time.Minute)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
			So(retry, ShouldBeGreaterThan, 0)
			So(retry, ShouldBeLessThanOrEqualTo, time.Minute)

			Convey("While other clients are unaffected", func() {
				ok, _, err := rl.Allow(ctx, "client-2", 2, time.Minute)
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
			})
		})
	})
}
