package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/alexander-t-ho/prediction-market-sub001/internal/config"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/domain"
)

const fixtures = "../../testdata/markets.json"

func memoryConfig(mode string) *config.Config {
	cfg := config.Defaults()
	cfg.Mode = mode
	cfg.StoreDriver = "memory"
	cfg.Memory.FixturesPath = fixtures
	return &cfg
}

func run(cfg *config.Config, args Args) (domain.ResolutionResult, error) {
	var out bytes.Buffer
	args.Out = &out
	a := New(cfg, args, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer a.Close()

	err := a.Run(context.Background())
	var result domain.ResolutionResult
	if out.Len() > 0 {
		So(json.Unmarshal(out.Bytes(), &result), ShouldBeNil)
	}
	return result, err
}

func TestOneShotModes(t *testing.T) {
	Convey("Given the memory store loaded from fixtures", t, func() {
		So(memoryConfig("preview").Validate(), ShouldBeNil)

		Convey("Preview prints the computed settlement", func() {
			result, err := run(memoryConfig("preview"), Args{MarketID: "rain-sf-2026-05-02", OutcomeID: "yes"})
			So(err, ShouldBeNil)
			So(result.Preview, ShouldBeTrue)
			So(result.PayoutSummary.TotalPool.String(), ShouldEqual, "600")
			So(result.TrendsetterPoints, ShouldResemble, map[string]int64{"ana": 200, "ben": 250})
		})

		Convey("Resolve commits with an actual value", func() {
			result, err := run(memoryConfig("resolve"), Args{MarketID: "rain-sf-2026-05-02", OutcomeID: "yes", Actual: "0.42"})
			So(err, ShouldBeNil)
			So(result.Success, ShouldBeTrue)
			So(result.BalanceChangedUsers, ShouldResemble, []string{"ana", "ben"})
		})

		Convey("Resolve without an actual value prints the rejection", func() {
			result, err := run(memoryConfig("resolve"), Args{MarketID: "cpi-2026-04", OutcomeID: "below-3"})
			So(errors.Is(err, ErrRejected), ShouldBeTrue)
			So(result.HasError(domain.CodeMissingActualValue), ShouldBeTrue)
		})

		Convey("A malformed actual value fails before touching the store", func() {
			_, err := run(memoryConfig("resolve"), Args{MarketID: "cpi-2026-04", OutcomeID: "below-3", Actual: "about three"})
			So(err, ShouldNotBeNil)
			So(errors.Is(err, ErrRejected), ShouldBeFalse)
		})

		Convey("Migrate refuses the memory store", func() {
			_, err := run(memoryConfig("migrate"), Args{})
			So(err, ShouldNotBeNil)
		})
	})

	Convey("A missing fixtures file fails wiring", t, func() {
		cfg := memoryConfig("preview")
		cfg.Memory.FixturesPath = "does-not-exist.json"
		_, err := run(cfg, Args{MarketID: "m", OutcomeID: "o"})
		So(err, ShouldNotBeNil)
	})
}

func TestWire(t *testing.T) {
	Convey("Without Redis the cache falls back to memory and the bus is off", t, func() {
		cfg := memoryConfig("server")
		deps, cleanup, err := Wire(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
		So(err, ShouldBeNil)
		defer cleanup()

		So(deps.Cache, ShouldNotBeNil)
		So(deps.SignalBus, ShouldBeNil)
		So(deps.LockManager, ShouldBeNil)
		So(deps.Metrics, ShouldNotBeNil)
		So(deps.Notifier.Enabled(), ShouldBeFalse)
		So(deps.NewResolutionService(cfg, slog.Default()), ShouldNotBeNil)
	})
}
