package memory_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/alexander-t-ho/prediction-market-sub001/internal/domain"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/store/memory"
)

var at = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func seeded() *memory.SettlementStore {
	s := memory.NewSettlementStore()
	err := s.Seed(domain.MarketSnapshot{
		Market: domain.Market{ID: "m1", Status: domain.MarketStatusLocked},
		Outcomes: []domain.Outcome{
			{ID: "X", MarketID: "m1"},
			{ID: "Y", MarketID: "m1"},
		},
		Bets: []domain.Bet{
			{ID: "b1", MarketID: "m1", OutcomeID: "X", UserID: "A", Stake: decimal.NewFromInt(100), PlacedAt: at},
			{ID: "b2", MarketID: "m1", OutcomeID: "Y", UserID: "B", Stake: decimal.NewFromInt(50), PlacedAt: at},
		},
	})
	if err != nil {
		panic(err)
	}
	return s
}

func writeAll(ctx context.Context, tx domain.SettlementTx) error {
	if _, err := tx.LockMarket(ctx, "m1"); err != nil {
		return err
	}
	if err := tx.WriteBalanceLedgerEntries(ctx, []domain.BalanceLedgerEntry{
		{ID: "l1", UserID: "A", Amount: decimal.NewFromInt(150), Reason: domain.LedgerReasonPayout, MarketID: "m1", CreatedAt: at},
	}); err != nil {
		return err
	}
	if err := tx.WriteTrendsetterAwards(ctx, []domain.TrendsetterAward{
		{UserID: "A", MarketID: "m1", Points: 200, CreatedAt: at},
	}); err != nil {
		return err
	}
	if err := tx.WriteTasteMatchDeltas(ctx, []domain.TasteMatchDelta{
		{UserA: "Z", UserB: "A", ScoreDelta: 1, SharedCorrectCallsDelta: 1},
	}, at); err != nil {
		return err
	}
	return tx.UpdateMarketResolution(ctx, "m1", "X", decimal.NewFromInt(7), at)
}

func TestSettlementStore_Snapshot(t *testing.T) {
	Convey("Given a seeded market", t, func() {
		s := seeded()
		ctx := context.Background()

		Convey("The snapshot carries outcome totals derived from bets", func() {
			snap, err := s.LoadMarketSnapshot(ctx, "m1")
			So(err, ShouldBeNil)
			So(snap.Market.OutcomeIDs, ShouldResemble, []string{"X", "Y"})
			So(snap.Outcomes[0].TotalStaked.Equal(decimal.NewFromInt(100)), ShouldBeTrue)
			So(snap.Outcomes[1].TotalStaked.Equal(decimal.NewFromInt(50)), ShouldBeTrue)
			So(snap.Bets, ShouldHaveLength, 2)
		})

		Convey("Unknown markets are not found", func() {
			_, err := s.LoadMarketSnapshot(ctx, "nope")
			So(errors.Is(err, domain.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestSettlementStore_WithTransaction(t *testing.T) {
	Convey("Given a seeded market", t, func() {
		s := seeded()
		ctx := context.Background()

		Convey("When a transaction writes everything and returns nil", func() {
			err := s.WithTransaction(ctx, func(tx domain.SettlementTx) error { return writeAll(ctx, tx) })
			So(err, ShouldBeNil)

			Convey("Then every write is visible together", func() {
				m, _ := s.Market("m1")
				So(m.Status, ShouldEqual, domain.MarketStatusResolved)
				So(*m.WinningOutcomeID, ShouldEqual, "X")
				So(m.ActualValue.Equal(decimal.NewFromInt(7)), ShouldBeTrue)
				So(s.LedgerEntries("m1"), ShouldHaveLength, 1)
				So(s.Awards("m1"), ShouldHaveLength, 1)

				edges := s.TasteMatchEdges()
				So(edges, ShouldHaveLength, 1)
				So(edges[0].UserA, ShouldEqual, "A")
				So(edges[0].UserB, ShouldEqual, "Z")
			})

			Convey("And a second resolution is rejected as terminal", func() {
				err := s.WithTransaction(ctx, func(tx domain.SettlementTx) error { return writeAll(ctx, tx) })
				So(errors.Is(err, domain.ErrMarketAlreadyTerminal), ShouldBeTrue)
				So(s.LedgerEntries("m1"), ShouldHaveLength, 1)
			})
		})

		Convey("When a write fails part way", func() {
			boom := errors.New("disk full")
			s.SetFault(func(op, _ string) error {
				if op == memory.OpWriteTasteMatch {
					return boom
				}
				return nil
			})
			err := s.WithTransaction(ctx, func(tx domain.SettlementTx) error { return writeAll(ctx, tx) })

			Convey("Then nothing is applied", func() {
				So(errors.Is(err, boom), ShouldBeTrue)
				m, _ := s.Market("m1")
				So(m.Status, ShouldEqual, domain.MarketStatusLocked)
				So(s.LedgerEntries("m1"), ShouldBeEmpty)
				So(s.Awards("m1"), ShouldBeEmpty)
				So(s.TasteMatchEdges(), ShouldBeEmpty)
			})

			Convey("And the market lock is released for a retry", func() {
				s.SetFault(nil)
				err := s.WithTransaction(ctx, func(tx domain.SettlementTx) error { return writeAll(ctx, tx) })
				So(err, ShouldBeNil)
			})
		})

		Convey("When the callback panics", func() {
			So(func() {
				_ = s.WithTransaction(ctx, func(tx domain.SettlementTx) error {
					_, _ = tx.LockMarket(ctx, "m1")
					panic("boom")
				})
			}, ShouldPanic)

			Convey("Then the market lock is still released", func() {
				done := make(chan error, 1)
				go func() {
					done <- s.WithTransaction(ctx, func(tx domain.SettlementTx) error { return writeAll(ctx, tx) })
				}()
				select {
				case err := <-done:
					So(err, ShouldBeNil)
				case <-time.After(2 * time.Second):
					So("lock still held", ShouldBeEmpty)
				}
			})
		})

		Convey("When two transactions race on the same market", func() {
			var wg sync.WaitGroup
			errs := make([]error, 2)
			for i := range errs {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					errs[i] = s.WithTransaction(ctx, func(tx domain.SettlementTx) error {
						m, err := tx.LockMarket(ctx, "m1")
						if err != nil {
							return err
						}
						if m.Status.IsTerminal() {
							return domain.ErrMarketAlreadyTerminal
						}
						return writeAll(ctx, tx)
					})
				}(i)
			}
			wg.Wait()

			Convey("Then exactly one commits", func() {
				var ok, conflict int
				for _, err := range errs {
					switch {
					case err == nil:
						ok++
					case errors.Is(err, domain.ErrMarketAlreadyTerminal):
						conflict++
					}
				}
				So(ok, ShouldEqual, 1)
				So(conflict, ShouldEqual, 1)
				So(s.LedgerEntries("m1"), ShouldHaveLength, 1)
			})
		})

		Convey("When the same user is awarded twice in one transaction", func() {
			err := s.WithTransaction(ctx, func(tx domain.SettlementTx) error {
				award := domain.TrendsetterAward{UserID: "A", MarketID: "m1", Points: 1}
				return tx.WriteTrendsetterAwards(ctx, []domain.TrendsetterAward{award, award})
			})
			So(err, ShouldNotBeNil)
			So(s.Awards("m1"), ShouldBeEmpty)
		})
	})
}

func TestSettlementStore_LoadFixtures(t *testing.T) {
	Convey("Given a fixtures file", t, func() {
		path := filepath.Join(t.TempDir(), "markets.json")
		body := `[{"market":{"id":"m9","title":"Rain tomorrow?"},
		  "outcomes":[{"id":"yes","market_id":"m9"},{"id":"no","market_id":"m9"}],
		  "bets":[{"id":"b1","market_id":"m9","outcome_id":"yes","user_id":"u1","stake":"12.50","implied_probability_at_bet_time":0.3}]}]`
		So(os.WriteFile(path, []byte(body), 0o600), ShouldBeNil)

		s := memory.NewSettlementStore()
		n, err := s.LoadFixtures(path)
		So(err, ShouldBeNil)
		So(n, ShouldEqual, 1)

		snap, err := s.LoadMarketSnapshot(context.Background(), "m9")
		So(err, ShouldBeNil)
		So(snap.Market.Status, ShouldEqual, domain.MarketStatusOpen)
		So(snap.Market.OutcomeIDs, ShouldResemble, []string{"yes", "no"})
		So(snap.Bets[0].Stake.Equal(decimal.RequireFromString("12.5")), ShouldBeTrue)
	})
}

func TestSettlementStore_RejectsBadStakes(t *testing.T) {
	Convey("Given bets with stakes that are not positive", t, func() {
		s := memory.NewSettlementStore()

		Convey("Seed refuses the market", func() {
			err := s.Seed(domain.MarketSnapshot{
				Market:   domain.Market{ID: "neg"},
				Outcomes: []domain.Outcome{{ID: "X", MarketID: "neg"}},
				Bets: []domain.Bet{
					{ID: "b1", MarketID: "neg", OutcomeID: "X", UserID: "A", Stake: decimal.NewFromInt(-5)},
				},
			})
			So(errors.Is(err, domain.ErrInvalidStake), ShouldBeTrue)
			_, ok := s.Market("neg")
			So(ok, ShouldBeFalse)
		})

		Convey("LoadFixtures loads nothing from a file with a zero stake", func() {
			path := filepath.Join(t.TempDir(), "markets.json")
			body := `[{"market":{"id":"ok"},"outcomes":[{"id":"yes","market_id":"ok"}],
			  "bets":[{"id":"b1","market_id":"ok","outcome_id":"yes","user_id":"u1","stake":"5"}]},
			  {"market":{"id":"zero"},"outcomes":[{"id":"yes","market_id":"zero"}],
			  "bets":[{"id":"b2","market_id":"zero","outcome_id":"yes","user_id":"u2","stake":"0"}]}]`
			So(os.WriteFile(path, []byte(body), 0o600), ShouldBeNil)

			n, err := s.LoadFixtures(path)
			So(errors.Is(err, domain.ErrInvalidStake), ShouldBeTrue)
			So(n, ShouldEqual, 0)
			_, ok := s.Market("ok")
			So(ok, ShouldBeFalse)
		})
	})
}

func TestSettlementStore_ResolutionRecord(t *testing.T) {
	Convey("Given a seeded market", t, func() {
		s := seeded()
		ctx := context.Background()
		actual := decimal.NewFromInt(7)
		record := domain.ResolutionResult{
			MarketID:          "m1",
			WinningOutcomeID:  "X",
			ActualValue:       &actual,
			TrendsetterPoints: map[string]int64{"A": 200},
			Success:           true,
		}

		Convey("A committed record reads back as a copy", func() {
			err := s.WithTransaction(ctx, func(tx domain.SettlementTx) error {
				if err := tx.WriteResolutionRecord(ctx, record); err != nil {
					return err
				}
				return writeAll(ctx, tx)
			})
			So(err, ShouldBeNil)

			got, err := s.LoadResolutionRecord(ctx, "m1")
			So(err, ShouldBeNil)
			So(got.TrendsetterPoints, ShouldResemble, map[string]int64{"A": 200})
			got.TrendsetterPoints["A"] = 1
			again, _ := s.LoadResolutionRecord(ctx, "m1")
			So(again.TrendsetterPoints["A"], ShouldEqual, 200)
		})

		Convey("A rolled back record is never visible", func() {
			s.SetFault(func(op, _ string) error {
				if op == memory.OpUpdateResolution {
					return errors.New("disk full")
				}
				return nil
			})
			err := s.WithTransaction(ctx, func(tx domain.SettlementTx) error {
				if err := tx.WriteResolutionRecord(ctx, record); err != nil {
					return err
				}
				return writeAll(ctx, tx)
			})
			So(err, ShouldNotBeNil)

			_, err = s.LoadResolutionRecord(ctx, "m1")
			So(errors.Is(err, domain.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestAuditStore(t *testing.T) {
	Convey("Given an audit store with three entries", t, func() {
		s := memory.NewAuditStore()
		ctx := context.Background()
		for _, ev := range []string{"a", "b", "c"} {
			So(s.Log(ctx, ev, map[string]any{"k": ev}), ShouldBeNil)
		}

		Convey("List returns newest first with paging", func() {
			got, err := s.List(ctx, domain.ListOpts{Limit: 2})
			So(err, ShouldBeNil)
			So(got, ShouldHaveLength, 2)
			So(got[0].Event, ShouldEqual, "c")

			got, _ = s.List(ctx, domain.ListOpts{Offset: 2})
			So(got, ShouldHaveLength, 1)
			So(got[0].Event, ShouldEqual, "a")
		})
	})
}
