package server_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/alexander-t-ho/prediction-market-sub001/internal/domain"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/metrics"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/server"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/server/handler"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/service"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/settlement"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/store/memory"
)

const apiKey = "s3cret"

var (
	t0    = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	quiet = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func market(id string, status domain.MarketStatus) domain.MarketSnapshot {
	stake := func(s string) decimal.Decimal { return decimal.RequireFromString(s) }
	return domain.MarketSnapshot{
		Market: domain.Market{ID: id, Status: status},
		Outcomes: []domain.Outcome{
			{ID: "X", MarketID: id},
			{ID: "Y", MarketID: id},
		},
		Bets: []domain.Bet{
			{ID: id + "-1", MarketID: id, OutcomeID: "X", UserID: "A", Stake: stake("100"), ImpliedProbabilityAtBetTime: 0.5, PlacedAt: t0},
			{ID: id + "-2", MarketID: id, OutcomeID: "X", UserID: "B", Stake: stake("300"), ImpliedProbabilityAtBetTime: 0.4, PlacedAt: t0.Add(time.Minute)},
			{ID: id + "-3", MarketID: id, OutcomeID: "Y", UserID: "C", Stake: stake("200"), ImpliedProbabilityAtBetTime: 0.6, PlacedAt: t0.Add(2 * time.Minute)},
		},
	}
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int, time.Duration) (bool, time.Duration, error) {
	return false, 1500 * time.Millisecond, nil
}

type fixture struct {
	handler http.Handler
	audit   *memory.AuditStore
	metrics *metrics.Manager
}

func newFixture(deps server.Deps) fixture {
	store := memory.NewSettlementStore()
	for _, snap := range []domain.MarketSnapshot{
		market("m1", domain.MarketStatusLocked),
		market("void", domain.MarketStatusVoid),
	} {
		if err := store.Seed(snap); err != nil {
			panic(err)
		}
	}

	audit := memory.NewAuditStore()
	m := metrics.NewManager(metrics.WithRegistry(prometheus.NewRegistry()))
	svc := service.NewResolutionService(store, settlement.NewEngine(settlement.DefaultConfig()),
		service.ResolutionConfig{LockTTL: time.Second},
		quiet,
		service.WithResultCache(memory.NewResultCache()),
		service.WithAuditStore(audit),
		service.WithRecorder(m),
	)

	deps.Observer = m
	srv := server.NewServer(server.Config{APIKey: apiKey, RateLimit: 10}, server.Handlers{
		Health: handler.NewHealthHandler(map[string]handler.HealthCheck{
			"store": func(context.Context) error { return nil },
		}, quiet),
		Resolutions: handler.NewResolutionHandler(svc, quiet),
		Audit:       handler.NewAuditHandler(audit, quiet),
		Metrics:     m.Handler(),
	}, deps, quiet)
	return fixture{handler: srv.Handler(), audit: audit, metrics: m}
}

func (f fixture) do(method, path, body string, authed bool) (*httptest.ResponseRecorder, map[string]any) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if authed {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func codes(out map[string]any) []string {
	var got []string
	errs, _ := out["errors"].([]any)
	for _, e := range errs {
		got = append(got, e.(map[string]any)["code"].(string))
	}
	return got
}

func TestResolutionRoutes(t *testing.T) {
	Convey("Given a server over a locked market", t, func() {
		f := newFixture(server.Deps{})

		Convey("Preview needs no key and writes nothing", func() {
			rec, out := f.do(http.MethodPost, "/api/markets/m1/preview", `{"winning_outcome_id":"X"}`, false)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(out["preview"], ShouldEqual, true)
			So(out["payout_summary"].(map[string]any)["total_pool"], ShouldEqual, "600")

			rec, _ = f.do(http.MethodGet, "/api/markets/m1/resolution", "", false)
			So(rec.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Resolve without a key is unauthorized", func() {
			rec, _ := f.do(http.MethodPost, "/api/markets/m1/resolve", `{"winning_outcome_id":"X","actual_value":"1"}`, false)
			So(rec.Code, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("Resolve without an actual value is unprocessable", func() {
			rec, out := f.do(http.MethodPost, "/api/markets/m1/resolve", `{"winning_outcome_id":"X"}`, true)
			So(rec.Code, ShouldEqual, http.StatusUnprocessableEntity)
			So(codes(out), ShouldResemble, []string{"MISSING_ACTUAL_VALUE"})
		})

		Convey("A malformed body is a bad request", func() {
			rec, _ := f.do(http.MethodPost, "/api/markets/m1/resolve", `{"winning_outcome_id":`, true)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("An unknown market is not found", func() {
			rec, out := f.do(http.MethodPost, "/api/markets/nope/preview", `{"winning_outcome_id":"X"}`, false)
			So(rec.Code, ShouldEqual, http.StatusNotFound)
			So(codes(out), ShouldResemble, []string{"NOT_FOUND"})
		})

		Convey("A void market conflicts", func() {
			rec, out := f.do(http.MethodPost, "/api/markets/void/resolve", `{"winning_outcome_id":"X","actual_value":"1"}`, true)
			So(rec.Code, ShouldEqual, http.StatusConflict)
			So(codes(out), ShouldContain, "MARKET_ALREADY_TERMINAL")
		})

		Convey("When the market is resolved", func() {
			rec, out := f.do(http.MethodPost, "/api/markets/m1/resolve", `{"winning_outcome_id":"X","actual_value":"42.5"}`, true)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(out["success"], ShouldEqual, true)
			So(out["actual_value"], ShouldEqual, "42.5")

			Convey("Then a second attempt conflicts", func() {
				rec, out := f.do(http.MethodPost, "/api/markets/m1/resolve", `{"winning_outcome_id":"Y","actual_value":"1"}`, true)
				So(rec.Code, ShouldEqual, http.StatusConflict)
				So(codes(out), ShouldResemble, []string{"MARKET_ALREADY_TERMINAL"})
			})

			Convey("And the committed result can be read back", func() {
				rec, out := f.do(http.MethodGet, "/api/markets/m1/resolution", "", false)
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(out["winning_outcome_id"], ShouldEqual, "X")
			})

			Convey("And the audit trail records it", func() {
				rec, out := f.do(http.MethodGet, "/api/audit?market_id=m1", "", true)
				So(rec.Code, ShouldEqual, http.StatusOK)
				entries := out["entries"].([]any)
				So(entries, ShouldHaveLength, 1)
				So(entries[0].(map[string]any)["event"], ShouldEqual, service.EventResolved)
			})

			Convey("And metrics are labelled by route pattern", func() {
				rec, _ := f.do(http.MethodGet, "/metrics", "", false)
				body := rec.Body.String()
				So(body, ShouldContainSubstring, `route="POST /api/markets/{id}/resolve"`)
				So(body, ShouldContainSubstring, `resolver_settlement_resolutions_total{outcome="committed"} 1`)
			})
		})

		Convey("Audit entries need the key", func() {
			rec, _ := f.do(http.MethodGet, "/api/audit", "", false)
			So(rec.Code, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("Invalid time filters are rejected", func() {
			rec, _ := f.do(http.MethodGet, "/api/audit?since=yesterday", "", true)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Health reports each component", func() {
			rec, out := f.do(http.MethodGet, "/api/health", "", false)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(out["components"], ShouldResemble, map[string]any{"store": "ok"})
		})
	})
}

func TestRateLimit(t *testing.T) {
	Convey("Given a limiter that refuses everything", t, func() {
		f := newFixture(server.Deps{Limiter: denyAll{}})

		Convey("Preview is throttled with a rounded-up Retry-After", func() {
			rec, _ := f.do(http.MethodPost, "/api/markets/m1/preview", `{"winning_outcome_id":"X"}`, false)
			So(rec.Code, ShouldEqual, http.StatusTooManyRequests)
			So(rec.Header().Get("Retry-After"), ShouldEqual, "2")
		})

		Convey("Reads are not throttled", func() {
			rec, _ := f.do(http.MethodGet, "/api/health", "", false)
			So(rec.Code, ShouldEqual, http.StatusOK)
		})
	})
}

func TestCORS(t *testing.T) {
	Convey("A preflight request is answered directly", t, func() {
		f := newFixture(server.Deps{})
		req := httptest.NewRequest(http.MethodOptions, "/api/markets/m1/resolve", nil)
		req.Header.Set("Origin", "https://ops.example")
		req.Header.Set("Access-Control-Request-Method", "POST")
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)

		So(rec.Code, ShouldEqual, http.StatusNoContent)
		So(rec.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "https://ops.example")
	})
}
