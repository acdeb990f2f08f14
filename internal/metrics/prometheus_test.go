package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/alexander-t-ho/prediction-market-sub001/internal/domain"
)

func TestManager(t *testing.T) {
	Convey("Given a manager on its own registry", t, func() {
		m := NewManager(
			WithRegistry(prometheus.NewRegistry()),
			WithConstLabels(map[string]string{"env": "test"}),
		)

		Convey("Resolution outcomes are counted per label", func() {
			m.ResolutionFinished("committed", 20*time.Millisecond)
			m.ResolutionFinished("conflict", time.Millisecond)
			m.ResolutionFinished("conflict", time.Millisecond)

			So(testutil.ToFloat64(m.resolutions.WithLabelValues("committed")), ShouldEqual, 1)
			So(testutil.ToFloat64(m.resolutions.WithLabelValues("conflict")), ShouldEqual, 2)
		})

		Convey("Payout summaries feed volume and bet counters", func() {
			m.PayoutsSettled(domain.PayoutSummary{
				TotalPayouts: decimal.RequireFromString("600"),
				WinnerCount:  2,
				LoserCount:   1,
			})
			m.PayoutsSettled(domain.PayoutSummary{
				TotalPayouts: decimal.RequireFromString("50.5"),
				LoserCount:   3,
				Refunded:     true,
			})

			So(testutil.ToFloat64(m.payoutVolume), ShouldEqual, 650.5)
			So(testutil.ToFloat64(m.refunds), ShouldEqual, 1)
			So(testutil.ToFloat64(m.betsSettled.WithLabelValues("winner")), ShouldEqual, 2)
			So(testutil.ToFloat64(m.betsSettled.WithLabelValues("loser")), ShouldEqual, 4)
		})

		Convey("The taste-match cap is visible", func() {
			m.AffinityTruncated(7)
			So(testutil.ToFloat64(m.affinitySkipped), ShouldEqual, 7)
			So(testutil.ToFloat64(m.affinityTruncated), ShouldEqual, 1)
		})

		Convey("The handler exposes the metrics", func() {
			m.ObserveHTTP(http.MethodPost, "/api/markets/{id}/resolve", 200, time.Millisecond)
			rec := httptest.NewRecorder()
			m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			body, _ := io.ReadAll(rec.Body)

			So(rec.Code, ShouldEqual, http.StatusOK)
			So(string(body), ShouldContainSubstring, `resolver_http_requests_total{env="test",method="POST",route="/api/markets/{id}/resolve",status="200"} 1`)
		})
	})

	Convey("Two managers can coexist", t, func() {
		So(func() {
			NewManager()
			NewManager()
		}, ShouldNotPanic)
	})
}
