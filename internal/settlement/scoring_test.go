package settlement_test

import (
	"math"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/alexander-t-ho/prediction-market-sub001/internal/domain"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/settlement"
)

func TestScoringCalculator(t *testing.T) {
	Convey("Given the default scoring tunables", t, func() {
		calc := settlement.ScoringCalculator{BasePoints: 100, Epsilon: 0.01, MaxPointsPerBet: 1000}

		Convey("Points are inversely proportional to the probability at bet time", func() {
			So(calc.PointsForBet(0.5), ShouldEqual, 200)
			So(calc.PointsForBet(0.4), ShouldEqual, 250)
			So(calc.PointsForBet(1), ShouldEqual, 100)
			So(calc.PointsForBet(0.3), ShouldEqual, 333)
		})

		Convey("Near-zero probabilities are floored at epsilon and clamped", func() {
			So(calc.PointsForBet(0.001), ShouldEqual, 1000)
			So(calc.PointsForBet(0), ShouldEqual, 1000)
			So(calc.PointsForBet(-0.2), ShouldEqual, 1000)
			So(calc.PointsForBet(math.NaN()), ShouldEqual, 1000)
		})

		Convey("Probabilities above one count as certainty", func() {
			So(calc.PointsForBet(1.7), ShouldEqual, 100)
		})

		Convey("When a user placed several winning bets", func() {
			points := calc.Compute([]domain.Bet{
				bet("b1", "A", "X", "100", 0.5, 0),
				bet("b2", "B", "X", "300", 0.4, 1),
				bet("b3", "A", "X", "10", 0.25, 2),
			})

			Convey("Then their points are summed into one figure", func() {
				So(points, ShouldHaveLength, 2)
				So(points["A"], ShouldEqual, 600)
				So(points["B"], ShouldEqual, 250)
			})
		})

		Convey("When there are no winning bets", func() {
			points := calc.Compute(nil)

			Convey("Then the mapping is empty rather than nil", func() {
				So(points, ShouldNotBeNil)
				So(points, ShouldBeEmpty)
			})
		})
	})
}
