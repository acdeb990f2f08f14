package s3blob_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"

	s3blob "github.com/alexander-t-ho/prediction-market-sub001/internal/blob/s3"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/domain"
)

type memWriter struct {
	objects   map[string][]byte
	types     map[string]string
	multipart []string
	err       error
}

func newMemWriter() *memWriter {
	return &memWriter{objects: map[string][]byte{}, types: map[string]string{}}
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if w.err != nil {
		return w.err
	}
	b, _ := io.ReadAll(data)
	w.objects[path] = b
	w.types[path] = contentType
	return nil
}

func (w *memWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	b, _ := io.ReadAll(data)
	w.objects[path] = b
	w.multipart = append(w.multipart, path)
	return nil
}

func TestReportArchiver(t *testing.T) {
	Convey("Given a report archiver over an in-memory bucket", t, func() {
		w := newMemWriter()
		archiver := s3blob.NewReportArchiver(w, "")
		resolvedAt := time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC)
		actual := decimal.RequireFromString("12")
		result := domain.ResolutionResult{
			MarketID:         "m1",
			WinningOutcomeID: "X",
			ActualValue:      &actual,
			ResolvedAt:       &resolvedAt,
			PayoutSummary:    domain.PayoutSummary{TotalPool: decimal.RequireFromString("600")},
			Success:          true,
		}

		Convey("The report lands under a date-partitioned key", func() {
			key, err := archiver.ArchiveResolution(context.Background(), result)
			So(err, ShouldBeNil)
			So(key, ShouldEqual, "resolutions/2026/03/09/m1.json")
			So(w.types[key], ShouldEqual, "application/json")
			So(w.multipart, ShouldBeEmpty)

			var doc struct {
				SchemaVersion int                     `json:"schema_version"`
				Result        domain.ResolutionResult `json:"result"`
			}
			So(json.Unmarshal(w.objects[key], &doc), ShouldBeNil)
			So(doc.SchemaVersion, ShouldEqual, 1)
			So(doc.Result.PayoutSummary.TotalPool.Equal(decimal.RequireFromString("600")), ShouldBeTrue)
		})

		Convey("Very large reports use multipart upload", func() {
			for i := 0; i < 120000; i++ {
				result.Payouts = append(result.Payouts, domain.BetPayout{
					BetID:  strings.Repeat("b", 40),
					UserID: strings.Repeat("u", 20),
					Stake:  decimal.RequireFromString("1"),
					Amount: decimal.RequireFromString("1"),
				})
			}
			key, err := archiver.ArchiveResolution(context.Background(), result)
			So(err, ShouldBeNil)
			So(w.multipart, ShouldResemble, []string{key})
		})

		Convey("Upload failures are returned", func() {
			w.err = errors.New("access denied")
			_, err := archiver.ArchiveResolution(context.Background(), result)
			So(err, ShouldNotBeNil)
		})
	})
}
