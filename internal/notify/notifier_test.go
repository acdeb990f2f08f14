package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/alexander-t-ho/prediction-market-sub001/internal/notify"
)

type recordingSender struct {
	name   string
	titles []string
	err    error
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.titles = append(s.titles, title)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestNotifier(t *testing.T) {
	Convey("Given a notifier filtered to market_resolved", t, func() {
		ok := &recordingSender{name: "ok"}
		broken := &recordingSender{name: "broken", err: errors.New("timeout")}
		n := notify.NewNotifier([]notify.Sender{broken, ok}, []string{"market_resolved"}, quiet)
		ctx := context.Background()

		Convey("Filtered events are dropped silently", func() {
			So(n.Notify(ctx, "something_else", "t", "m"), ShouldBeNil)
			So(ok.titles, ShouldBeEmpty)
		})

		Convey("A failing sender does not stop the others", func() {
			err := n.Notify(ctx, "market_resolved", "Market m1 resolved", "body")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "broken")
			So(ok.titles, ShouldResemble, []string{"Market m1 resolved"})
		})

		Convey("NotifyAll ignores the filter", func() {
			_ = n.NotifyAll(ctx, "hello", "body")
			So(ok.titles, ShouldResemble, []string{"hello"})
		})
	})

	Convey("A notifier without senders is disabled", t, func() {
		n := notify.NewNotifier(nil, nil, quiet)
		So(n.Enabled(), ShouldBeFalse)
		So(n.Notify(context.Background(), "x", "t", "m"), ShouldBeNil)
	})
}

func TestSenders(t *testing.T) {
	Convey("Given a webhook endpoint", t, func() {
		var (
			gotPath string
			gotBody map[string]any
			status  = http.StatusNoContent
		)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			w.WriteHeader(status)
		}))
		defer srv.Close()
		ctx := context.Background()

		Convey("Discord receives an embed", func() {
			So(notify.NewDiscordSender(srv.URL+"/hook").Send(ctx, "Resolved", "X won"), ShouldBeNil)
			So(gotPath, ShouldEqual, "/hook")
			embeds := gotBody["embeds"].([]any)
			So(embeds, ShouldHaveLength, 1)
			So(embeds[0].(map[string]any)["title"], ShouldEqual, "Resolved")
		})

		Convey("Telegram escapes HTML and targets the bot path", func() {
			status = http.StatusOK
			s := notify.NewTelegramSender("TOKEN", "42").WithBaseURL(srv.URL + "/")
			So(s.Send(ctx, "A<B", "1 & 2"), ShouldBeNil)
			So(gotPath, ShouldEqual, "/botTOKEN/sendMessage")
			So(gotBody["chat_id"], ShouldEqual, "42")
			So(gotBody["text"], ShouldEqual, "<b>A&lt;B</b>\n1 &amp; 2")
		})

		Convey("Non-2xx responses are errors", func() {
			status = http.StatusBadRequest
			err := notify.NewDiscordSender(srv.URL).Send(ctx, "t", "m")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "400")
		})
	})
}
