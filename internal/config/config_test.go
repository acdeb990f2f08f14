package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestDefaults(t *testing.T) {
	Convey("The defaults validate", t, func() {
		cfg := Defaults()
		So(cfg.Validate(), ShouldBeNil)
		So(cfg.Settlement.CurrencyScale, ShouldEqual, 2)
		So(cfg.Settlement.MaxCorrectUsers, ShouldEqual, 500)
		So(cfg.Settlement.LockWait.Duration, ShouldEqual, 5*time.Second)
		So(cfg.Settlement.AllowEmptyMarkets, ShouldBeFalse)
	})
}

func TestLoad(t *testing.T) {
	Convey("Given a TOML file", t, func() {
		path := filepath.Join(t.TempDir(), "resolver.toml")
		body := `
mode = "preview"
store_driver = "memory"

[memory]
fixtures_path = "testdata/markets.json"

[settlement]
base_points = 50
lock_ttl = "10s"
allow_empty_markets = true
`
		So(os.WriteFile(path, []byte(body), 0o600), ShouldBeNil)

		Convey("File values override defaults and untouched keys keep theirs", func() {
			cfg, err := Load(path)
			So(err, ShouldBeNil)
			So(cfg.Mode, ShouldEqual, "preview")
			So(cfg.StoreDriver, ShouldEqual, "memory")
			So(cfg.Memory.FixturesPath, ShouldEqual, "testdata/markets.json")
			So(cfg.Settlement.BasePoints, ShouldEqual, 50)
			So(cfg.Settlement.LockTTL.Duration, ShouldEqual, 10*time.Second)
			So(cfg.Settlement.AllowEmptyMarkets, ShouldBeTrue)
			So(cfg.Settlement.MaxPointsPerBet, ShouldEqual, 1000)
			So(cfg.Validate(), ShouldBeNil)
		})

		Convey("Environment variables win over the file", func() {
			t.Setenv("RESOLVER_SETTLEMENT_BASE_POINTS", "75")
			t.Setenv("RESOLVER_SETTLEMENT_CURRENCY_SCALE", "4")
			t.Setenv("RESOLVER_SETTLEMENT_LOCK_WAIT", "250ms")
			t.Setenv("RESOLVER_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")

			cfg, err := Load(path)
			So(err, ShouldBeNil)
			So(cfg.Settlement.BasePoints, ShouldEqual, 75)
			So(cfg.Settlement.CurrencyScale, ShouldEqual, 4)
			So(cfg.Settlement.LockWait.Duration, ShouldEqual, 250*time.Millisecond)
			So(cfg.Server.CORSOrigins, ShouldResemble, []string{"https://a.example", "https://b.example"})
		})

		Convey("Unparseable environment values are ignored", func() {
			t.Setenv("RESOLVER_SETTLEMENT_MAX_CORRECT_USERS", "lots")
			cfg, err := Load(path)
			So(err, ShouldBeNil)
			So(cfg.Settlement.MaxCorrectUsers, ShouldEqual, 500)
		})
	})

	Convey("A missing file is an error", t, func() {
		_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
		So(err, ShouldNotBeNil)
	})
}

func TestValidate(t *testing.T) {
	Convey("Given a config with several problems", t, func() {
		cfg := Defaults()
		cfg.Mode = "trade"
		cfg.StoreDriver = "sqlite"
		cfg.Settlement.ProbabilityEpsilon = 0
		cfg.Settlement.MaxPointsPerBet = 0
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = ""

		Convey("Every problem is reported at once", func() {
			err := cfg.Validate()
			So(err, ShouldNotBeNil)
			msg := err.Error()
			So(msg, ShouldContainSubstring, `unknown mode "trade"`)
			So(msg, ShouldContainSubstring, `unknown store_driver "sqlite"`)
			So(msg, ShouldContainSubstring, "probability_epsilon")
			So(msg, ShouldContainSubstring, "max_points_per_bet")
			So(msg, ShouldContainSubstring, "redis: addr")
			So(strings.Count(msg, "\n  - "), ShouldEqual, 5)
		})
	})

	Convey("Migrations need postgres", t, func() {
		cfg := Defaults()
		cfg.Mode = "migrate"
		cfg.StoreDriver = "memory"
		So(cfg.Validate(), ShouldNotBeNil)
	})

	Convey("Postgres settings are skipped for the memory store", t, func() {
		cfg := Defaults()
		cfg.StoreDriver = "memory"
		cfg.Postgres.PoolMaxConns = 0
		So(cfg.Validate(), ShouldBeNil)
	})
}

func TestRedactedConfig(t *testing.T) {
	Convey("Given a config carrying secrets", t, func() {
		cfg := Defaults()
		cfg.Postgres.Password = "pg-secret"
		cfg.S3.SecretKey = "s3-secret"
		cfg.Server.APIKey = "api-secret"

		out := RedactedConfig(&cfg)

		Convey("Secrets are masked and other fields kept", func() {
			So(out.Postgres.Password, ShouldEqual, "***")
			So(out.S3.SecretKey, ShouldEqual, "***")
			So(out.Server.APIKey, ShouldEqual, "***")
			So(out.S3.AccessKey, ShouldBeEmpty)
			So(out.Postgres.Host, ShouldEqual, cfg.Postgres.Host)
		})

		Convey("The original is untouched", func() {
			out.Server.CORSOrigins[0] = "changed"
			So(cfg.Postgres.Password, ShouldEqual, "pg-secret")
			So(cfg.Server.CORSOrigins[0], ShouldEqual, "http://localhost:3000")
		})
	})
}

func TestSettlementEngineConfig(t *testing.T) {
	Convey("Tunables map onto the calculator config", t, func() {
		cfg := Defaults()
		cfg.Settlement.TasteMatchIncrement = 2.5
		engine := cfg.Settlement.Engine()
		So(engine.TasteMatchIncrement, ShouldEqual, 2.5)
		So(engine.CurrencyScale, ShouldEqual, cfg.Settlement.CurrencyScale)
		So(engine.MaxCorrectUsers, ShouldEqual, cfg.Settlement.MaxCorrectUsers)
	})
}
