package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/redis/go-redis/v9"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/lox/cropwatch/internal/advisory"
	"github.com/lox/cropwatch/internal/alerts"
	"github.com/lox/cropwatch/internal/analysis"
	"github.com/lox/cropwatch/internal/api"
	"github.com/lox/cropwatch/internal/ingest"
	"github.com/lox/cropwatch/internal/models"
	"github.com/lox/cropwatch/internal/reports"
	"github.com/lox/cropwatch/internal/satellite"
	"github.com/lox/cropwatch/internal/store"
)

type Globals struct {
	EnvFile      kongdotenv.ENVFileConfig `name:"env-file" default:".env" help:"Path to a .env file."`
	DB           string                   `name:"db" default:"data/cropwatch.db" env:"CROPWATCH_DB" help:"Path to SQLite database."`
	EngineConfig string                   `name:"engine-config" env:"CROPWATCH_ENGINE_CONFIG" help:"YAML file overriding engine weights and thresholds."`

	Provider     string        `name:"provider" enum:"http,ftp,synthetic" default:"synthetic" env:"CROPWATCH_PROVIDER" help:"Satellite index source (http, ftp, synthetic)."`
	ProviderURL  string        `name:"provider-url" env:"CROPWATCH_PROVIDER_URL" help:"Base URL of the HTTP index provider."`
	ProviderKey  string        `name:"provider-key" env:"CROPWATCH_PROVIDER_KEY" help:"Bearer token for the HTTP index provider."`
	FTPAddr      string        `name:"ftp-addr" env:"CROPWATCH_FTP_ADDR" help:"FTP archive address (host:port)."`
	FTPUser      string        `name:"ftp-user" default:"anonymous" env:"CROPWATCH_FTP_USER"`
	FTPPassword  string        `name:"ftp-password" env:"CROPWATCH_FTP_PASSWORD"`
	FTPRoot      string        `name:"ftp-root" default:"/indices" env:"CROPWATCH_FTP_ROOT" help:"Directory holding {field}/{index}.csv exports."`
	RedisAddr    string        `name:"redis-addr" env:"REDIS_ADDR" help:"Redis address for caching provider responses."`
	RedisTTL     time.Duration `name:"redis-ttl" default:"6h" env:"CROPWATCH_REDIS_TTL"`
	AMQPURL      string        `name:"amqp-url" env:"AMQP_URL" help:"RabbitMQ URL for field alerts."`
	AMQPExchange string        `name:"amqp-exchange" default:"cropwatch.alerts" env:"CROPWATCH_AMQP_EXCHANGE"`
	MongoURI     string        `name:"mongo-uri" env:"MONGO_URI" help:"MongoDB URI for the report mirror."`
	MongoDB      string        `name:"mongo-db" default:"cropwatch" env:"CROPWATCH_MONGO_DB"`
	OpenAIKey    string        `name:"openai-key" env:"OPENAI_API_KEY" help:"Enables LLM-rewritten advisories."`
	CacheDir     string        `name:"cache-dir" default:"data/advisories" env:"CROPWATCH_CACHE_DIR"`
}

type CLI struct {
	Globals

	Serve   ServeCmd   `cmd:"" help:"Run the scheduler and HTTP API."`
	Ingest  IngestCmd  `cmd:"" help:"Ingest and analyse every active field once."`
	Analyze AnalyzeCmd `cmd:"" help:"Analyse one field and print the result as JSON."`
	Migrate MigrateCmd `cmd:"" help:"Apply database migrations."`
}

type ServeCmd struct {
	Port     string        `name:"port" default:"8080" env:"PORT" help:"HTTP server port."`
	Interval time.Duration `name:"ingest-interval" default:"6h" env:"CROPWATCH_INGEST_INTERVAL"`
	Lookback time.Duration `name:"lookback" default:"2160h" env:"CROPWATCH_LOOKBACK" help:"Window fetched for each field."`
	NoPoll   bool          `name:"no-poll" help:"Disable the ingest scheduler (server only, for local dev)."`
	Demo     bool          `name:"demo" help:"Seed a demo field when the database has none."`
}

type IngestCmd struct {
	Lookback time.Duration `name:"lookback" default:"2160h" env:"CROPWATCH_LOOKBACK"`
}

type AnalyzeCmd struct {
	Field string `arg:"" help:"Field ID."`
	Start string `name:"start" help:"First date (YYYY-MM-DD). Defaults to 90 days before end."`
	End   string `name:"end" help:"Last date (YYYY-MM-DD). Defaults to today."`
	Live  bool   `name:"live" help:"Query the provider directly instead of the local store."`
	Save  bool   `name:"save" help:"Store the result."`
}

type MigrateCmd struct{}

var demoField = models.Field{
	FieldID:   "demo",
	Name:      "Demo Paddock",
	Crop:      "wheat",
	Latitude:  -36.794,
	Longitude: 146.977,
	AreaHa:    sql.NullFloat64{Float64: 40, Valid: true},
	Active:    true,
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("cropwatch"),
		kong.Description("Vegetation index time-series analysis for crop fields."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}

func (g *Globals) openStore() (*store.Store, func(), error) {
	if dir := filepath.Dir(g.DB); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", g.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return st, func() { db.Close() }, nil
}

// remoteProvider builds the configured index source, wrapped in a redis
// cache when one is configured.
func (g *Globals) remoteProvider() (satellite.Provider, func(), error) {
	var p satellite.Provider
	switch g.Provider {
	case "http":
		if g.ProviderURL == "" {
			return nil, nil, fmt.Errorf("--provider-url is required for the http provider")
		}
		p = satellite.NewHTTPProvider(g.ProviderURL, g.ProviderKey)
	case "ftp":
		if g.FTPAddr == "" {
			return nil, nil, fmt.Errorf("--ftp-addr is required for the ftp provider")
		}
		p = satellite.NewFTPProvider(g.FTPAddr, g.FTPUser, g.FTPPassword, g.FTPRoot)
	default:
		p = satellite.NewSyntheticProvider()
	}

	if g.RedisAddr == "" {
		return p, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: g.RedisAddr})
	log.Printf("caching %s provider responses in redis at %s", p.Name(), g.RedisAddr)
	return satellite.NewCachedProvider(p, client, g.RedisTTL), func() { client.Close() }, nil
}

func (g *Globals) engine(provider satellite.Provider) (*analysis.Engine, error) {
	cfg, err := analysis.LoadConfig(g.EngineConfig)
	if err != nil {
		return nil, err
	}
	return analysis.NewEngine(provider, cfg), nil
}

// scheduler wires the ingest loop with the optional alert and report sinks.
func (g *Globals) scheduler(ctx context.Context, st *store.Store) (*ingest.Scheduler, func(), error) {
	source, closeSource, err := g.remoteProvider()
	if err != nil {
		return nil, nil, err
	}
	engine, err := g.engine(satellite.NewStoreProvider(st))
	if err != nil {
		closeSource()
		return nil, nil, err
	}

	sched := ingest.NewScheduler(st, source, engine)
	closers := []func(){closeSource}

	if g.AMQPURL != "" {
		pub, err := alerts.Dial(g.AMQPURL, g.AMQPExchange)
		if err != nil {
			log.Printf("alerts disabled: %v", err)
		} else {
			sched.SetAlertPublisher(pub)
			closers = append(closers, func() { pub.Close() })
		}
	}
	if g.MongoURI != "" {
		w, err := reports.Connect(ctx, g.MongoURI, g.MongoDB)
		if err != nil {
			log.Printf("report mirror disabled: %v", err)
		} else {
			sched.SetReportWriter(w)
			closers = append(closers, func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				w.Close(closeCtx)
			})
		}
	}

	return sched, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}, nil
}

func (g *Globals) advisor() *advisory.Advisor {
	if g.OpenAIKey == "" {
		return advisory.NewAdvisor(nil, nil)
	}
	narrator, err := advisory.NewOpenAINarrator(g.OpenAIKey)
	if err != nil {
		log.Printf("advisory rewrite disabled: %v", err)
		return advisory.NewAdvisor(nil, nil)
	}
	return advisory.NewAdvisor(narrator, advisory.NewCache(g.CacheDir, 24*time.Hour))
}

func (c *ServeCmd) Run(g *Globals) error {
	st, closeDB, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeDB()
	log.Println("database migrated")

	if c.Demo {
		fields, err := st.ListFields()
		if err != nil {
			return fmt.Errorf("list fields: %w", err)
		}
		if len(fields) == 0 {
			if err := st.UpsertField(demoField); err != nil {
				return fmt.Errorf("seed demo field: %w", err)
			}
			log.Println("demo field seeded")
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine, err := g.engine(satellite.NewStoreProvider(st))
	if err != nil {
		return err
	}

	if !c.NoPoll {
		sched, closeSched, err := g.scheduler(ctx, st)
		if err != nil {
			return err
		}
		defer closeSched()
		sched.SetInterval(c.Interval)
		sched.SetLookback(c.Lookback)
		go sched.Run(ctx)
	} else {
		log.Println("polling disabled (--no-poll)")
	}

	server := api.NewServer(st, engine, g.advisor(), c.Port)
	log.Printf("starting server on :%s", c.Port)
	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func (c *IngestCmd) Run(g *Globals) error {
	st, closeDB, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched, closeSched, err := g.scheduler(ctx, st)
	if err != nil {
		return err
	}
	defer closeSched()
	sched.SetLookback(c.Lookback)

	log.Println("running single ingestion")
	n := sched.IngestOnce(ctx)
	log.Printf("done: %d fields analysed", n)
	return nil
}

func (c *AnalyzeCmd) Run(g *Globals) error {
	st, closeDB, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	field, err := st.GetField(c.Field)
	if err != nil {
		return fmt.Errorf("get field: %w", err)
	}
	if field == nil {
		return fmt.Errorf("field %q not found", c.Field)
	}

	end := satellite.DateOnly(time.Now())
	if c.End != "" {
		if end, err = time.Parse(satellite.DateLayout, c.End); err != nil {
			return fmt.Errorf("parse --end: %w", err)
		}
	}
	start := end.AddDate(0, 0, -90)
	if c.Start != "" {
		if start, err = time.Parse(satellite.DateLayout, c.Start); err != nil {
			return fmt.Errorf("parse --start: %w", err)
		}
	}

	var provider satellite.Provider = satellite.NewStoreProvider(st)
	if c.Live {
		remote, closeRemote, err := g.remoteProvider()
		if err != nil {
			return err
		}
		defer closeRemote()
		provider = remote
	}
	engine, err := g.engine(provider)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result := engine.Analyze(ctx, analysis.Request{
		FieldID:  field.FieldID,
		Start:    start,
		End:      end,
		Location: models.Location{Zone: "field", Latitude: field.Latitude, Longitude: field.Longitude},
	})
	if c.Save {
		id, err := st.SaveResult(result)
		if err != nil {
			return fmt.Errorf("save result: %w", err)
		}
		log.Printf("saved result %s", id)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func (c *MigrateCmd) Run(g *Globals) error {
	st, closeDB, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	version, err := st.MigrationVersion()
	if err != nil {
		return err
	}
	log.Printf("database at schema version %d", version)
	return nil
}
