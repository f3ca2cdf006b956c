package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"multistrat/internal/broker"
	"multistrat/internal/bus"
	"multistrat/internal/fx"
	"multistrat/internal/ingest"
	"multistrat/internal/journal"
	"multistrat/internal/ledger"
	"multistrat/internal/obs"
	"multistrat/internal/ops"
	"multistrat/internal/recon"
	"multistrat/internal/schema"
	"multistrat/internal/store"
	"multistrat/internal/strategy"
	"multistrat/pkg/conn"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

type emptyLogger struct{}

func (emptyLogger) Infof(string, ...interface{})  {}
func (emptyLogger) Debugf(string, ...interface{}) {}
func (emptyLogger) Errorf(string, ...interface{}) {}

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	journalDir := flag.String("journal-dir", "", "Event journal directory (overrides config)")
	snapshotPath := flag.String("snapshot-path", "", "Ledger snapshot output (overrides config)")
	recoverEnabled := flag.Bool("recover", false, "Recover the ledger from snapshot + journal before consuming")
	paperMode := flag.Bool("paper", false, "Run against the in-memory paper broker with demo flow")
	demoFills := flag.Int("demo-fills", 3, "Fills per strategy the paper demo publishes")
	pyroscopeAddr := flag.String("pyroscope", "", "Pyroscope server address (empty=disabled)")
	flag.Parse()

	if *pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "keeper",
			ServerAddress:   *pyroscopeAddr,
			Logger:          emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	loaded, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *journalDir != "" {
		loaded.JournalDir = *journalDir
	}
	if loaded.JournalDir == "" {
		loaded.JournalDir = "testdata/journal"
	}
	if *snapshotPath != "" {
		loaded.SnapshotPath = *snapshotPath
	}
	if loaded.SnapshotPath == "" {
		loaded.SnapshotPath = filepath.Join(loaded.JournalDir, "ledger.json")
	}

	if err := run(loaded, *recoverEnabled, *paperMode, *demoFills); err != nil {
		log.Fatalf("keeper failed: %v", err)
	}
}

func loadConfig(path string) (ops.Loaded, error) {
	if path == "" {
		return defaultLoaded()
	}
	return ops.Load(path)
}

func defaultLoaded() (ops.Loaded, error) {
	registry := strategy.NewRegistry()
	if err := registry.Register(strategy.Spec{Name: "demo", Currency: "USD"}); err != nil {
		return ops.Loaded{}, err
	}
	return ops.Loaded{
		BaseCurrency:   "USD",
		Registry:       registry,
		QueueCapacity:  4096,
		ReconInterval:  time.Minute,
		BrokerCacheTTL: time.Minute,
		FXTTL:          5 * time.Minute,
	}, nil
}

func run(loaded ops.Loaded, recoverEnabled, paperMode bool, demoFills int) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := obs.NewMetrics()

	client, err := conn.New(loaded.Postgres)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	gateway := store.New(client.DB(), store.Config{
		WriteAttempts: loaded.WriteAttempts,
		RetryBackoff:  loaded.RetryBackoff,
	}, metrics)
	if err := gateway.Migrate(ctx); err != nil {
		return err
	}

	books := ledger.New(loaded.Registry)
	if recoverEnabled {
		if snap, err := ledger.ReadSnapshot(loaded.SnapshotPath); err != nil {
			if !os.IsNotExist(err) {
				return err
			}
			logs.Infof("no ledger snapshot at %s, recovering from journal only", loaded.SnapshotPath)
		} else {
			books.Restore(snap)
			logs.Infof("ledger snapshot restored, positions: %d", books.Count())
		}
	}

	journalWriter, err := journal.NewWriter(journal.Config{
		Dir:           loaded.JournalDir,
		FilePrefix:    loaded.JournalPrefix,
		FlushInterval: time.Second,
	})
	if err != nil {
		return err
	}
	if err := journalWriter.Start(ctx); err != nil {
		return err
	}

	paper := broker.NewPaper()
	var brokerage broker.Brokerage = paper
	if !paperMode {
		// TODO: swap in the live brokerage client once its event stream is wired.
		logs.Warnf("live brokerage not configured, falling back to the paper broker")
	}
	cached := broker.NewCached(brokerage, loaded.BrokerCacheTTL)
	resolver := fx.NewResolver(cached, paper, loaded.FXTTL)

	queue := bus.NewQueue(loaded.QueueCapacity)
	engine := recon.NewEngine(recon.Config{
		Interval:     loaded.ReconInterval,
		BaseCurrency: loaded.BaseCurrency,
	}, cached, paper, resolver, gateway, books, metrics)

	consumer := ingest.NewConsumer(queue, books, gateway, journalWriter, engine, metrics)

	if recoverEnabled {
		replayed := 0
		err := journal.Replay(loaded.JournalDir, loaded.JournalPrefix, func(e schema.Event) error {
			replayed++
			return consumer.Replay(ctx, e)
		})
		if err != nil {
			return err
		}
		logs.Infof("journal replayed, events: %d, positions: %d", replayed, books.Count())
	}

	go consumer.Run(ctx)
	go engine.Run(ctx)
	if paperMode {
		go runDemo(ctx, queue, paper, loaded.Registry, loaded.BaseCurrency, demoFills)
	}

	logs.Infof("keeper started, strategies: %v, base: %s", loaded.Registry.Names(), loaded.BaseCurrency)
	<-sys.Shutdown()
	logs.Info("shutdown signal received, draining")

	if !consumer.DrainWithin(5 * time.Minute) {
		logs.Warnf("drain deadline reached with events still queued")
	}
	cancel()

	if err := ledger.WriteSnapshot(loaded.SnapshotPath, books.Snapshot()); err != nil {
		logs.Errorf("ledger snapshot write failed, err: %v", err)
	}
	if err := journalWriter.Close(); err != nil {
		logs.Errorf("journal close failed, err: %v", err)
	}

	snapshot := metrics.Capture()
	logs.Infof("keeper stopped, fills: %d, statuses: %d, duplicates: %d, recon_runs: %d, residual_rows: %d",
		snapshot.FillsApplied, snapshot.StatusesApplied, snapshot.DuplicateEvents, snapshot.ReconRuns, snapshot.ResidualRows)
	return nil
}

// runDemo seeds the paper broker and publishes a short burst of fills per
// configured strategy, so a paper run exercises the full ingest and
// reconciliation path without a live event stream.
func runDemo(ctx context.Context, queue *bus.Queue, paper *broker.Paper, registry *strategy.Registry, currency string, fills int) {
	paper.SetEquity(decimal.NewFromInt(1_000_000))
	price := decimal.NewFromInt(100)
	paper.SetPrice("DEMO", schema.AssetStock, price)

	published := 0
	for _, name := range registry.Names() {
		for i := 0; i < fills; i++ {
			f := schema.Fill{
				FillID:     fmt.Sprintf("demo-%s-%d", name, i),
				OrderID:    fmt.Sprintf("demo-order-%s-%d", name, i),
				Strategy:   name,
				Symbol:     "DEMO",
				AssetClass: schema.AssetStock,
				Side:       schema.SideBuy,
				Quantity:   decimal.NewFromInt(10),
				Price:      price,
				Currency:   currency,
				Timestamp:  time.Now().UTC(),
			}
			paper.Fill(f)
			if err := queue.Publish(ctx, schema.NewFillEvent(f)); err != nil {
				logs.Warnf("demo publish stopped, err: %v", err)
				return
			}
			published++
		}
	}
	logs.Infof("demo flow published, fills: %d, strategies: %d", published, len(registry.Names()))
}
