package commands

import (
	"time"

	"github.com/teranos/datacat/am"
	"github.com/teranos/datacat/catalog/infer"
	"github.com/teranos/datacat/catalog/ingest"
	"github.com/teranos/datacat/catalog/notify"
	"github.com/teranos/datacat/catalog/onboard"
	"github.com/teranos/datacat/catalog/resolve"
	"github.com/teranos/datacat/catalog/store"
	"github.com/teranos/datacat/catalog/tasks"
	"github.com/teranos/datacat/db"
	"github.com/teranos/datacat/errors"
	"github.com/teranos/datacat/internal/httpclient"
	"github.com/teranos/datacat/logger"
	"github.com/teranos/datacat/pulse/async"
)

// app holds the collaborators a command needs, built from configuration.
type app struct {
	cfg     *am.Config
	conn    *db.Conn
	client  *httpclient.SaferClient
	records *store.Store
	queue   *async.Queue
	service *onboard.Service
}

// openApp loads configuration, opens and migrates the database and wires
// the onboarding service.
func openApp() (*app, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithHint(errors.Wrap(err, "invalid configuration"), "run `datacat am show` to inspect it")
	}

	conn, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.Logger
	client := newClient(cfg.Resolver)
	records := store.NewStore(conn, log)
	queue := async.NewQueue(conn)

	resolver := resolve.NewResolver(client, infer.Options{
		MaxLines: cfg.Resolver.SampleLines,
		MaxBytes: cfg.Resolver.SampleBytes,
	}, log)

	service := onboard.NewService(onboard.Deps{
		Resolver:   resolver,
		Records:    records,
		Dispatcher: tasks.NewDispatcher(queue, records, log),
		Tracker:    tasks.NewTracker(queue, records, log),
		Sender:     notify.NewLogSender(cfg.Notify.From, log),
		Composer:   notify.NewComposer(cfg.Notify.SiteURL),
		AdminEmail: cfg.Notify.AdminEmail,
		Logger:     log,
	})

	return &app{
		cfg:     cfg,
		conn:    conn,
		client:  client,
		records: records,
		queue:   queue,
		service: service,
	}, nil
}

func (a *app) Close() error {
	return a.conn.Close()
}

// openDatabase opens and migrates the configured database.
func openDatabase(cfg *am.Config) (*db.Conn, error) {
	conn, err := db.OpenWithMigrations(cfg.Database.Driver, cfg.Database.DSN, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s database", cfg.Database.Driver)
	}
	return conn, nil
}

func newClient(cfg am.ResolverConfig) *httpclient.SaferClient {
	return httpclient.NewSaferClientWithOptions(time.Duration(cfg.TimeoutSeconds)*time.Second, httpclient.SaferClientOptions{
		MaxRedirects:      &cfg.MaxRedirects,
		BlockPrivateIP:    &cfg.BlockPrivateIP,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		UserAgent:         cfg.UserAgent,
	})
}

// ingestDeps wires the catalog job handlers for the worker pool.
func (a *app) ingestDeps(queue *async.Queue) (ingest.Deps, error) {
	archive, err := ingest.NewArchive(a.cfg.Storage, logger.Logger)
	if err != nil {
		return ingest.Deps{}, err
	}

	fetchTimeout := time.Duration(a.cfg.Ingest.FetchTimeoutSeconds) * time.Second
	return ingest.Deps{
		Records: a.records,
		Queue:   queue,
		Fetcher: ingest.NewFetcher(a.client.WithTimeout(fetchTimeout), a.cfg.Ingest.StagingDir, fetchTimeout, logger.Logger),
		Loader:  ingest.NewLoader(a.conn, a.cfg.Ingest.BatchSize, logger.Logger),
		Archive: archive,
		Logger:  logger.Logger,
	}, nil
}
