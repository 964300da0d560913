package app

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/docflow/docflow/internal/audit"
	"github.com/docflow/docflow/internal/funds"
	"github.com/docflow/docflow/internal/notify"
	"github.com/docflow/docflow/internal/render"
	"github.com/docflow/docflow/internal/shared"
	"github.com/docflow/docflow/internal/signatory"
	"github.com/docflow/docflow/internal/view"
	"github.com/docflow/docflow/internal/workflow"
	"github.com/docflow/docflow/report"
)

// Services holds the domain services shared by the API server, the worker and the CLI.
type Services struct {
	Directory     *signatory.Directory
	Workflow      *workflow.Service
	Funds         *funds.Service
	Notifications *notify.Repository
	PDF           *report.Client
	Idempotency   *shared.IdempotencyStore
	Audit         *audit.Service
}

// ServiceDeps collects the infrastructure the domain services are built on.
type ServiceDeps struct {
	Config     *Config
	Logger     *slog.Logger
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Dispatcher notify.Dispatcher
	Observer   workflow.Observer
}

// NewArtifactStore selects where rendered documents are kept.
func NewArtifactStore(ctx context.Context, cfg *Config) (render.Store, error) {
	if cfg.DocumentStorage == "s3" {
		return render.NewS3Store(ctx, cfg.S3())
	}
	return render.FileStore{Dir: cfg.DocumentStorageDir}, nil
}

// NewMailer selects the outbound mail channel. An SMTP driver without a host only logs.
func NewMailer(ctx context.Context, cfg *Config, logger *slog.Logger) (notify.Mailer, error) {
	switch {
	case cfg.MailDriver == "ses":
		return notify.NewSESMailer(ctx, cfg.AWSRegion, cfg.SMTPFrom)
	case cfg.MailDriver == "log" || cfg.SMTPHost == "":
		return notify.LogMailer{Logger: logger}, nil
	default:
		return notify.NewSMTPMailer(cfg.SMTP()), nil
	}
}

// BuildServices wires repositories, the signatory directory and the workflow service.
func BuildServices(ctx context.Context, deps ServiceDeps) (*Services, error) {
	cfg, logger := deps.Config, deps.Logger
	txOpts := cfg.TxOptions()

	directory := signatory.NewDirectory(signatory.NewRepository(deps.Pool), deps.Redis, cfg.SignatoryCacheTTL, logger)
	auditLog := shared.NewAuditLogger(deps.Pool, logger)
	poster := funds.NewPoster(logger)
	fundsRepo := funds.NewRepository(deps.Pool, txOpts)

	engine, err := view.NewEngine()
	if err != nil {
		return nil, err
	}
	pdf := report.NewClient(cfg.GotenbergURL, cfg.GotenbergTimeout)
	store, err := NewArtifactStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	renderer := render.New(engine, pdf, store, logger)

	svc := workflow.NewService(
		workflow.NewRepository(deps.Pool, txOpts),
		workflow.NewResolver(directory),
		poster,
		notify.NewEmitter(deps.Dispatcher, logger),
		logger,
	)
	svc.SetSLA(cfg.WorkflowSLA)
	svc.SetRenderer(renderer)
	svc.SetLedgerReader(fundsRepo)
	keys := shared.NewIdempotencyStore(deps.Pool)
	svc.SetIdempotencyStore(keys)
	svc.SetAuditRecorder(auditLog)
	if deps.Observer != nil {
		svc.SetObserver(deps.Observer)
	}

	return &Services{
		Directory:     directory,
		Workflow:      svc,
		Funds:         funds.NewService(fundsRepo, poster, auditLog, logger),
		Notifications: notify.NewRepository(deps.Pool),
		PDF:           pdf,
		Idempotency:   keys,
		Audit:         audit.NewService(audit.NewRepository(deps.Pool)),
	}, nil
}
