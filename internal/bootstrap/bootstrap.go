package bootstrap

import (
	"context"
	"fmt"

	"github.com/scriptor-ai/scriptor/internal/config"
	"github.com/scriptor-ai/scriptor/internal/core/domain"
	"github.com/scriptor-ai/scriptor/internal/core/ports"
	"github.com/scriptor-ai/scriptor/internal/core/usecase"
	"github.com/scriptor-ai/scriptor/internal/infrastructure/ai/scribe"
	"github.com/scriptor-ai/scriptor/internal/infrastructure/identity/apikey"
	"github.com/scriptor-ai/scriptor/internal/infrastructure/queue/nats"
	fitzrender "github.com/scriptor-ai/scriptor/internal/infrastructure/render/fitz"
	"github.com/scriptor-ai/scriptor/internal/infrastructure/repository/postgres"
	"github.com/scriptor-ai/scriptor/internal/infrastructure/resilience"
	"github.com/scriptor-ai/scriptor/internal/infrastructure/storage/localfs"
	"github.com/scriptor-ai/scriptor/internal/observability/logging"
)

type App struct {
	Config config.Config

	Queue    ports.MessageQueue
	Repo     ports.DocumentRepository
	Pages    ports.PageRepository
	Audit    ports.AuditRepository
	Storage  ports.ObjectStorage
	Identity *apikey.Provider
	Tracker  *usecase.UploadTracker

	UploadUC  ports.DocumentUploader
	ConvertUC ports.DocumentConverter
	Pipeline  ports.PipelineService

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	repo := postgres.NewDocumentRepository(db)
	pages := postgres.NewPageRepository(db)
	schemas := postgres.NewSchemaRepository(db)
	audit := postgres.NewAuditRepository(db)

	storage, err := localfs.New(cfg.StoragePath, cfg.StoragePublicURL)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())
	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	notifier := logging.NewSlogNotifier(nil)
	tracker := usecase.NewUploadTracker(notifier)

	renderer := fitzrender.New(cfg.RenderDPI, cfg.RenderQuality)
	gateway := scribe.New(cfg.InferenceURL, cfg.InferenceModel, audit, executor)
	prompts := scribe.NewPromptBuilder(cfg.InferenceModel)

	identity := apikey.New(cfg.APIKey, domain.User{
		ID:    cfg.UserID,
		Email: cfg.UserEmail,
		Name:  cfg.UserName,
	})

	uploadUC := usecase.NewUploadDocumentUseCase(repo, storage, queue, audit, notifier)
	convertUC := usecase.NewConvertDocumentUseCase(repo, pages, storage, renderer, audit, tracker)
	pipeline := usecase.NewPipelineOrchestrator(repo, pages, schemas, audit, gateway, prompts, convertUC, tracker, notifier)

	return &App{
		Config: cfg,

		Queue:    queue,
		Repo:     repo,
		Pages:    pages,
		Audit:    audit,
		Storage:  storage,
		Identity: identity,
		Tracker:  tracker,

		UploadUC:  uploadUC,
		ConvertUC: convertUC,
		Pipeline:  pipeline,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
