package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/gin-gonic/gin"

	"esign-backend/internal/audit"
	googleauth "esign-backend/internal/auth"
	"esign-backend/internal/certificates"
	"esign-backend/internal/documents"
	"esign-backend/internal/envelopes"
	"esign-backend/internal/queue"
	"esign-backend/internal/shared/config"
	"esign-backend/internal/shared/server"
	"esign-backend/internal/shared/storage/db"
	"esign-backend/internal/shared/storage/object"
	localstore "esign-backend/internal/shared/storage/object/local"
	s3store "esign-backend/internal/shared/storage/object/s3"
	"esign-backend/internal/signing"
	"esign-backend/internal/users"
	"esign-backend/internal/worker"
	"esign-backend/internal/workflows"
)

// App holds the wired dependency graph. The API server, the worker, and the
// tests all build from here so the wiring stays in one place.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Store  object.Store
	Queue  queue.Client
	Runner db.Runner

	UsersRepo        users.Repo
	EnvelopesRepo    envelopes.Repo
	DocumentsRepo    documents.Repo
	AuditRepo        audit.Repo
	EvidenceRepo     signing.EvidenceRepo
	CertificatesRepo certificates.Repo

	EnvelopeService    *envelopes.Service
	DocumentService    *documents.Service
	UserService        *users.Service
	CertificateService *certificates.Service
	SignController     *signing.Controller
	Workflow           *workflows.Engine
	Sweeper            *worker.Sweeper
	GoogleAuth         *googleauth.GoogleService
}

// Build prepares the dependency graph and the HTTP router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	queueClient, err := buildQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}
	provider, err := buildProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Store:  store,
		Queue:  queueClient,
	}
	buildServices(app, provider)

	app.Router = server.NewRouter(server.RouterDeps{
		Config:       cfg,
		Envelopes:    envelopes.NewHandler(app.EnvelopeService),
		Documents:    documents.NewHandler(app.DocumentService),
		Signing:      signing.NewHandler(app.SignController),
		Certificates: certificates.NewHandler(app.CertificateService),
		Users:        users.NewHandler(app.UserService),
		GoogleAuth:   app.GoogleAuth,
	})
	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	opts := db.OptionsFromEnv(db.DefaultServerOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.Store, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Client, error) {
	if strings.TrimSpace(cfg.WorkflowQueueURL) == "" {
		return queue.NewMemoryClient(), nil
	}
	return queue.NewSQSClient(ctx, cfg.WorkflowQueueURL, cfg.AWSRegion)
}

func buildProvider(ctx context.Context, cfg config.Config) (signing.Provider, error) {
	var base signing.Provider
	switch cfg.SigningProvider {
	case "kms":
		if strings.TrimSpace(cfg.SigningKMSKeyID) == "" {
			return nil, fmt.Errorf("SIGNING_PROVIDER=kms requires SIGNING_KMS_KEY_ID")
		}
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		base = signing.NewKMSProvider(kms.NewFromConfig(awsCfg), cfg.SigningKMSKeyID)
	default:
		if strings.TrimSpace(cfg.SigningKeyFile) != "" {
			pemBytes, err := os.ReadFile(cfg.SigningKeyFile)
			if err != nil {
				return nil, fmt.Errorf("read signing key file: %w", err)
			}
			sw, err := signing.NewSoftwareProviderFromPEM(pemBytes)
			if err != nil {
				return nil, err
			}
			base = sw
		} else {
			sw, err := signing.NewSoftwareProvider()
			if err != nil {
				return nil, err
			}
			base = sw
		}
	}

	policy := signing.RetryPolicy{
		Attempts: cfg.SignRetryAttempts,
		Base:     cfg.SignRetryBase,
		Factor:   cfg.SignRetryFactor,
		Jitter:   cfg.SignRetryJitter,
	}
	return signing.WithRetry(base, policy), nil
}

func buildServices(app *App, provider signing.Provider) {
	if app.DB != nil {
		app.EnvelopesRepo = &envelopes.PGRepo{DB: app.DB}
		app.DocumentsRepo = &documents.PGRepo{DB: app.DB}
		app.UsersRepo = &users.PGRepo{DB: app.DB}
		app.AuditRepo = &audit.PGRepo{DB: app.DB}
		app.EvidenceRepo = &signing.PGEvidenceRepo{DB: app.DB}
		app.CertificatesRepo = &certificates.PGRepo{DB: app.DB}
		app.Runner = &db.PGRunner{DB: app.DB}
	} else {
		app.EnvelopesRepo = envelopes.NewMemoryRepo()
		app.DocumentsRepo = documents.NewMemoryRepo()
		app.UsersRepo = users.NewMemoryRepo()
		app.AuditRepo = audit.NewMemoryRepo()
		app.EvidenceRepo = signing.NewMemoryEvidenceRepo()
		app.CertificatesRepo = certificates.NewMemoryRepo()
		app.Runner = db.NewMemoryRunner()
	}

	app.Workflow = workflows.NewEngine(app.Queue, app.AuditRepo, app.Runner)

	app.EnvelopeService = &envelopes.Service{
		Repo:   app.EnvelopesRepo,
		Docs:   app.DocumentsRepo,
		Audit:  app.AuditRepo,
		Runner: app.Runner,
		Hooks:  app.Workflow,
		Caps: envelopes.Caps{
			MaxDocuments:  app.Config.MaxDocumentsPerEnvelope,
			MaxRecipients: app.Config.MaxRecipients,
			MaxFields:     app.Config.MaxFields,
		},
		TokenBytes: app.Config.AccessTokenBytes,
		TokenTTL:   app.Config.AccessTokenTTL,
	}
	app.DocumentService = &documents.Service{Store: app.Store, Repo: app.DocumentsRepo}
	app.UserService = users.NewService(app.UsersRepo)

	app.CertificateService = &certificates.Service{
		Envelopes: app.EnvelopesRepo,
		Docs:      app.DocumentsRepo,
		Users:     app.UsersRepo,
		Audit:     app.AuditRepo,
		Evidence:  app.EvidenceRepo,
		Store:     app.Store,
		Repo:      app.CertificatesRepo,
		Runner:    app.Runner,
	}

	app.SignController = signing.NewController(app.EnvelopeService, app.Store, app.EvidenceRepo, provider)
	app.SignController.Certificates = certificates.Scheduler{Service: app.CertificateService}

	app.Sweeper = worker.NewSweeper(app.EnvelopeService, app.Queue, 0)

	app.GoogleAuth = googleauth.NewGoogleService(
		app.Config.GoogleClientID,
		app.Config.GoogleClientSecret,
		app.Config.GoogleRedirectURL,
		app.Config.UIRedirectURL,
	)
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
