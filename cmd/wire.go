package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	authadapter "github.com/bnema/gmail-fleet/internal/adapters/auth"
	"github.com/bnema/gmail-fleet/internal/adapters/chrome"
	"github.com/bnema/gmail-fleet/internal/adapters/gmail"
	summaryadapter "github.com/bnema/gmail-fleet/internal/adapters/render/summary"
	tomlrepo "github.com/bnema/gmail-fleet/internal/adapters/repo/toml"
	chainstore "github.com/bnema/gmail-fleet/internal/adapters/secrets/chain"
	"github.com/bnema/gmail-fleet/internal/application"
	"github.com/bnema/gmail-fleet/internal/domain"
	"github.com/bnema/gmail-fleet/internal/plugins"
	"github.com/bnema/gmail-fleet/internal/ports"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type app struct {
	logger          *zap.Logger
	accounts        *application.AccountService
	batches         *application.BatchService
	orchestrator    *application.Orchestrator
	registry        *plugins.Registry
	sessions        ports.SessionManager
	credentials     ports.CredentialSource
	authorizer      ports.Authorizer
	deviceFlow      authadapter.DeviceFlowAdapter
	summaryRenderer func(domain.RunSummary, summaryadapter.RenderOptions) (string, error)
	oauthClientID   string
}

func wireApp() (*app, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, fmt.Errorf("wire logger: %w", err)
	}

	accountRepo, err := tomlrepo.NewRepository(viper.New())
	if err != nil {
		return nil, fmt.Errorf("wire account repository: %w", err)
	}

	batchRepo, err := tomlrepo.NewBatchRepository(viper.New())
	if err != nil {
		return nil, fmt.Errorf("wire batch repository: %w", err)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	dataRoot := filepath.Join(homeDir, ".gmail-fleet")

	secretStore, err := chainstore.NewPassFirstWithFileFallback(filepath.Join(dataRoot, "secrets"))
	if err != nil {
		return nil, fmt.Errorf("wire secret store chain: %w", err)
	}

	clientID := envOrDefault("GMF_OAUTH_CLIENT_ID", "")
	clientSecret := envOrDefault("GMF_OAUTH_CLIENT_SECRET", "")
	httpClient := &http.Client{Timeout: 30 * time.Second}
	clock := ports.SystemClock{}

	credentials := authadapter.NewTokenStore(secretStore, httpClient, clock, clientID, clientSecret)
	authorizer := authadapter.NewGoogleAuthorizer(
		authadapter.DefaultAuthorizerConfig(clientID, clientSecret),
		httpClient,
		clock,
		logger,
	)
	sessions := chrome.NewManager(chrome.DefaultConfig(dataRoot), logger)
	registry := plugins.NewRegistry()
	factory := gmailMailboxFactory{httpClient: httpClient, logger: logger}

	accountService := application.NewAccountService(accountRepo)
	batchService := application.NewBatchService(accountRepo, batchRepo, clock)
	orchestrator := application.NewOrchestrator(
		sessions, credentials, authorizer, registry, factory, clock, logger,
	)

	return &app{
		logger:       logger,
		accounts:     accountService,
		batches:      batchService,
		orchestrator: orchestrator,
		registry:     registry,
		sessions:     sessions,
		credentials:  credentials,
		authorizer:   authorizer,
		deviceFlow: authadapter.DeviceFlowAdapter{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			HTTPClient:   httpClient,
			Clock:        clock,
		},
		summaryRenderer: summaryadapter.Render,
		oauthClientID:   clientID,
	}, nil
}

// newLogger keeps normal CLI output clean: warnings and errors go to stderr,
// and GMF_DEBUG=1 switches to a full development logger.
func newLogger() (*zap.Logger, error) {
	if os.Getenv("GMF_DEBUG") != "" {
		return zap.NewDevelopment()
	}

	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

// gmailMailboxFactory builds a Gmail API client bound to one account's
// access token. The same client serves both the message and contacts ports.
type gmailMailboxFactory struct {
	httpClient *http.Client
	logger     *zap.Logger
}

func (f gmailMailboxFactory) MailboxFor(account domain.Account, cred domain.Credential) (ports.Mailbox, ports.Contacts) {
	client := gmail.NewClient(
		f.httpClient,
		gmail.StaticToken(cred.AccessToken),
		f.logger.With(zap.String("account", string(account.ID))),
	)
	return client, client
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
