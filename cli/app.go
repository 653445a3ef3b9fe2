// ABOUTME: Process wiring shared by every command: config, logger, database, and sync services
// ABOUTME: Opened lazily by the root command so help and version never touch the database
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/harperreed/contactsync/config"
	"github.com/harperreed/contactsync/db"
	"github.com/harperreed/contactsync/models"
	"github.com/harperreed/contactsync/sync"
)

// ChangeNotifier is the local-write signal the contact commands emit.
type ChangeNotifier interface {
	OnLocalWrite(ctx context.Context, userID, localID string, kind models.LocalKind, change models.ChangeKind) (*sync.ChangeResult, error)
}

// App holds the long-lived services for one invocation.
type App struct {
	Config     config.Config
	Logger     *log.Logger
	DB         *sql.DB
	Accounts   *db.AccountStore
	Sessions   *sync.SessionProvider
	Engine     *sync.Engine
	Dispatcher ChangeNotifier
	Linker     *sync.Linker
}

// NewApp opens the database and builds the sync services from cfg.
func NewApp(cfg config.Config, logger *log.Logger) (*App, error) {
	cipher, err := db.NewTokenCipher(cfg.Storage.TokenKey)
	if err != nil {
		return nil, fmt.Errorf("failed to init token cipher: %w", err)
	}

	database, err := db.OpenDatabase(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	httpClient := &http.Client{}
	oauthCfg := sync.NewOAuthConfig(cfg.Remote)
	accounts := db.NewAccountStore(database, cipher)

	sessions := sync.NewSessionProvider(accounts, oauthCfg, sync.SessionOptions{
		RefreshTimeout: cfg.Sync.RefreshTimeout(),
		HTTPClient:     httpClient,
		Logger:         logger,
	})

	engine := sync.NewEngine(sync.EngineOptions{
		DB:       database,
		Accounts: accounts,
		Local:    db.NewLocalContacts(database),
		Sessions: sessions,
		Remote: sync.PeopleRemoteFactory(sync.ClientOptions{
			BaseURL:           cfg.Remote.BaseURL,
			Timeout:           cfg.Sync.RequestTimeout(),
			ReadRetries:       cfg.Sync.ReadRetries,
			RequestsPerSecond: cfg.Remote.RequestsPerSecond,
			Burst:             cfg.Remote.Burst,
		}),
		Sync:   cfg.Sync,
		Logger: logger,
	})

	return &App{
		Config:     cfg,
		Logger:     logger,
		DB:         database,
		Accounts:   accounts,
		Sessions:   sessions,
		Engine:     engine,
		Dispatcher: sync.NewDispatcher(engine, logger),
		Linker:     sync.NewLinker(accounts, oauthCfg, cfg.Remote, httpClient, logger),
	}, nil
}

// Close releases the database.
func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
