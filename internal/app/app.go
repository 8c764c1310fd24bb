// Package app wires the pieces together: config, store, crypto, auth,
// clients, and sync. Commands construct one App and pull what they
// need from it.
package app

import (
	"fmt"

	"github.com/mailbox-cli/mailbox/internal/auth"
	"github.com/mailbox-cli/mailbox/internal/client"
	"github.com/mailbox-cli/mailbox/internal/config"
	"github.com/mailbox-cli/mailbox/internal/crypto"
	"github.com/mailbox-cli/mailbox/internal/store"
	"github.com/mailbox-cli/mailbox/internal/sync"
)

// App holds the long-lived components of one process.
type App struct {
	Config   *config.Config
	Store    *store.Store
	Crypto   *crypto.Service
	Auth     *auth.Manager
	Email    *client.EmailClient
	Calendar *client.CalendarClient
	Sync     *sync.Manager

	// GeneratedKey is true when this run minted a fresh encryption key
	// and stored it in the system keyring; commands surface that to
	// the user once.
	GeneratedKey bool
}

// New loads config and opens the database. No network happens here;
// connections are made lazily by the clients.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return nil, err
	}
	st, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	key, generated, err := crypto.LoadOrCreateKey(cfg.Security.EncryptionKey)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("loading encryption key: %w", err)
	}
	cr, err := crypto.NewService(key)
	if err != nil {
		st.Close()
		return nil, err
	}

	am := auth.NewManager(cfg, st, cr)
	emails := client.NewEmailClient(am, st)
	cal := client.NewCalendarClient(am, st)

	return &App{
		Config:       cfg,
		Store:        st,
		Crypto:       cr,
		Auth:         am,
		Email:        emails,
		Calendar:     cal,
		Sync:         sync.NewManager(cfg, st, emails, cal, am.CurrentEmail),
		GeneratedKey: generated,
	}, nil
}

// Close releases the database. Live IMAP/SMTP connections are dropped
// by the auth manager's logout, which commands call when they care.
func (a *App) Close() error {
	return a.Store.Close()
}
