// Package google provides Google Calendar OAuth and API access.
package google

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"careclock/internal/config"
	"careclock/internal/crypto"
	"careclock/internal/database"
	"careclock/internal/util"
)

// OAuthManager handles Google OAuth token management. Only the refresh
// token is persisted (encrypted); access tokens live in memory.
type OAuthManager struct {
	config    *oauth2.Config
	db        *database.DB
	encryptor *crypto.Encryptor
	mu        sync.Mutex // Serialize token refresh

	cachedToken *oauth2.Token
	cacheExpiry time.Time
}

// NewOAuthManager creates a new OAuth manager.
func NewOAuthManager(cfg *config.Config, db *database.DB, encryptor *crypto.Encryptor) *OAuthManager {
	oauthConfig := &oauth2.Config{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  cfg.Google.RedirectURI,
		Scopes:       cfg.Google.Scopes,
		Endpoint:     google.Endpoint,
	}

	return &OAuthManager{
		config:    oauthConfig,
		db:        db,
		encryptor: encryptor,
	}
}

// IsConfigured checks if Google OAuth credentials are present.
func (m *OAuthManager) IsConfigured() bool {
	return m.config.ClientID != "" && m.config.ClientSecret != ""
}

// GetAuthURL returns the OAuth authorization URL for the device owner to
// visit in a browser.
func (m *OAuthManager) GetAuthURL() string {
	return m.config.AuthCodeURL("state", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode exchanges an authorization code for tokens and persists the
// refresh token.
func (m *OAuthManager) ExchangeCode(ctx context.Context, code string) error {
	token, err := m.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange code: %w", err)
	}

	if err := m.saveToken(ctx, token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	m.mu.Lock()
	m.cachedToken = token
	m.cacheExpiry = token.Expiry
	m.mu.Unlock()

	util.Info("Google OAuth token saved successfully")
	return nil
}

// GetValidToken returns a valid OAuth token, refreshing if necessary.
func (m *OAuthManager) GetValidToken(ctx context.Context) (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check cache first
	if m.cachedToken != nil && time.Now().Add(5*time.Minute).Before(m.cacheExpiry) {
		return m.cachedToken, nil
	}

	token, err := m.loadToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("no OAuth token configured: %w", err)
	}

	// Refresh with a 5-minute buffer
	if token.Expiry.Before(time.Now().Add(5 * time.Minute)) {
		newToken, err := m.refreshToken(ctx, token)
		if err != nil {
			util.Error("OAuth token refresh failed", "error", err)
			return nil, fmt.Errorf("token refresh failed: %w", err)
		}
		if newToken.RefreshToken == "" {
			newToken.RefreshToken = token.RefreshToken
		}

		// Google may rotate the refresh token
		if err := m.saveToken(ctx, newToken); err != nil {
			util.Error("Failed to save refreshed token", "error", err)
			// Continue anyway, the in-memory token is valid
		}

		token = newToken
		util.Info("OAuth token refreshed successfully")
	}

	m.cachedToken = token
	m.cacheExpiry = token.Expiry

	return token, nil
}

func (m *OAuthManager) refreshToken(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error) {
	tokenSource := m.config.TokenSource(ctx, token)
	return tokenSource.Token()
}

func (m *OAuthManager) saveToken(ctx context.Context, token *oauth2.Token) error {
	if token.RefreshToken == "" {
		return fmt.Errorf("no refresh token to save")
	}

	encryptedToken, err := m.encryptor.Encrypt(token.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt token: %w", err)
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO oauth_tokens (id, refresh_token_enc, updated_at)
		VALUES ('primary', ?, datetime('now'))
		ON CONFLICT(id) DO UPDATE SET
			refresh_token_enc = excluded.refresh_token_enc,
			updated_at = datetime('now')
	`, encryptedToken)

	return err
}

func (m *OAuthManager) loadToken(ctx context.Context) (*oauth2.Token, error) {
	var encryptedToken []byte

	err := m.db.QueryRowContext(ctx, `
		SELECT refresh_token_enc FROM oauth_tokens WHERE id = 'primary'
	`).Scan(&encryptedToken)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no OAuth token configured")
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	refreshToken, err := m.encryptor.Decrypt(encryptedToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt token: %w", err)
	}

	// Expiry in the past forces an immediate refresh
	return &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-1 * time.Hour),
	}, nil
}

// HasToken checks if an OAuth token is configured.
func (m *OAuthManager) HasToken(ctx context.Context) bool {
	var count int
	err := m.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM oauth_tokens WHERE id = 'primary'
	`).Scan(&count)

	return err == nil && count > 0
}

// InvalidateCache drops the cached access token so the next call refreshes.
func (m *OAuthManager) InvalidateCache() {
	m.mu.Lock()
	m.cachedToken = nil
	m.cacheExpiry = time.Time{}
	m.mu.Unlock()
}

// DeleteToken removes the stored OAuth token.
func (m *OAuthManager) DeleteToken(ctx context.Context) error {
	m.InvalidateCache()

	_, err := m.db.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE id = 'primary'`)
	return err
}

// GetClient returns an HTTP client configured with OAuth credentials.
func (m *OAuthManager) GetClient(ctx context.Context) (*http.Client, error) {
	token, err := m.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}
	return m.config.Client(ctx, token), nil
}
