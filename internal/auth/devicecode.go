// Package auth acquires Microsoft Graph access tokens with the OAuth2
// device code flow.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/cache"
	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/public"
)

const (
	// DefaultClientID is a first-party public client that may request
	// delegated calendar scopes without an app registration.
	DefaultClientID = "d7b530a4-7680-4c23-a8bf-c52c121d2e87"

	// DefaultAuthority is the multi-tenant login endpoint.
	DefaultAuthority = "https://login.microsoftonline.com/common"
)

// ErrInteractionRequired is returned when no cached account can be used
// silently and interactive sign-in is disabled.
var ErrInteractionRequired = errors.New("interactive sign-in required")

// Token represents an OAuth2 access token.
type Token struct {
	AccessToken string
	ExpiresOn   time.Time
	AccountID   string
}

// DeviceCodeAuth provides authentication via device code flow.
type DeviceCodeAuth struct {
	client public.Client
	scopes []string
	prompt io.Writer

	mu          sync.Mutex
	cachedToken *Token
}

// NewDeviceCodeAuth creates a new device code auth client. Sign-in
// instructions are written to prompt; a nil prompt disables interactive
// sign-in so only cached accounts are used.
func NewDeviceCodeAuth(clientID string, scopes []string, prompt io.Writer) (*DeviceCodeAuth, error) {
	if clientID == "" {
		clientID = DefaultClientID
	}

	opts := []public.Option{public.WithAuthority(DefaultAuthority)}

	cacheFile, err := cacheFilePath()
	if err != nil {
		slog.Warn("could not determine token cache path", "error", err)
	} else {
		opts = append(opts, public.WithCache(&tokenCache{path: cacheFile}))
	}

	client, err := public.New(clientID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create MSAL client: %w", err)
	}

	return &DeviceCodeAuth{
		client: client,
		scopes: scopes,
		prompt: prompt,
	}, nil
}

// GetToken returns a valid access token, refreshing silently when a cached
// account exists and falling back to the device code flow.
func (d *DeviceCodeAuth) GetToken(ctx context.Context) (*Token, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cachedToken != nil && time.Now().Add(5*time.Minute).Before(d.cachedToken.ExpiresOn) {
		return d.cachedToken, nil
	}

	accounts, err := d.client.Accounts(ctx)
	if err != nil {
		slog.Debug("could not list cached accounts", "error", err)
	}
	for _, acct := range accounts {
		result, err := d.client.AcquireTokenSilent(ctx, d.scopes, public.WithSilentAccount(acct))
		if err != nil {
			slog.Debug("silent auth failed", "account", acct.PreferredUsername, "error", err)
			continue
		}
		d.cachedToken = &Token{
			AccessToken: result.AccessToken,
			ExpiresOn:   result.ExpiresOn,
			AccountID:   acct.HomeAccountID,
		}
		return d.cachedToken, nil
	}

	if d.prompt == nil {
		return nil, ErrInteractionRequired
	}

	slog.Info("no cached credentials, starting device code flow")
	dc, err := d.client.AcquireTokenByDeviceCode(ctx, d.scopes)
	if err != nil {
		return nil, fmt.Errorf("start device code flow: %w", err)
	}

	fmt.Fprintf(d.prompt, "\nTo sign in, open %s and enter the code %s\n\n",
		dc.Result.VerificationURL, dc.Result.UserCode)

	result, err := dc.AuthenticationResult(ctx)
	if err != nil {
		return nil, fmt.Errorf("device code auth: %w", err)
	}

	d.cachedToken = &Token{
		AccessToken: result.AccessToken,
		ExpiresOn:   result.ExpiresOn,
		AccountID:   result.Account.HomeAccountID,
	}
	return d.cachedToken, nil
}

// Close is a no-op for device code auth.
func (d *DeviceCodeAuth) Close() error {
	return nil
}

// tokenCache persists the MSAL cache to a private file.
type tokenCache struct {
	path string
}

func (t *tokenCache) Replace(ctx context.Context, c cache.Unmarshaler, hints cache.ReplaceHints) error {
	data, err := os.ReadFile(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return c.Unmarshal(data)
}

func (t *tokenCache) Export(ctx context.Context, c cache.Marshaler, hints cache.ExportHints) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0700); err != nil {
		return err
	}
	return os.WriteFile(t.path, data, 0600)
}

func cacheFilePath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "calgrid", "msal_token_cache.json"), nil
}
