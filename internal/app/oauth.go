package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/kibotos/kibotos/internal/infrastructure/logger"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
)

// GoogleOAuthService runs the one-time account linking flow for Google
// Drive. Visiting /auth/google/drive redirects to Google's consent page; the
// callback persists the token to the configured credentials file, after
// which the Drive uploader can be constructed.
type GoogleOAuthService struct {
	config          *oauth2.Config
	credentialsFile string
	logger          *logger.Logger
	authServer      *http.Server
}

func NewGoogleOAuthService(log *logger.Logger, clientSecretPath, credentialsFile string) (*GoogleOAuthService, error) {
	if clientSecretPath == "" {
		return nil, errors.New("client secret path cannot be empty")
	}
	if credentialsFile == "" {
		return nil, errors.New("credentials file path cannot be empty")
	}

	b, err := os.ReadFile(clientSecretPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	cfg, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret: %w", err)
	}

	return &GoogleOAuthService{
		config:          cfg,
		credentialsFile: credentialsFile,
		logger:          log,
	}, nil
}

// IsLinked reports whether a credentials file is already present, i.e. the
// linking flow has completed at some point.
func IsLinked(credentialsFile string) bool {
	info, err := os.Stat(credentialsFile)
	return err == nil && info.Size() > 0
}

// StartAuthServer starts the linking HTTP server in a goroutine.
func (s *GoogleOAuthService) StartAuthServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /auth/google/drive", func(w http.ResponseWriter, r *http.Request) {
		authURL := s.config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
		http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
	})

	mux.HandleFunc("GET /auth/google/callback", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code parameter", http.StatusBadRequest)
			return
		}

		token, err := s.config.Exchange(r.Context(), code)
		if err != nil {
			http.Error(w, fmt.Sprintf("token exchange failed: %v", err), http.StatusInternalServerError)
			return
		}

		if token.RefreshToken == "" {
			http.Error(w, "no refresh token returned, revoke the app's access and re-authorize", http.StatusBadRequest)
			return
		}

		tokenJSON, err := json.MarshalIndent(token, "", "  ")
		if err != nil {
			http.Error(w, "failed to marshal token", http.StatusInternalServerError)
			return
		}
		if err := os.WriteFile(s.credentialsFile, tokenJSON, 0o600); err != nil {
			http.Error(w, fmt.Sprintf("failed to save credentials: %v", err), http.StatusInternalServerError)
			return
		}

		s.logger.Infof("Google Drive account linked, credentials saved to %s", s.credentialsFile)
		fmt.Fprintln(w, "Google Drive account linked. Backups will be uploaded starting with the next run.")
	})

	s.authServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Infof("Google Drive linking server listening on %s, visit http://localhost%s/auth/google/drive to link your account", addr, addr)
		if err := s.authServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("OAuth server error: %v", err)
		}
	}()

	return nil
}

// Shutdown gracefully stops the linking server.
func (s *GoogleOAuthService) Shutdown(ctx context.Context) error {
	if s.authServer == nil {
		return nil
	}
	if err := s.authServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown OAuth server: %w", err)
	}
	s.logger.Infof("OAuth server stopped")
	return nil
}
