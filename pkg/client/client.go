// Package client provides OAuth2 client setup for Google APIs.
package client

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
)

const (
	// callbackPort is the port for the local OAuth callback server.
	callbackPort = 8085
	// callbackPath is the path for the OAuth callback.
	callbackPath = "/callback"
	// serverTimeout is how long to wait for the OAuth callback.
	serverTimeout = 5 * time.Minute
)

// DefaultTokenFile is where the OAuth token is cached when Options.TokenFile is empty.
const DefaultTokenFile = "data/token.json"

// ErrNoToken is returned by New when no cached token exists and the
// interactive flow is disabled.
var ErrNoToken = errors.New("no oauth token, run `mailspend setup` first")

// Options configures OAuth client creation.
type Options struct {
	// SecretFile is the path to the Google client secret JSON.
	SecretFile string
	// TokenFile caches the user token. Defaults to DefaultTokenFile.
	TokenFile string
	// Scopes requested during authorization.
	Scopes []string
	// Interactive starts the browser flow when no token is cached.
	Interactive bool
}

func (o Options) tokenFile() string {
	if o.TokenFile == "" {
		return DefaultTokenFile
	}
	return o.TokenFile
}

// New creates an HTTP client authorized with the cached token.
func New(ctx context.Context, opts Options, logger *slog.Logger) (*http.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	config, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	tok, err := TokenFromFile(opts.tokenFile())
	if err != nil {
		if !opts.Interactive {
			return nil, fmt.Errorf("loading token %s: %w", opts.tokenFile(), ErrNoToken)
		}
		logger.Info("no existing token found, initiating OAuth flow")
		if tok, err = authorize(ctx, config, opts.tokenFile(), logger); err != nil {
			return nil, err
		}
	}
	return config.Client(ctx, tok), nil
}

// Authorize runs the browser flow unconditionally and caches the new token.
func Authorize(ctx context.Context, opts Options, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	config, err := loadConfig(opts)
	if err != nil {
		return err
	}
	_, err = authorize(ctx, config, opts.tokenFile(), logger)
	return err
}

// HasToken reports whether a readable token is cached.
func HasToken(opts Options) bool {
	_, err := TokenFromFile(opts.tokenFile())
	return err == nil
}

func loadConfig(opts Options) (*oauth2.Config, error) {
	b, err := os.ReadFile(opts.SecretFile)
	if err != nil {
		return nil, fmt.Errorf("reading client secret file: %w", err)
	}
	config, err := google.ConfigFromJSON(b, opts.Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parsing client secret: %w", err)
	}
	return config, nil
}

func authorize(ctx context.Context, config *oauth2.Config, tokenFile string, logger *slog.Logger) (*oauth2.Token, error) {
	tok, err := getTokenFromWeb(ctx, config, logger)
	if err != nil {
		return nil, err
	}
	if err := SaveToken(tokenFile, tok); err != nil {
		logger.Error("failed to save token", "error", err)
	} else {
		logger.Info("saved credential file", "path", tokenFile)
	}
	return tok, nil
}

func getTokenFromWeb(ctx context.Context, config *oauth2.Config, logger *slog.Logger) (*oauth2.Token, error) {
	config.RedirectURL = fmt.Sprintf("http://localhost:%d%s", callbackPort, callbackPath)

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("generating state token: %w", err)
	}

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	server, err := startCallbackServer(ctx, state, codeChan, errChan, logger)
	if err != nil {
		return nil, fmt.Errorf("starting callback server: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error shutting down callback server", "error", err)
		}
	}()

	authURL := config.AuthCodeURL(state, oauth2.AccessTypeOffline)

	fmt.Printf("\nOpening browser for Google authentication...\n")
	fmt.Printf("If the browser doesn't open automatically, visit this URL:\n%s\n\n", authURL)

	if err := openBrowser(ctx, authURL); err != nil {
		logger.Warn("failed to open browser automatically", "error", err)
	}

	select {
	case code := <-codeChan:
		tok, err := config.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("exchanging authorization code for token: %w", err)
		}
		fmt.Println("Authentication successful!")
		return tok, nil
	case err := <-errChan:
		return nil, fmt.Errorf("oauth callback error: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(serverTimeout):
		return nil, fmt.Errorf("oauth flow timed out after %v", serverTimeout)
	}
}

func startCallbackServer(ctx context.Context, expectedState string, codeChan chan<- string, errChan chan<- error, logger *slog.Logger) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != expectedState {
			errChan <- fmt.Errorf("invalid state parameter")
			http.Error(w, "Invalid state parameter", http.StatusBadRequest)
			return
		}
		if errMsg := q.Get("error"); errMsg != "" {
			errChan <- fmt.Errorf("%s: %s", errMsg, q.Get("error_description"))
			http.Error(w, fmt.Sprintf("Authentication failed: %s", errMsg), http.StatusBadRequest)
			return
		}
		code := q.Get("code")
		if code == "" {
			errChan <- fmt.Errorf("no authorization code received")
			http.Error(w, "No authorization code received", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><title>mailspend</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 20vh;">
<h1>Authentication successful</h1>
<p>You can close this window and return to the terminal.</p>
</body>
</html>`)

		codeChan <- code
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", callbackPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", server.Addr)
	if err != nil {
		return nil, fmt.Errorf("port %d unavailable: %w", callbackPort, err)
	}

	go func() {
		logger.Debug("starting OAuth callback server", "port", callbackPort)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("callback server error", "error", err)
			errChan <- err
		}
	}()

	return server, nil
}

func openBrowser(ctx context.Context, url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", url)
	case "linux":
		cmd = exec.CommandContext(ctx, "xdg-open", url)
	case "windows":
		cmd = exec.CommandContext(ctx, "cmd", "/c", "start", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	return cmd.Start()
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// TokenFromFile retrieves a token from a local file.
func TokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("decoding token: %w", err)
	}
	return tok, nil
}

// SaveToken writes a token to path, creating its directory.
func SaveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating token file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	return nil
}

// Retryable reports whether a Google API error is worth retrying:
// rate limiting or a server-side failure.
func Retryable(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
}
