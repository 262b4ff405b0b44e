package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/obsliveshare/relay/internal/auth"
	"github.com/obsliveshare/relay/internal/config"
	"github.com/obsliveshare/relay/internal/controlroom"
	"github.com/obsliveshare/relay/internal/crdtroom"
	"github.com/obsliveshare/relay/internal/gateway"
	ilog "github.com/obsliveshare/relay/internal/log"
	"github.com/obsliveshare/relay/internal/registry"
	"github.com/obsliveshare/relay/internal/server"
	"github.com/obsliveshare/relay/internal/store/sqlite"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.ParseServerFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "server config error:", err)
		return 2
	}
	logger := ilog.New(cfg.LogLevel)

	st, err := sqlite.Open(filepath.Join(cfg.DataDir, "relay.db"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "store open error:", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	reg := registry.New(st, logger)
	if err := reg.LoadFromStore(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "failed to load rooms:", err)
		return 1
	}

	crdtEngine := crdtroom.New(st, logger, cfg.IdleGracePeriod, cfg.PersistDebounce)
	controlEngine := controlroom.New(logger)

	var identity *auth.IdentityVerifier
	stateSecret := []byte(cfg.JWTSecret)
	if cfg.JWTSecret != "" {
		identity = auth.NewIdentityVerifier(cfg.JWTSecret)
	} else if cfg.RequireGitHubAuth {
		fmt.Fprintln(os.Stderr, "server config error: JWT_SECRET is required when REQUIRE_GITHUB_AUTH is enabled")
		return 2
	} else {
		// No identity auth configured: the OAuth callback and gateway's
		// identity gate are both inert, but the verifier and state-signing
		// secret still need a value to be internally consistent.
		identity = auth.NewIdentityVerifier("")
		stateSecret = []byte("relay-oauth-state")
	}

	publicURL := cfg.PublicURL
	if publicURL == "" {
		publicURL = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}

	gw := gateway.New(reg, crdtEngine, controlEngine, identity, cfg.RequireGitHubAuth, gateway.GitHubOAuthConfig{
		ClientID:     cfg.GitHubClientID,
		ClientSecret: cfg.GitHubClientSecret,
		CallbackURL:  publicURL + "/auth/github/callback",
		RedirectURL:  cfg.GitHubRedirectURL,
	}, stateSecret, logger)

	rateLimiter := registry.NewRateLimiter()
	srv := server.New(cfg, gw, rateLimiter, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := srv.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "server error:", err)
		return 1
	}
	return 0
}
