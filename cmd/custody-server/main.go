package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/identity-custody-backend/api/authhandler"
	"github.com/ruteri/identity-custody-backend/api/internalhandler"
	"github.com/ruteri/identity-custody-backend/api/servers"
	"github.com/ruteri/identity-custody-backend/cmd/flags"
	"github.com/ruteri/identity-custody-backend/interfaces"
	"github.com/ruteri/identity-custody-backend/kms"
	"github.com/ruteri/identity-custody-backend/notify"
	"github.com/ruteri/identity-custody-backend/p2pidentity"
	"github.com/ruteri/identity-custody-backend/provisioning"
	"github.com/ruteri/identity-custody-backend/session"
	"github.com/ruteri/identity-custody-backend/storage"
	"github.com/ruteri/identity-custody-backend/wallet"
	"github.com/urfave/cli/v2"
)

var serverFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "listen-addr",
		Value:   "127.0.0.1:8080",
		Usage:   "address to listen on for the public auth API",
		EnvVars: []string{"LISTEN_ADDR"},
	},
	&cli.StringFlag{
		Name:    "internal-listen-addr",
		Value:   "127.0.0.1:8081",
		Usage:   "address to listen on for the internal key release API, must not be publicly reachable",
		EnvVars: []string{"INTERNAL_LISTEN_ADDR"},
	},
	&cli.StringFlag{
		Name:    "database-url",
		Value:   "sqlite::memory:",
		Usage:   "postgres://..., sqlite:///path/to/db or sqlite::memory:",
		EnvVars: []string{"DATABASE_URL"},
	},
	&cli.DurationFlag{
		Name:    "purge-interval",
		Value:   time.Hour,
		Usage:   "how often expired sessions and blocked tokens are deleted, 0 to disable",
		EnvVars: []string{"PURGE_INTERVAL"},
	},
	&cli.DurationFlag{
		Name:    "key-pool-refresh-interval",
		Value:   10 * time.Minute,
		Usage:   "how often root key aliases are re-probed, 0 to disable",
		EnvVars: []string{"KEY_POOL_REFRESH_INTERVAL"},
	},
	&cli.StringFlag{
		Name:     "token-secret",
		Required: true,
		Usage:    "HS256 secret for access and refresh tokens, at least 32 bytes",
		EnvVars:  []string{"TOKEN_SECRET"},
	},
	&cli.StringFlag{
		Name:    "token-issuer",
		Value:   "identity-custody",
		EnvVars: []string{"TOKEN_ISSUER"},
	},
	&cli.DurationFlag{
		Name:    "access-token-ttl",
		Value:   session.DefaultAccessTTL,
		EnvVars: []string{"ACCESS_TOKEN_TTL"},
	},
	&cli.DurationFlag{
		Name:    "refresh-token-ttl",
		Value:   session.DefaultRefreshTTL,
		EnvVars: []string{"REFRESH_TOKEN_TTL"},
	},
	&cli.Uint64Flag{
		Name:    "denylist-capacity",
		Value:   100_000,
		Usage:   "maximum number of blocked access tokens kept in memory",
		EnvVars: []string{"DENYLIST_CAPACITY"},
	},
	&cli.StringFlag{
		Name:     "id-token-secret",
		Required: true,
		Usage:    "HS256 secret shared with the authentication gateway, at least 32 bytes",
		EnvVars:  []string{"ID_TOKEN_SECRET"},
	},
	&cli.StringFlag{
		Name:    "id-token-issuer",
		EnvVars: []string{"ID_TOKEN_ISSUER"},
	},
	&cli.StringFlag{
		Name:    "id-token-audience",
		EnvVars: []string{"ID_TOKEN_AUDIENCE"},
	},
	&cli.BoolFlag{
		Name:    "retry-inactive",
		Value:   true,
		Usage:   "let returning principals with incomplete registration resume provisioning",
		EnvVars: []string{"RETRY_INACTIVE"},
	},
	&cli.StringFlag{
		Name:    "platform-signing-key",
		Usage:   "hex-encoded secp256k1 operational signing key served on the internal API",
		EnvVars: []string{"PLATFORM_SIGNING_KEY"},
	},
	&cli.StringFlag{
		Name:    "nats-url",
		Usage:   "NATS server for funding and role-grant jobs, jobs are only logged when empty",
		EnvVars: []string{"NATS_URL"},
	},
	&cli.StringFlag{
		Name:    "nats-creds",
		Usage:   "NATS credentials file",
		EnvVars: []string{"NATS_CREDS"},
	},
	&cli.StringFlag{
		Name:    "nats-funding-subject",
		Value:   "custody.funding",
		EnvVars: []string{"NATS_FUNDING_SUBJECT"},
	},
	&cli.StringFlag{
		Name:    "nats-role-grant-subject",
		Value:   "custody.role-grant",
		EnvVars: []string{"NATS_ROLE_GRANT_SUBJECT"},
	},
	&cli.StringFlag{
		Name:    "site-url",
		Usage:   "base URL of the site service notified about new peers, notifications are only logged when empty",
		EnvVars: []string{"SITE_URL"},
	},
	&cli.IntFlag{
		Name:    "site-retry-max",
		Value:   3,
		EnvVars: []string{"SITE_RETRY_MAX"},
	},
	&cli.DurationFlag{
		Name:    "downstream-timeout",
		Value:   10 * time.Second,
		Usage:   "timeout of a single downstream notification",
		EnvVars: []string{"DOWNSTREAM_TIMEOUT"},
	},
	&cli.IntFlag{
		Name:    "downstream-max-in-flight",
		Value:   256,
		Usage:   "downstream notifications running at once, further ones are dropped",
		EnvVars: []string{"DOWNSTREAM_MAX_IN_FLIGHT"},
	},
}

func main() {
	app := &cli.App{
		Name:   "custody-server",
		Usage:  "Provision and serve custodial wallets and P2P identities",
		Flags:  append(append(serverFlags, flags.RootKeyFlags...), flags.CommonFlags...),
		Action: runServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runServer(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	ctx := cCtx.Context

	// Root keys
	primary, secondaries, err := flags.RootKeyServices(cCtx, logger)
	if err != nil {
		logger.Error("Failed to configure root key service", "err", err)
		return err
	}

	poolCfg := flags.KeyPoolConfig(cCtx)
	pool := kms.NewKeyPool(primary, poolCfg, logger)
	if err := pool.Initialize(ctx, poolCfg.Size); err != nil {
		logger.Error("Failed to initialize key pool", "err", err)
		return err
	}
	if _, err := pool.SelectKey(); err != nil {
		// Logins fail until a root key becomes active, existing records still decrypt.
		logger.Warn("No active root key in pool", "prefix", poolCfg.AliasPrefix, "err", err)
	}
	envelope := kms.NewEnvelope(primary, pool, logger, secondaries...)

	// Storage
	store, err := storage.OpenURL(ctx, cCtx.String("database-url"), logger)
	if err != nil {
		logger.Error("Failed to open database", "err", err)
		return err
	}
	defer store.Close()

	// Downstream collaborators
	dispatcher := notify.NewDispatcher(cCtx.Int("downstream-max-in-flight"), cCtx.Duration("downstream-timeout"), logger)
	logOnly := notify.NewLogOnly(logger)

	var funding interfaces.FundingEnqueuer = logOnly
	var roleGrants interfaces.RoleGrantEnqueuer = logOnly
	if natsURL := cCtx.String("nats-url"); natsURL != "" {
		natsCfg := notify.NATSConfig{
			URL:              natsURL,
			CredentialsFile:  cCtx.String("nats-creds"),
			FundingSubject:   cCtx.String("nats-funding-subject"),
			RoleGrantSubject: cCtx.String("nats-role-grant-subject"),
		}
		conn, err := notify.ConnectNATS(natsCfg, logger)
		if err != nil {
			logger.Error("Failed to connect to NATS", "err", err)
			return err
		}
		defer conn.Drain()

		js, err := conn.JetStream()
		if err != nil {
			logger.Error("Failed to open JetStream context", "err", err)
			return err
		}
		queue := notify.NewNATSQueue(js, natsCfg, logger)
		funding, roleGrants = queue, queue
	}

	var sites interfaces.SiteNotifier = logOnly
	if siteURL := cCtx.String("site-url"); siteURL != "" {
		sites = notify.NewSiteNotifier(siteURL, cCtx.Int("site-retry-max"), logger)
	}

	// Sessions
	denylist := session.NewDenylist(cCtx.Uint64("denylist-capacity"))
	go denylist.Start()
	defer denylist.Stop()

	sessions, err := session.NewService(store, denylist, session.Config{
		Secret:     []byte(cCtx.String("token-secret")),
		Issuer:     cCtx.String("token-issuer"),
		AccessTTL:  cCtx.Duration("access-token-ttl"),
		RefreshTTL: cCtx.Duration("refresh-token-ttl"),
	}, logger)
	if err != nil {
		logger.Error("Failed to configure sessions", "err", err)
		return err
	}

	verifier, err := provisioning.NewHMACIDTokenVerifier(
		[]byte(cCtx.String("id-token-secret")),
		cCtx.String("id-token-issuer"),
		cCtx.String("id-token-audience"))
	if err != nil {
		logger.Error("Failed to configure ID token verifier", "err", err)
		return err
	}

	orchestratorCfg := provisioning.Config{RetryInactive: cCtx.Bool("retry-inactive")}
	if keyHex := cCtx.String("platform-signing-key"); keyHex != "" {
		orchestratorCfg.PlatformSigningKey, err = crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
		if err != nil {
			return fmt.Errorf("invalid platform-signing-key: %w", err)
		}
		logger.Info("Platform signing key loaded", "address", crypto.PubkeyToAddress(orchestratorCfg.PlatformSigningKey.PublicKey).Hex())
	}

	orchestrator := provisioning.NewOrchestrator(
		store,
		store,
		wallet.NewService(store, envelope, funding, dispatcher, logger),
		p2pidentity.NewService(store, logger),
		sessions,
		provisioning.Collaborators{RoleGrants: roleGrants, Sites: sites},
		dispatcher,
		orchestratorCfg,
		logger,
	)

	// Servers
	publicSrv, err := servers.New(
		flags.ConfigureServer(cCtx, logger, "public", cCtx.String("listen-addr"), true),
		authhandler.NewHandler(verifier, orchestrator, logger))
	if err != nil {
		logger.Error("Failed to create public server", "err", err)
		return err
	}

	internalSrv, err := servers.New(
		flags.ConfigureServer(cCtx, logger, "internal", cCtx.String("internal-listen-addr"), false),
		internalhandler.NewHandler(orchestrator, logger))
	if err != nil {
		logger.Error("Failed to create internal server", "err", err)
		return err
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runPeriodically(bgCtx, cCtx.Duration("purge-interval"), func(ctx context.Context) {
		n, err := store.PurgeExpired(ctx, time.Now())
		if err != nil {
			logger.Error("Failed to purge expired tokens", "err", err)
			return
		}
		logger.Debug("Purged expired tokens", "count", n)
	})
	go runPeriodically(bgCtx, cCtx.Duration("key-pool-refresh-interval"), func(ctx context.Context) {
		if err := pool.Refresh(ctx); err != nil {
			logger.Error("Failed to refresh key pool", "err", err)
		}
	})

	publicSrv.RunInBackground()
	internalSrv.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop", "strategy", envelope.Strategy())
	<-exit
	logger.Info("Shutdown signal received")

	cancel()
	publicSrv.Shutdown()
	internalSrv.Shutdown()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), cCtx.Duration("downstream-timeout"))
	defer closeCancel()
	if err := dispatcher.Close(closeCtx); err != nil {
		logger.Warn("Downstream notifications still in flight at shutdown", "err", err)
	}

	logger.Info("Server shutdown complete")
	return nil
}

func runPeriodically(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
