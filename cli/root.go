// Package cli provides the main command-line interface and process
// entrypoint for the collaborative flow-editing backend (collabd).
//
// The package orchestrates the complete application lifecycle: loading
// configuration, wiring the KV store, cache, service registry, event
// bus, rate limiter, document store and auth service, building the flow
// manager, collaboration coordinator and WebSocket gateway on top of
// them, mounting the admin HTTP surface, and handling graceful
// shutdown.
//
// Architecture Overview:
//
//	CLI → Settings → Collaborators (kv/cache/registry/bus/limiter/docs) →
//	Domain (flow manager, collaboration coordinator) → Gateway (HTTP+WS)
package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/evalgo/flowcollab/api"
	"github.com/evalgo/flowcollab/auth"
	"github.com/evalgo/flowcollab/common"
	"github.com/evalgo/flowcollab/config"
	"github.com/evalgo/flowcollab/db"
	"github.com/evalgo/flowcollab/internal/authn"
	"github.com/evalgo/flowcollab/internal/cache"
	"github.com/evalgo/flowcollab/internal/collab"
	"github.com/evalgo/flowcollab/internal/docstore"
	"github.com/evalgo/flowcollab/internal/eventbus"
	"github.com/evalgo/flowcollab/internal/flow"
	"github.com/evalgo/flowcollab/internal/gateway"
	"github.com/evalgo/flowcollab/internal/kv"
	"github.com/evalgo/flowcollab/internal/logging"
	"github.com/evalgo/flowcollab/internal/ratelimit"
	"github.com/evalgo/flowcollab/internal/registry"
)

// cfgFile holds the path to an optional YAML configuration file supplied
// via --config. Every setting it carries is lower precedence than both
// command-line flags and environment variables.
var cfgFile string

// RootCmd is the collabd entrypoint: it serves the WebSocket
// collaboration gateway and its admin HTTP surface on one process.
//
// Configuration Precedence (highest to lowest):
//  1. Command-line flags
//  2. Environment variables
//  3. Optional YAML configuration file
//  4. Built-in defaults
var RootCmd = &cobra.Command{
	Use:   "collabd",
	Short: "serves the collaborative flow-editing backend",
	Long: `collabd

Serves the real-time collaboration and cross-service orchestration plane:
- WebSocket gateway for flow-editing clients
- Per-flow collaboration coordination with serialized mutation ordering
- Service registry, document store and cache wiring for the flow manager
- Admin HTTP surface: health/readiness probes, metrics, registry listing,
  a REST mirror of flow CRUD, and dev token issuance

Configuration is resolved from command-line flags, environment variables,
and an optional YAML file, in that order of precedence.`,
	Run: runServer,
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.collabd.yaml)")

	RootCmd.PersistentFlags().String("http-port", "", "HTTP server port")
	RootCmd.PersistentFlags().String("kv-url", "", "KV store (Redis) connection URL")
	RootCmd.PersistentFlags().String("doc-store-url", "", "document store (CouchDB) connection URL")
	RootCmd.PersistentFlags().String("doc-store-database", "", "document store database name")
	RootCmd.PersistentFlags().String("token-signing-key", "", "JWT signing secret")
	RootCmd.PersistentFlags().String("ws-path", "", "WebSocket upgrade path")

	viper.BindPFlag("HTTP_PORT", RootCmd.PersistentFlags().Lookup("http-port"))
	viper.BindPFlag("KV_URL", RootCmd.PersistentFlags().Lookup("kv-url"))
	viper.BindPFlag("DOC_STORE_URL", RootCmd.PersistentFlags().Lookup("doc-store-url"))
	viper.BindPFlag("DOC_STORE_DATABASE", RootCmd.PersistentFlags().Lookup("doc-store-database"))
	viper.BindPFlag("TOKEN_SIGNING_KEY", RootCmd.PersistentFlags().Lookup("token-signing-key"))
	viper.BindPFlag("WS_PATH", RootCmd.PersistentFlags().Lookup("ws-path"))
}

// initConfig loads an optional YAML file via Viper and promotes every
// value it holds into the environment, so config.Load (which is
// environment-first by design) sees flags and file values uniformly
// alongside variables the deployer set directly.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".collabd")
	}

	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		log.Println("using config file:", viper.ConfigFileUsed())
	}

	for _, key := range []string{
		"HTTP_PORT", "KV_URL", "DOC_STORE_URL", "DOC_STORE_DATABASE",
		"TOKEN_SIGNING_KEY", "WS_PATH",
	} {
		// An explicitly set flag outranks an existing environment variable.
		if f := RootCmd.PersistentFlags().Lookup(strings.ToLower(strings.ReplaceAll(key, "_", "-"))); f != nil && f.Changed {
			os.Setenv(key, f.Value.String())
			continue
		}
		if v := viper.GetString(key); v != "" {
			if os.Getenv(key) == "" {
				os.Setenv(key, v)
			}
		}
	}
}

// runServer wires every collaborator and serves the admin+WebSocket
// HTTP surface until it receives SIGINT or SIGTERM.
func runServer(cmd *cobra.Command, args []string) {
	settings, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.New(settings, "collabd", "0.1.0")
	ctx := context.Background()

	store, err := kv.New(ctx, settings.KVURL)
	if err != nil {
		log.Fatalf("failed to connect to kv store: %v", err)
	}

	cacheMgr := cache.New(store, settings.CachePrefix, prometheus.DefaultRegisterer)
	bus := eventbus.New(store)

	tiers := make(map[string]ratelimit.Limits, len(settings.Tiers))
	for name, t := range settings.Tiers {
		tiers[name] = ratelimit.Limits{
			MaxPerHour:        t.MaxPerHour,
			MaxPerDay:         t.MaxPerDay,
			MaxConnections:    t.MaxConnections,
			MaxMessagesPerSec: t.MaxMessagesPerSec,
		}
	}
	limiter := ratelimit.New(store, tiers)

	reg := registry.New(store, settings.HealthProbeInterval, 5*time.Second, logger.Infof)
	reg.Start()
	defer reg.Stop()

	docs, err := docstore.New(ctx, settings.DocStoreURL)
	if err != nil {
		log.Fatalf("failed to connect to document store: %v", err)
	}

	couchDBService, err := db.NewCouchDBService(common.FlowConfig{
		CouchDBURL:   settings.DocStoreURL,
		DatabaseName: settings.DocStoreDatabase,
	})
	if err != nil {
		log.Fatalf("failed to initialize user store backend: %v", err)
	}
	defer couchDBService.Close()

	authCfg := auth.DefaultConfig()
	authCfg.JWTSecret = settings.TokenSigningKey
	authService := auth.NewAuthService(authCfg, auth.NewCouchDBUserStore(couchDBService))
	authenticator := authn.New(authService)

	flows := flow.New(docs, cacheMgr, bus)

	gw := gateway.New(authenticator, limiter, bus, logger.Infof)
	coord := collab.New(flows, bus, store, gw)
	gw.SetCoordinator(coord)
	if err := gw.StartEventBridge(ctx); err != nil {
		log.Fatalf("failed to start event bridge: %v", err)
	}
	defer coord.Stop()

	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	handlers := &api.Handlers{Flows: flows, Registry: reg, Auth: authService}
	api.SetupRoutes(e, handlers, settings.TokenSigningKey)
	e.GET(settings.WSPath, func(c echo.Context) error {
		gw.ServeHTTP(c.Response(), c.Request())
		return nil
	})

	go func() {
		addr := settings.HTTPHost + ":" + strconv.Itoa(settings.HTTPPort)
		logger.Infof("collabd listening on %s", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Fatal(err)
	}
}
