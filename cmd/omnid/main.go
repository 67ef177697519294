package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/omnicore/omnid/internal/admin"
	"github.com/omnicore/omnid/internal/config"
	"github.com/omnicore/omnid/internal/crypto"
	"github.com/omnicore/omnid/internal/federation"
	"github.com/omnicore/omnid/internal/keystore"
	"github.com/omnicore/omnid/internal/server"
	"github.com/omnicore/omnid/internal/session"
	"github.com/omnicore/omnid/internal/store"
	"github.com/omnicore/omnid/internal/version"
)

var (
	dataDir string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "omnid",
		Short: "Omni Core authentication server",
		Long: `An authentication server providing encrypted key exchange, client
registration and a federated directory of peer servers.`,
	}

	defaultData := os.Getenv("OMNI_DATA_DIR")
	if defaultData == "" {
		defaultData = "data"
	}
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data", "d", defaultData, "data directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		serveCmd(),
		statusCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var (
		tlsMode     string
		tlsCert     string
		tlsKey      string
		acmeDomains []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync() //nolint:errcheck

			if err := os.MkdirAll(dataDir, 0700); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}

			cfgMgr, err := config.LoadManager(dataDir)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg := cfgMgr.Get()

			st, err := store.NewSQLiteStore(filepath.Join(dataDir, "omnid.db"))
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close() //nolint:errcheck

			// The server keypair is ephemeral: fresh on every start.
			keypair, err := crypto.GenerateKeypair()
			if err != nil {
				return fmt.Errorf("generate server keypair: %w", err)
			}

			adminAuth, err := admin.Load(dataDir, keypair.PublicKeyHex(), logger)
			if err != nil {
				return fmt.Errorf("load admin identity: %w", err)
			}

			ks, err := keystore.NewManager(st, logger)
			if err != nil {
				return fmt.Errorf("load keystore: %w", err)
			}

			registry, err := federation.NewRegistry(st, logger)
			if err != nil {
				return fmt.Errorf("load server registry: %w", err)
			}

			sessions := session.NewManager()
			srv := server.New(cfgMgr, sessions, keypair, ks, registry, adminAuth, logger)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.Federation.Enabled {
				syncCfg := federation.DefaultSyncConfig()
				syncCfg.Interval = cfg.SyncInterval()
				syncer := federation.NewSyncer(registry, adminAuth.ServerID(), keypair.PublicKeyHex(), syncCfg, logger)
				go syncer.Run(ctx)
			}

			// Periodically sweep expired sessions so idle abandoned ones
			// do not accumulate.
			go func() {
				ticker := time.NewTicker(10 * time.Minute)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if n := sessions.CleanupExpired(); n > 0 {
							logger.Debug("expired sessions removed", zap.Int("count", n))
						}
					}
				}
			}()

			httpSrv := &http.Server{
				Addr:              fmt.Sprintf("%s:%d", cfg.Network.Host, cfg.Network.Port),
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := httpSrv.Shutdown(shutdownCtx); err != nil {
					logger.Warn("shutdown", zap.Error(err))
				}
			}()

			logger.Info("server starting",
				zap.String("server_id", adminAuth.ServerID()),
				zap.String("addr", httpSrv.Addr),
				zap.String("tls", tlsMode),
				zap.String("version", version.Version))

			switch server.TLSMode(tlsMode) {
			case server.TLSModeOff:
				err = httpSrv.ListenAndServe()
			case server.TLSModeSelfSigned:
				httpSrv.TLSConfig, err = server.LoadOrGenerateTLS(dataDir)
				if err != nil {
					return err
				}
				err = httpSrv.ListenAndServeTLS("", "")
			case server.TLSModeACME:
				if len(acmeDomains) == 0 {
					return fmt.Errorf("acme mode requires at least one --acme-domain")
				}
				manager, tlsCfg := server.NewACMEManager(dataDir, acmeDomains...)
				httpSrv.TLSConfig = tlsCfg
				// Port 80 listener for the HTTP-01 challenge.
				go func() {
					if err := http.ListenAndServe(":80", manager.HTTPHandler(nil)); err != nil {
						logger.Warn("acme http listener", zap.Error(err))
					}
				}()
				err = httpSrv.ListenAndServeTLS("", "")
			case server.TLSModeCustom:
				httpSrv.TLSConfig, err = server.LoadCustomTLS(tlsCert, tlsKey)
				if err != nil {
					return err
				}
				err = httpSrv.ListenAndServeTLS("", "")
			default:
				return fmt.Errorf("unknown tls mode %q", tlsMode)
			}
			if err != nil && err != http.ErrServerClosed {
				return err
			}

			logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&tlsMode, "tls", string(server.TLSModeOff), "TLS mode: off, self-signed, acme, custom")
	cmd.Flags().StringVar(&tlsCert, "tls-cert", "", "certificate file for custom TLS mode")
	cmd.Flags().StringVar(&tlsKey, "tls-key", "", "key file for custom TLS mode")
	cmd.Flags().StringSliceVar(&acmeDomains, "acme-domain", nil, "domain for ACME certificates (repeatable)")

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("omnid %s (built %s)\n", version.Version, version.BuildTime)
		},
	}
}

func setupLogger(verbose bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, _ := config.Build()
	return logger
}
