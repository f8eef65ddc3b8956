package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/notesmate/backend/internal/auth"
	"github.com/notesmate/backend/internal/config"
	"github.com/notesmate/backend/internal/database"
	"github.com/notesmate/backend/internal/logging"
	"github.com/notesmate/backend/internal/notes"
	"github.com/notesmate/backend/internal/papers"
	"github.com/notesmate/backend/internal/server"
	"github.com/notesmate/backend/internal/storage"
	"github.com/notesmate/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const fallbackDatabaseDSN = "file::memory:?cache=shared"

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "notesmate-api",
		Short: "NotesMate note-sharing and question-paper marketplace backend",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("environment", defaults.GetString("environment"), "Runtime environment (development, production)")
	cmd.PersistentFlags().String("google-client-id", defaults.GetString("google.client_id"), "Google OAuth client ID")
	cmd.PersistentFlags().String("google-jwks-url", defaults.GetString("google.jwks_url"), "Google JWKS URL")
	cmd.PersistentFlags().String("admin-email", defaults.GetString("admin.email"), "Allow-listed administrator email")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Admin session token TTL in minutes")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "environment", "environment")
	bindFlag(cmd, "google.client_id", "google-client-id")
	bindFlag(cmd, "google.jwks_url", "google-jwks-url")
	bindFlag(cmd, "admin.email", "admin-email")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.Production())
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		if appConfig.Production() {
			logger.Error("database open failed", zap.Error(err))
			return err
		}
		// Outside production the server stays up on an ephemeral store so
		// the rest of the stack can be exercised.
		logger.Warn("database open failed, falling back to in-memory store",
			zap.String("path", appConfig.DatabasePath),
			zap.Error(err))
		db, err = database.OpenSQLite(fallbackDatabaseDSN, logger)
		if err != nil {
			return err
		}
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	googleVerifier, err := auth.NewGoogleVerifier(auth.GoogleVerifierConfig{
		Audience: appConfig.GoogleClientID,
		JWKSURL:  appConfig.GoogleJWKSURL,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	tokenIssuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "notesmate-auth",
		Audience:      "notesmate-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	var objectStore *storage.Cloudinary
	if appConfig.CloudinaryCloudName != "" {
		objectStore, err = storage.NewCloudinary(storage.CloudinaryConfig{
			CloudName:    appConfig.CloudinaryCloudName,
			APIKey:       appConfig.CloudinaryAPIKey,
			APISecret:    appConfig.CloudinaryAPISecret,
			UploadFolder: appConfig.CloudinaryUploadFolder,
			Logger:       logger,
		})
		if err != nil {
			return err
		}
	} else {
		logger.Warn("cloudinary credentials not set, uploads disabled")
	}

	idProvider := users.NewUUIDProvider()

	usersService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		AdminEmail: appConfig.AdminEmail,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	var noteStore notes.ObjectStore
	if objectStore != nil {
		noteStore = objectStore
	}
	notesService, err := notes.NewService(notes.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Store:      noteStore,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	papersService, err := papers.NewService(papers.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	var uploader server.ObjectUploader
	if objectStore != nil {
		uploader = objectStore
	}
	handler, err := server.NewHTTPHandler(server.Dependencies{
		Verifier:          googleVerifier,
		Tokens:            tokenIssuer,
		Users:             usersService,
		Notes:             notesService,
		Papers:            papersService,
		Uploader:          uploader,
		AdminEmail:        appConfig.AdminEmail,
		AdminPasswordHash: appConfig.AdminPasswordHash,
		AllowedOrigins:    appConfig.AllowedOrigins,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("environment", appConfig.Environment))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
