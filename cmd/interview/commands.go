package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/narrativa/dna-interview/internal/archive"
	"github.com/narrativa/dna-interview/internal/config"
	"github.com/narrativa/dna-interview/internal/identity"
	"github.com/narrativa/dna-interview/internal/questions"
	"github.com/narrativa/dna-interview/internal/server"
	"github.com/narrativa/dna-interview/internal/session"
	"github.com/narrativa/dna-interview/internal/storage"
	"github.com/narrativa/dna-interview/internal/submission"
	"github.com/narrativa/dna-interview/internal/transcribe"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ctx)
		},
	}
}

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			store, err := storage.Open(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer func() { _ = store.Close() }()

			slog.Info("schema up to date", "dialect", store.Dialect())
			return nil
		},
	}
}

func newQuestionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "questions",
		Short: "Print the interview questions",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, q := range questions.All() {
				if _, err := fmt.Fprintf(out, "%d. %s\n", q.Index, q.Text); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func runServe(parent context.Context, cc *commandContext) error {
	cfg, err := cc.ensureConfig()
	if err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("failed to close storage", "error", closeErr)
		}
	}()

	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("database connected", "dialect", store.Dialect())

	hub := server.NewHub()
	sessions := session.NewService(store, hub)

	var transcriber submission.Transcriber
	if client := buildTranscriber(cfg); client != nil {
		transcriber = client
	}
	var arc submission.Archive
	if drive := buildArchive(ctx, cfg); drive != nil {
		arc = drive
	}

	pipeline := submission.New(sessions, transcriber, arc, store, hub, submission.Config{
		Language:          cfg.Transcription.Language,
		TranscribeTimeout: cfg.TranscriptionTimeout(),
		ArchiveTimeout:    cfg.ArchiveTimeout(),
	})

	verifier := identity.NewVerifier(cfg.SessionSecret, cfg.Auth.CookieName, cfg.Auth.Issuer)
	handler := server.Handler(sessions, pipeline, hub, verifier, server.Options{
		AllowedOrigins: cfg.AllowedOrigins,
	})

	return server.Serve(ctx, cfg.ListenAddr, handler)
}

// buildTranscriber returns nil when the provider cannot be constructed so
// that submissions answer service unavailable instead of failing startup.
func buildTranscriber(cfg config.Config) transcribe.Client {
	var opts []transcribe.Option
	if cfg.Transcription.BaseURL != "" {
		opts = append(opts, transcribe.WithBaseURL(cfg.Transcription.BaseURL))
	}

	client, err := transcribe.NewClient(cfg.Transcription.Provider, cfg.TranscriptionAPIKey(), cfg.Transcription.Model, opts...)
	if err != nil {
		slog.Warn("transcription disabled", "provider", cfg.Transcription.Provider, "error", err)
		return nil
	}
	slog.Info("transcription enabled", "provider", cfg.Transcription.Provider, "model", cfg.Transcription.Model)
	return client
}

func buildArchive(ctx context.Context, cfg config.Config) *archive.Drive {
	drive, err := archive.NewDrive(ctx, archive.Options{
		ParentFolderID:  cfg.Archive.ParentFolderID,
		CredentialsFile: cfg.Archive.GoogleCredentialsFile,
		ClientID:        cfg.Archive.GoogleClientID,
		ClientSecret:    cfg.GoogleClientSecret,
		RefreshToken:    cfg.DriveRefreshToken,
	})
	if err != nil {
		slog.Warn("drive archive disabled", "error", err)
		return nil
	}
	slog.Info("drive archive enabled", "refresh_token_auth", cfg.DriveUsesRefreshToken())
	return drive
}
