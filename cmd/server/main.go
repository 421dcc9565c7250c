package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"saas_template/internal/config"
	"saas_template/internal/httpapi"
	"saas_template/internal/jobs"
	"saas_template/internal/storage"
	"saas_template/internal/utils"
)

const shutdownTimeout = 30 * time.Second

func main() {
	root := &cobra.Command{
		Use:           "server",
		Short:         "SaaS starter API server and background workers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newWorkerCmd(), newEnqueueTestCmd(), newSendWelcomeEmailCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (and workers when WORKERS_INLINE is set)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logCloser := setupLogging(cfg)
			defer logCloser.Close()

			ctx, stop := signalContext()
			defer stop()

			svc, err := newServices(ctx, cfg)
			if err != nil {
				return err
			}
			logger := svc.logger

			if cfg.Queue.Inline {
				jobs.StartWorkers(context.Background(), svc.registry)
			}

			server := &http.Server{
				Addr:        ":" + cfg.HTTPPort,
				Handler:     httpapi.NewRouter(svc.dependencies()),
				ReadTimeout: 30 * time.Second,
				IdleTimeout: 120 * time.Second,
			}

			serveErr := make(chan error, 1)
			go func() {
				logger.Info("Starting API server", "port", cfg.HTTPPort)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case <-ctx.Done():
			case err := <-serveErr:
				if err != nil {
					logger.Error("Server failed", "error", err)
				}
			}

			logger.Info("Shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			var errs []error
			if err := server.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("server shutdown: %w", err))
			}
			if cfg.Queue.Inline {
				if err := jobs.StopWorkers(shutdownCtx, svc.registry); err != nil {
					errs = append(errs, fmt.Errorf("stop workers: %w", err))
				}
			}
			if err := svc.close(shutdownCtx); err != nil {
				errs = append(errs, err)
			}

			logger.Info("Server stopped")
			return errors.Join(errs...)
		},
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the background job workers without the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logCloser := setupLogging(cfg)
			defer logCloser.Close()
			logger := utils.NewLogger("worker")

			ctx, stop := signalContext()
			defer stop()

			redisClient, err := openRedisIfNeeded(cfg)
			if err != nil {
				return err
			}
			registry, err := openRegistry(cfg, redisClient)
			if err != nil {
				return err
			}

			jobs.StartWorkers(context.Background(), registry)

			<-ctx.Done()
			logger.Info("Shutting down workers...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			errs := []error{jobs.StopWorkers(shutdownCtx, registry), registry.Close()}
			if redisClient != nil {
				errs = append(errs, redisClient.Close())
			}
			return errors.Join(errs...)
		},
	}
}

func newEnqueueTestCmd() *cobra.Command {
	var data jobs.TestJobData
	var firstName, lastName string

	cmd := &cobra.Command{
		Use:   "enqueue-test",
		Short: "Add one job to the test queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if firstName != "" {
				data.FirstName = &firstName
			}
			if lastName != "" {
				data.LastName = &lastName
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.Queue.Backend != "redis" {
				return fmt.Errorf("enqueue-test needs QUEUE_BACKEND=redis so a worker process can see the job")
			}

			redisClient, err := openRedis(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize Redis: %w", err)
			}
			defer redisClient.Close()

			registry, err := openRegistry(cfg, redisClient)
			if err != nil {
				return err
			}
			defer registry.Close()

			job, err := jobs.EnqueueTestJob(cmd.Context(), registry, data)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(job)
		},
	}

	cmd.Flags().StringVar(&data.UserID, "user-id", "", "user id (required)")
	cmd.Flags().StringVar(&data.Email, "email", "", "email address (required)")
	cmd.Flags().StringVar(&firstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&lastName, "last-name", "", "last name")
	return cmd
}

func newSendWelcomeEmailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send-welcome-email <email> [firstName]",
		Short: "Send the welcome email directly, bypassing the queue",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			closer := setupLogging(cfg)
			defer closer.Close()

			var firstName *string
			if len(args) == 2 {
				firstName = &args[1]
			}
			mailer := newMailer(cfg)
			id, err := mailer.SendWelcome(cmd.Context(), args[0], firstName)
			if err != nil {
				return err
			}
			if mailer.Enabled() {
				fmt.Fprintf(cmd.OutOrStdout(), "sent welcome email to %s (id %s)\n", args[0], id)
			}
			return nil
		},
	}
}

// openRedisIfNeeded connects to Redis only for the redis queue backend
func openRedisIfNeeded(cfg *config.Config) (*storage.RedisClient, error) {
	if cfg.Queue.Backend != "redis" {
		return nil, nil
	}
	client, err := openRedis(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}
	return client, nil
}
