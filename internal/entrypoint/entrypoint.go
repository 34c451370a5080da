// Package entrypoint wires the lending engine together and runs the HTTP
// server.
package entrypoint

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openshelf/lending/internal/borrow"
	"github.com/openshelf/lending/internal/borrow/subtasks"
	"github.com/openshelf/lending/internal/config"
	"github.com/openshelf/lending/internal/database"
	"github.com/openshelf/lending/internal/database/books"
	"github.com/openshelf/lending/internal/formats"
	http_controllers "github.com/openshelf/lending/internal/http"
	"github.com/openshelf/lending/internal/profiles"
	"github.com/openshelf/lending/internal/registry"
	"github.com/openshelf/lending/internal/scheduler"
	"github.com/openshelf/lending/internal/tasks"
)

// ShutdownFunc is called during graceful shutdown to clean up resources.
type ShutdownFunc func(ctx context.Context)

func Serve(router *gin.Engine, cfg *config.Config, onShutdown ShutdownFunc) {
	timeout := time.Duration(cfg.Global.ShutdownTimeoutInSeconds) * time.Second

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler: router,
	}

	go func() {
		fmt.Printf("Starting server at %s:%d\n", cfg.HTTP.Host, cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("Shutdown Server, waiting %v before killing\n", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Call shutdown callback first (e.g., to stop task queue)
	if onShutdown != nil {
		onShutdown(ctx)
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}

	log.Println("Server exiting")
}

func Run(cfg *config.Config, version string) {
	log.Printf("Starting lending engine v%s", version)

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	// Seed the local profile and account. Every borrow runs under this
	// identity; the account owns the book database.
	bookDatabase := books.NewDatabase(db.DB, cfg.Database.BooksDir, cfg.Account.AccountID)

	account := &profiles.Account{
		ID:           cfg.Account.AccountID,
		ProviderName: cfg.Account.ProviderName,
		BookDatabase: bookDatabase,
	}
	if cfg.Account.Username != "" {
		account.Credentials = &profiles.Credentials{
			Kind:     profiles.CredentialsBasic,
			Username: cfg.Account.Username,
			Password: cfg.Account.Password,
		}
	}

	profile := profiles.NewProfile(cfg.Account.ProfileID, cfg.Account.ProfileID)
	profile.AddAccount(account)

	profileDatabase := profiles.NewDatabase()
	profileDatabase.Add(profile)

	// Book registry, pre-warmed from the on-disk records so that settled
	// statuses survive restarts.
	bookRegistry := registry.NewBookRegistry()
	existing, err := bookDatabase.Books()
	if err != nil {
		log.Fatalf("Failed to load book records: %v", err)
	}
	for _, book := range existing {
		bookRegistry.Update(registry.BookWithStatus{
			Book:   book,
			Status: registry.StatusFromBook(book),
		})
	}
	if len(existing) > 0 {
		log.Printf("Restored %d book record(s) into the registry", len(existing))
	}

	// Borrow engine
	coordinator := borrow.NewCoordinator(borrow.Requirements{
		Profiles: profileDatabase,
		Registry: bookRegistry,
		FormatSupport: formats.Support{
			SupportsEPUB:       cfg.Borrow.SupportsEPUB,
			SupportsPDF:        cfg.Borrow.SupportsPDF,
			SupportsAudioBooks: cfg.Borrow.SupportsAudioBooks,
			SupportsAdobeACS:   cfg.Borrow.SupportsAdobeACS,
			SupportsLCP:        cfg.Borrow.SupportsLCP,
			SupportsBoundless:  cfg.Borrow.SupportsBoundless,
		},
		Subtasks:           subtasks.DefaultDirectory(),
		TemporaryDirectory: cfg.Borrow.TemporaryDir,
		SubtaskTimeout:     cfg.Borrow.SubtaskTimeout,
	})

	// Initialize task queue if enabled
	var taskClient *tasks.Client
	var taskCtxCancel context.CancelFunc
	if cfg.Tasks.Enabled {
		taskCfg := tasks.Config{
			Workers:           cfg.Tasks.Workers,
			MaxRetries:        cfg.Tasks.MaxRetries,
			RetryDelay:        cfg.Tasks.RetryDelay,
			TaskTimeout:       cfg.Tasks.TaskTimeout,
			ReleaseAfter:      cfg.Tasks.ReleaseAfter,
			CleanupInterval:   cfg.Tasks.CleanupInterval,
			RetentionDuration: cfg.Tasks.RetentionDuration,
		}

		taskClient, err = tasks.NewClient(cfg.Database.Path, taskCfg)
		if err != nil {
			log.Fatalf("Failed to initialize task queue: %v", err)
		}
		defer func() {
			if err := taskClient.Close(); err != nil {
				log.Printf("Error closing task client: %v", err)
			}
		}()

		taskClient.Register(
			tasks.NewBorrowBookQueue(coordinator),
		)

		var taskCtx context.Context
		taskCtx, taskCtxCancel = context.WithCancel(context.Background())
		go taskClient.Start(taskCtx)
	}

	// Loan expiry sweeper
	var expiryScheduler *scheduler.LoanExpiryScheduler
	if cfg.LoanExpiry.Enabled {
		expiryScheduler = scheduler.NewLoanExpiryScheduler(db, bookRegistry, cfg.LoanExpiry.Schedule)
		if err := expiryScheduler.Start(context.Background()); err != nil {
			log.Fatalf("Failed to start loan expiry scheduler: %v", err)
		}
	}

	// Build router configuration with all dependencies
	routerCfg := http_controllers.RouterConfig{
		Database:     db,
		BookRegistry: bookRegistry,
		Coordinator:  coordinator,
		TaskClient:   taskClient,
		ProfileID:    cfg.Account.ProfileID,
		AccountID:    cfg.Account.AccountID,
		Version:      version,
	}

	router := http_controllers.NewRouter(routerCfg)

	// Shutdown callback for graceful cleanup
	onShutdown := func(ctx context.Context) {
		if expiryScheduler != nil {
			expiryScheduler.Stop()
		}
		if taskClient != nil && taskCtxCancel != nil {
			taskClient.Stop(ctx)
			taskCtxCancel()
		}
	}

	Serve(router, cfg, onShutdown)
}
