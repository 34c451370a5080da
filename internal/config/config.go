package config

import (
	"time"

	"github.com/spf13/viper"
)

type (
	Config struct {
		HTTP
		Global
		Database
		Borrow
		Account
		Tasks
		LoanExpiry
	}

	HTTP struct {
		Port int32
		Host string
	}

	Global struct {
		ShutdownTimeoutInSeconds int
	}

	Database struct {
		Path     string
		BooksDir string // Directory for downloaded book files
	}

	// Borrow controls the borrow engine: which formats and DRM schemes the
	// client claims to support, plus run-level knobs.
	Borrow struct {
		TemporaryDir   string
		SubtaskTimeout time.Duration

		SupportsEPUB       bool
		SupportsPDF        bool
		SupportsAudioBooks bool
		SupportsAdobeACS   bool
		SupportsLCP        bool
		SupportsBoundless  bool
	}

	// Account seeds the single local profile and account the engine runs
	// under. Credentials are optional; open-access catalogs need none.
	Account struct {
		ProfileID    string
		AccountID    string
		ProviderName string
		Username     string
		Password     string
	}

	Tasks struct {
		Enabled           bool
		Workers           int
		MaxRetries        int
		RetryDelay        time.Duration
		TaskTimeout       time.Duration
		ReleaseAfter      time.Duration
		CleanupInterval   time.Duration
		RetentionDuration time.Duration
	}

	LoanExpiry struct {
		Enabled  bool
		Schedule string // Cron format: "*/15 * * * *" = every 15 minutes
	}
)

func NewConfig() *Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("port", 8190)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("shutdown_timeout_in_seconds", 2)
	v.SetDefault("database_path", DefaultDatabasePath)
	v.SetDefault("books_dir", DefaultBooksDir)

	// Borrow engine defaults
	v.SetDefault("borrow_temporary_dir", "./tmp")
	v.SetDefault("borrow_subtask_timeout", "5m")
	v.SetDefault("borrow_supports_epub", true)
	v.SetDefault("borrow_supports_pdf", true)
	v.SetDefault("borrow_supports_audiobooks", true)
	v.SetDefault("borrow_supports_adobe_acs", false)
	v.SetDefault("borrow_supports_lcp", false)
	v.SetDefault("borrow_supports_boundless", false)

	// Account defaults
	v.SetDefault("profile_id", "default")
	v.SetDefault("account_id", "default")
	v.SetDefault("account_provider_name", "library")
	v.SetDefault("account_username", "")
	v.SetDefault("account_password", "")

	// Task queue defaults
	v.SetDefault("tasks_enabled", true)
	v.SetDefault("task_workers", 2)
	v.SetDefault("task_max_retries", 1)
	v.SetDefault("task_retry_delay", "1m")
	v.SetDefault("task_timeout", "10m")
	v.SetDefault("task_release_after", "15m")
	v.SetDefault("task_cleanup_interval", "1h")
	v.SetDefault("task_retention_duration", "24h")

	// Loan expiry defaults
	v.SetDefault("loan_expiry_enabled", true)
	v.SetDefault("loan_expiry_schedule", "*/15 * * * *")

	return &Config{
		HTTP: HTTP{
			Port: v.GetInt32("PORT"),
			Host: v.GetString("HOST"),
		},
		Global: Global{
			ShutdownTimeoutInSeconds: v.GetInt("SHUTDOWN_TIMEOUT_IN_SECONDS"),
		},
		Database: Database{
			Path:     v.GetString("DATABASE_PATH"),
			BooksDir: v.GetString("BOOKS_DIR"),
		},
		Borrow: Borrow{
			TemporaryDir:       v.GetString("BORROW_TEMPORARY_DIR"),
			SubtaskTimeout:     v.GetDuration("BORROW_SUBTASK_TIMEOUT"),
			SupportsEPUB:       v.GetBool("BORROW_SUPPORTS_EPUB"),
			SupportsPDF:        v.GetBool("BORROW_SUPPORTS_PDF"),
			SupportsAudioBooks: v.GetBool("BORROW_SUPPORTS_AUDIOBOOKS"),
			SupportsAdobeACS:   v.GetBool("BORROW_SUPPORTS_ADOBE_ACS"),
			SupportsLCP:        v.GetBool("BORROW_SUPPORTS_LCP"),
			SupportsBoundless:  v.GetBool("BORROW_SUPPORTS_BOUNDLESS"),
		},
		Account: Account{
			ProfileID:    v.GetString("PROFILE_ID"),
			AccountID:    v.GetString("ACCOUNT_ID"),
			ProviderName: v.GetString("ACCOUNT_PROVIDER_NAME"),
			Username:     v.GetString("ACCOUNT_USERNAME"),
			Password:     v.GetString("ACCOUNT_PASSWORD"),
		},
		Tasks: Tasks{
			Enabled:           v.GetBool("TASKS_ENABLED"),
			Workers:           v.GetInt("TASK_WORKERS"),
			MaxRetries:        v.GetInt("TASK_MAX_RETRIES"),
			RetryDelay:        v.GetDuration("TASK_RETRY_DELAY"),
			TaskTimeout:       v.GetDuration("TASK_TIMEOUT"),
			ReleaseAfter:      v.GetDuration("TASK_RELEASE_AFTER"),
			CleanupInterval:   v.GetDuration("TASK_CLEANUP_INTERVAL"),
			RetentionDuration: v.GetDuration("TASK_RETENTION_DURATION"),
		},
		LoanExpiry: LoanExpiry{
			Enabled:  v.GetBool("LOAN_EXPIRY_ENABLED"),
			Schedule: v.GetString("LOAN_EXPIRY_SCHEDULE"),
		},
	}
}
