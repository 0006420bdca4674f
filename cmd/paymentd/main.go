package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"payment-server/internal/config"
	"payment-server/internal/domain"
	"payment-server/internal/jobs"
	"payment-server/internal/logger"
	"payment-server/internal/processor"
	"payment-server/internal/repository/postgres"
	"payment-server/internal/scheduler"
	"payment-server/internal/security"
	"payment-server/internal/service"
	"payment-server/internal/storage"
	"payment-server/internal/vault"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	runOnce := flag.String("run-once", "", "Run a specific job once and exit (e.g., 'create-batch', 'process-jobs', 'route-accounts', 'all')")
	encryptAccount := flag.String("encrypt-account", "", "Encrypt a bank account JSON read from stdin with the given public key and exit")
	flag.Parse()

	if *encryptAccount != "" {
		if err := sealFromStdin(*encryptAccount, os.Stdin, os.Stdout); err != nil {
			log.Fatalf("Failed to encrypt account: %v", err)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting payment server...", "log_level", cfg.Log.Level)

	// The private key is loaded once and held for the process lifetime
	privateKey, err := security.LoadPrivateKey(cfg.Keys.PrivateKey, cfg.Keys.PrivateKeyPassphrase)
	if err != nil {
		log.Fatalf("Failed to load private key: %v", err)
	}
	logger.Info("Private key loaded", "path", cfg.Keys.PrivateKey)

	// Initialize Database
	logger.Info("Connecting to database...", "host", cfg.Database.Host, "port", cfg.Database.Port)
	db, err := sql.Open("postgres", cfg.GetDatabaseConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// A failed ping is not fatal; each tick retries against the ledger
	if err := db.Ping(); err != nil {
		logger.Error("Failed to ping database", "error", err)
	} else {
		logger.Info("Database connection established")
	}

	store := postgres.NewStore(db, cfg.Ledger.AdvisoryLockKey)

	jobStore, err := storage.NewFileJobStore(storage.Config{
		JobDir:        cfg.Paths.Jobs,
		ProcessingDir: cfg.Paths.Processing,
		ProcessedDir:  cfg.Paths.Processed,
		ErrorDir:      cfg.Paths.Errors,
	})
	if err != nil {
		log.Fatalf("Failed to initialize job store: %v", err)
	}
	controlStore, err := storage.NewFileControlStore(cfg.Paths.BatchControlFile)
	if err != nil {
		log.Fatalf("Failed to initialize batch control: %v", err)
	}

	var router jobs.AccountRouter
	if cfg.Paths.IncomingAccounts != "" {
		r, err := vault.NewRouter(cfg.Paths.IncomingAccounts, cfg.Paths.Accounts, cfg.Paths.Errors)
		if err != nil {
			log.Fatalf("Failed to initialize account router: %v", err)
		}
		router = r
	}

	// Initialize Services
	batchService := service.NewBatchService(store.TransactionRepository, controlStore, jobStore)
	submitter := service.NewSubmitter(
		store.TransactionRepository,
		vault.New(cfg.Paths.Accounts),
		processor.NewHTTPClient(cfg.Processor.URL, cfg.Processor.ClientID, cfg.Processor.ClientSecret, cfg.ProcessorTimeout()),
		service.SubmitterConfig{
			PrivateKey:  privateKey,
			CallTimeout: cfg.ProcessorTimeout(),
		},
	)

	jobRunner := jobs.NewJobRunner(batchService, jobs.NewJobQueue(jobStore, submitter), router, cfg)
	jobRunner.RecoverInFlight()

	// Check if running a single job
	if *runOnce != "" {
		logger.Info("Running job once", "job", *runOnce)
		runJobOnce(jobRunner, *runOnce)
		logger.Info("Job execution completed", "job", *runOnce)
		return
	}

	cronScheduler, err := scheduler.NewScheduler(jobRunner)
	if err != nil {
		log.Fatalf("Failed to initialize scheduler: %v", err)
	}

	cronScheduler.Start()
	logger.Info("Payment scheduler is running. Press Ctrl+C to stop.", "jobs", cronScheduler.Entries())

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown; a batch in flight is allowed to finish
	logger.Info("Shutting down payment scheduler...")
	cronScheduler.Stop()
	logger.Info("Payment scheduler stopped. Goodbye!")
}

// runJobOnce runs a specific job once and exits
func runJobOnce(jobRunner *jobs.JobRunner, jobName string) {
	switch jobName {
	case "create-batch":
		jobRunner.CreateBatch()
	case "process-jobs":
		jobRunner.ProcessPaymentJobs()
	case "route-accounts":
		jobRunner.RouteIncomingAccounts()
	case "all":
		jobRunner.RunAll()
	default:
		logger.Error("Unknown job name", "job", jobName)
		fmt.Printf("Available jobs:\n")
		fmt.Printf("  - create-batch\n")
		fmt.Printf("  - process-jobs\n")
		fmt.Printf("  - route-accounts\n")
		fmt.Printf("  - all\n")
		os.Exit(1)
	}
}

// sealFromStdin prints the encrypted account blob for an account intake file
func sealFromStdin(publicKeyPath string, in io.Reader, out io.Writer) error {
	pub, err := security.LoadPublicKey(publicKeyPath)
	if err != nil {
		return err
	}
	var acct domain.BankAccount
	if err := json.NewDecoder(in).Decode(&acct); err != nil {
		return fmt.Errorf("failed to parse account: %w", err)
	}
	blob, err := vault.SealAccount(pub, &acct)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, blob)
	return err
}
