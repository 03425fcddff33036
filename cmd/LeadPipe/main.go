package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/LeadPipe/internal/api"
	"github.com/BTreeMap/LeadPipe/internal/email"
	"github.com/BTreeMap/LeadPipe/internal/genai"
	"github.com/BTreeMap/LeadPipe/internal/rag"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for LeadPipe state data
	DefaultStateDir = "/var/lib/leadpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "leadpipe.db"
	// DefaultVectorDirName is the default directory for the persistent vector store
	DefaultVectorDirName = "vectors"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Build module options
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	ragOpts := buildRAGOptions(flags)
	emailOpts := buildEmailOptions(flags)
	apiOpts := buildAPIOptions(flags)

	// Start the service
	slog.Info("Bootstrapping LeadPipe with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "genai", len(genaiOpts), "rag", len(ragOpts), "email", len(emailOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)
	if err := api.Run(storeOpts, genaiOpts, ragOpts, emailOpts, apiOpts); err != nil {
		slog.Error("LeadPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("LeadPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL    string
	StateDir       string
	OpenAIKey      string
	APIAddr        string
	SMTPHost       string
	SMTPPort       int
	SenderEmail    string
	SenderPassword string
	RecipientEmail string
	KnowledgeBase  string
	VectorDir      string
	VectorCompress bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir       *string
	dbDSN          *string
	openaiKey      *string
	apiAddr        *string
	smtpHost       *string
	smtpPort       *int
	senderEmail    *string
	senderPassword *string
	recipientEmail *string
	knowledgeBase  *string
	vectorDir      *string
	vectorCompress *bool
}

// initializeLogger sets up structured logging
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("LEADPIPE_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		StateDir:       os.Getenv("LEADPIPE_STATE_DIR"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		APIAddr:        os.Getenv("API_ADDR"),
		SMTPHost:       os.Getenv("SMTP_HOST"),
		SMTPPort:       util.ParseIntEnv("SMTP_PORT", email.DefaultSMTPPort),
		SenderEmail:    os.Getenv("SENDER_EMAIL"),
		SenderPassword: os.Getenv("SENDER_PASSWORD"),
		RecipientEmail: os.Getenv("RECIPIENT_EMAIL"),
		KnowledgeBase:  os.Getenv("KNOWLEDGE_BASE_FILE"),
		VectorDir:      os.Getenv("VECTOR_STORE_DIR"),
		VectorCompress: util.ParseBoolEnv("VECTOR_STORE_COMPRESS", false),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No LEADPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("LEADPIPE_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	// The vector store lives under the state directory unless relocated
	if config.VectorDir == "" {
		config.VectorDir = filepath.Join(config.StateDir, DefaultVectorDirName)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"LEADPIPE_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"SMTP_HOST", config.SMTPHost,
		"SMTP_PORT", config.SMTPPort,
		"SENDER_EMAIL_SET", config.SenderEmail != "",
		"RECIPIENT_EMAIL_SET", config.RecipientEmail != "",
		"KNOWLEDGE_BASE_FILE", config.KnowledgeBase,
		"VECTOR_STORE_DIR", config.VectorDir)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:       flag.String("state-dir", config.StateDir, "state directory for LeadPipe data (overrides $LEADPIPE_STATE_DIR)"),
		dbDSN:          flag.String("db-dsn", config.DatabaseURL, "database DSN for the session store (overrides $DATABASE_URL)"),
		openaiKey:      flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:        flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		smtpHost:       flag.String("smtp-host", config.SMTPHost, "SMTP server host for notification email (overrides $SMTP_HOST)"),
		smtpPort:       flag.Int("smtp-port", config.SMTPPort, "SMTP server port (overrides $SMTP_PORT)"),
		senderEmail:    flag.String("sender-email", config.SenderEmail, "sender address for notification email (overrides $SENDER_EMAIL)"),
		senderPassword: flag.String("sender-password", config.SenderPassword, "SMTP password for the sender account (overrides $SENDER_PASSWORD)"),
		recipientEmail: flag.String("recipient-email", config.RecipientEmail, "default recipient for notification email (overrides $RECIPIENT_EMAIL)"),
		knowledgeBase:  flag.String("knowledge-base", config.KnowledgeBase, "path to a knowledge base text file to index on startup (overrides $KNOWLEDGE_BASE_FILE)"),
		vectorDir:      flag.String("vector-dir", config.VectorDir, "directory for the persistent vector store (overrides $VECTOR_STORE_DIR)"),
		vectorCompress: flag.Bool("vector-compress", config.VectorCompress, "compress persisted vector store documents (overrides $VECTOR_STORE_COMPRESS)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"smtpHost", *flags.smtpHost,
		"smtpPort", *flags.smtpPort,
		"senderEmailSet", *flags.senderEmail != "",
		"recipientEmailSet", *flags.recipientEmail != "",
		"knowledgeBase", *flags.knowledgeBase,
		"vectorDir", *flags.vectorDir)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "dsn_updated", true, "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}
	if *flags.vectorDir == config.VectorDir && config.VectorDir == filepath.Join(config.StateDir, DefaultVectorDirName) && *flags.stateDir != config.StateDir {
		*flags.vectorDir = filepath.Join(*flags.stateDir, DefaultVectorDirName)
	}

	return flags
}

// isPostgresDSN reports whether a DSN targets PostgreSQL rather than a SQLite file path.
func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=")
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	// Ensure state directory exists if we're using a file-based DSN
	if !isPostgresDSN(*flags.dbDSN) {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	if *flags.vectorDir != "" {
		if err := os.MkdirAll(*flags.vectorDir, 0755); err != nil {
			slog.Error("Failed to create vector store directory", "error", err, "vector_dir", *flags.vectorDir)
			return err
		}
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if isPostgresDSN(*flags.dbDSN) {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	return genaiOpts
}

// buildRAGOptions constructs retrieval configuration options
func buildRAGOptions(flags Flags) []rag.Option {
	var ragOpts []rag.Option
	if *flags.vectorDir != "" {
		ragOpts = append(ragOpts, rag.WithPath(*flags.vectorDir))
	}
	if *flags.openaiKey != "" {
		ragOpts = append(ragOpts, rag.WithOpenAIKey(*flags.openaiKey))
	}
	if *flags.vectorCompress {
		ragOpts = append(ragOpts, rag.WithCompress(true))
	}
	return ragOpts
}

// buildEmailOptions constructs email notification configuration options
func buildEmailOptions(flags Flags) []email.Option {
	var emailOpts []email.Option
	if *flags.smtpHost != "" {
		emailOpts = append(emailOpts, email.WithSMTPHost(*flags.smtpHost))
	}
	if *flags.smtpPort != 0 {
		emailOpts = append(emailOpts, email.WithSMTPPort(*flags.smtpPort))
	}
	if *flags.senderEmail != "" {
		emailOpts = append(emailOpts, email.WithFrom(*flags.senderEmail))
		emailOpts = append(emailOpts, email.WithCredentials(*flags.senderEmail, *flags.senderPassword))
	}
	if *flags.recipientEmail != "" {
		emailOpts = append(emailOpts, email.WithDefaultRecipient(*flags.recipientEmail))
	}
	return emailOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.knowledgeBase != "" {
		apiOpts = append(apiOpts, api.WithKnowledgeBaseFile(*flags.knowledgeBase))
	}
	return apiOpts
}
