// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tejzpr/munin-mcp/internal/auth"
	"github.com/tejzpr/munin-mcp/internal/config"
	"github.com/tejzpr/munin-mcp/internal/crypto"
	"github.com/tejzpr/munin-mcp/internal/database"
	"github.com/tejzpr/munin-mcp/internal/privacy"
	"github.com/tejzpr/munin-mcp/internal/server"
	"github.com/tejzpr/munin-mcp/internal/store"
	"github.com/tejzpr/munin-mcp/pkg/scheduler"
)

func main() {
	// CRITICAL: MCP servers must ONLY output JSON-RPC to stdout.
	// All logging goes to stderr.
	log.SetOutput(os.Stderr)

	var (
		httpMode          = flag.Bool("http", false, "Run as HTTP server instead of stdio MCP server")
		withAccessingUser = flag.Bool("with-accessinguser", false, "Resolve the local identity from ACCESSING_USER instead of the OS user")
		configPath        = flag.String("config", "", "Path to config file (default: ~/.munin/config.json)")
		port              = flag.Int("port", 0, "HTTP server port (overrides config)")
		dbType            = flag.String("db-type", "", "Database type: sqlite or postgres (overrides config)")
		dbPath            = flag.String("db-path", "", "SQLite database path (overrides config)")
		dbDSN             = flag.String("db-dsn", "", "PostgreSQL DSN (overrides config)")
		enableEmbeddings  = flag.Bool("enable-embeddings", false, "Enable the embedding provider (overrides config)")
		embeddingURL      = flag.String("embedding-url", "", "Embedding provider base URL (overrides config)")
		embeddingModel    = flag.String("embedding-model", "", "Embedding model name (overrides config)")
		embeddingKeyEnv   = flag.String("embedding-key-env", "", "Env var holding the embedding API key (overrides config)")
	)
	flag.Parse()

	cfg := loadConfig(*configPath)
	applyEnvOverrides(cfg)
	applyCLIOverrides(cfg, *port, *dbType, *dbPath, *dbDSN)
	if *enableEmbeddings {
		cfg.Embeddings.Enabled = true
	}
	if *embeddingURL != "" {
		cfg.Embeddings.BaseURL = *embeddingURL
	}
	if *embeddingModel != "" {
		cfg.Embeddings.Model = *embeddingModel
	}
	if *embeddingKeyEnv != "" {
		cfg.Embeddings.APIKeyEnv = *embeddingKeyEnv
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.Connect(&database.Config{
		Type:        cfg.Database.Type,
		SQLitePath:  cfg.Database.SQLitePath,
		PostgresDSN: cfg.Database.PostgresDSN,
		// GORM chatter on stdout would corrupt the JSON-RPC stream.
		LogLevel: gormlogger.Silent,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db)

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	if err := database.CreateIndexes(db); err != nil {
		log.Fatalf("Failed to create indexes: %v", err)
	}

	cipher := buildCipher(cfg, logger)

	mcpServer, err := server.NewMCPServer(cfg, db, cipher, logger)
	if err != nil {
		log.Fatalf("Failed to create MCP server: %v", err)
	}

	if *httpMode {
		runHTTPMode(cfg, mcpServer, logger)
		return
	}
	runStdioMode(cfg, mcpServer, *withAccessingUser)
}

// loadConfig reads the config file, falling back to built-in defaults
// when none exists. A missing config file is normal for first runs.
func loadConfig(path string) *config.Config {
	if path != "" {
		cfg, err := config.LoadFromPath(path)
		if err != nil {
			log.Fatalf("Failed to load config from %s: %v", path, err)
		}
		return cfg
	}
	cfg, err := config.Load()
	if err != nil {
		log.Printf("No config file found, using defaults: %v", err)
		return config.DefaultConfig()
	}
	return cfg
}

func applyEnvOverrides(cfg *config.Config) {
	if v := getEnv("MUNIN_DB_TYPE"); v != "" {
		cfg.Database.Type = v
	}
	if v := getEnv("MUNIN_DB_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := getEnv("MUNIN_DB_DSN"); v != "" {
		cfg.Database.PostgresDSN = v
	}
	if v := getEnv("MUNIN_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := getEnv("MUNIN_AUTH_TYPE"); v != "" {
		cfg.Auth.Type = v
	}
	if v := getEnv("MUNIN_ARCHIVE_DIR"); v != "" {
		cfg.Export.ArchiveDir = v
	}
}

func applyCLIOverrides(cfg *config.Config, port int, dbType, dbPath, dbDSN string) {
	if port != 0 {
		cfg.Server.Port = port
	}
	if dbType != "" {
		cfg.Database.Type = dbType
	}
	if dbPath != "" {
		cfg.Database.SQLitePath = dbPath
	}
	if dbDSN != "" {
		cfg.Database.PostgresDSN = dbDSN
	}
}

// buildCipher derives the per-subject content cipher from the KDF salt
// named in the config. Without a salt, content is stored in plaintext;
// that is acceptable for local single-user databases but the server
// warns loudly.
func buildCipher(cfg *config.Config, logger *zap.Logger) store.Cipher {
	saltEnv := cfg.Security.KDFSaltEnv
	if saltEnv == "" {
		saltEnv = "MUNIN_KDF_SALT"
	}
	salt := os.Getenv(saltEnv)
	if salt == "" {
		logger.Warn("Content encryption disabled: KDF salt env var not set",
			zap.String("env", saltEnv))
		return nil
	}

	params := crypto.DefaultKDFParams()
	if cfg.Security.KDFCostN > 0 {
		params.N = cfg.Security.KDFCostN
	}
	if cfg.Security.KDFCostR > 0 {
		params.R = cfg.Security.KDFCostR
	}
	if cfg.Security.KDFCostP > 0 {
		params.P = cfg.Security.KDFCostP
	}

	cipher, err := privacy.NewSubjectCipher([]byte(salt), params)
	if err != nil {
		log.Fatalf("Failed to initialize subject cipher: %v", err)
	}
	return cipher
}

// runStdioMode serves MCP over stdin/stdout for a single local user.
func runStdioMode(cfg *config.Config, mcpServer *server.MCPServer, withAccessingUser bool) {
	var localAuth *auth.LocalAuthenticator
	if withAccessingUser {
		localAuth = auth.NewLocalAuthenticatorWithAccessingUser(mcpServer.GetTokenManager())
	} else {
		localAuth = auth.NewLocalAuthenticator(mcpServer.GetTokenManager())
	}

	user, _, err := localAuth.Authenticate(mcpServer.Store().DB())
	if err != nil {
		log.Fatalf("Local authentication failed: %v", err)
	}
	log.Printf("Authenticated as %s (role: %s)", user.Username, user.Role)

	if err := mcpServer.RegisterToolsForUser(user); err != nil {
		log.Fatalf("Failed to register tools: %v", err)
	}

	if cfg.Embeddings.Enabled && !mcpServer.HasEmbeddings() {
		log.Printf("Embeddings enabled in config but provider unavailable; retrieval degrades to gravity-only")
	}

	log.Printf("Starting stdio MCP server")
	if err := mcpserver.ServeStdio(mcpServer.GetMCPServer()); err != nil {
		log.Fatalf("Stdio server error: %v", err)
	}
}

// runHTTPMode serves HTTP with token auth, optional SAML SSO for staff,
// and the background compression scheduler.
func runHTTPMode(cfg *config.Config, mcpServer *server.MCPServer, logger *zap.Logger) {
	var samlAuth *auth.SAMLAuthenticator
	if cfg.Auth.Type == "saml" {
		var err error
		samlAuth, err = auth.NewSAMLAuthenticator(&auth.SAMLConfig{
			EntityID:    cfg.SAML.EntityID,
			ACSURL:      cfg.SAML.ACSURL,
			MetadataURL: cfg.SAML.MetadataURL,
			IDPMetadata: cfg.SAML.IDPMetadata,
			Certificate: cfg.SAML.Certificate,
			PrivateKey:  cfg.SAML.PrivateKey,
		})
		if err != nil {
			log.Fatalf("Failed to initialize SAML: %v", err)
		}
		log.Printf("SAML SSO enabled (entity: %s)", cfg.SAML.EntityID)
	}

	localAuth := auth.NewLocalAuthenticator(mcpServer.GetTokenManager())
	httpServer := server.NewHTTPServer(mcpServer, samlAuth, localAuth)

	mux := http.NewServeMux()
	httpServer.RegisterRoutes(mux)

	sched := scheduler.NewScheduler(mcpServer.Store(), mcpServer.Engine(),
		cfg.Compression.IntervalMinutes, logger)
	sched.Start()
	defer sched.Stop()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Starting HTTP server on %s", addr)

	var err error
	if cfg.Server.TLS.Enabled {
		err = http.ListenAndServeTLS(addr, cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile, mux)
	} else {
		err = http.ListenAndServe(addr, mux)
	}
	if err != nil {
		log.Fatalf("HTTP server error: %v", err)
	}
}

func getEnv(key string) string {
	return os.Getenv(key)
}
