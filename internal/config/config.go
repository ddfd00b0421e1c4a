package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port      string // Panel HTTP port
	JWTSecret string // JWT signing secret
	AdminUser string // Operator account name
	AdminPass string // Operator password (bcrypt-hashed at startup)

	DataDir   string // Data directory root
	SitesDir  string // Site source trees (local server)
	ProxyDir  string // Generated nginx vhost configs, one subdir per server
	CertDir   string // Certificate artifacts (privkey/fullchain per domain)
	BackupDir string // Backup archives
	StateFile string // Persisted site/server/certificate model
	DBPath    string // SQLite database for backup catalog and audit log

	DockerSocket  string        // Docker daemon socket on the local server
	RenewalWindow time.Duration // Renew certificates this long before expiry
}

// Load reads configuration from environment variables with sensible defaults
func Load() *Config {
	dataDir := envOrDefault("GLACIER_DATA_DIR", "./data")

	cfg := &Config{
		Port:          envOrDefault("GLACIER_PORT", "8080"),
		JWTSecret:     envOrDefault("GLACIER_JWT_SECRET", "glacier-change-me-in-production"),
		AdminUser:     envOrDefault("GLACIER_ADMIN_USER", "admin"),
		AdminPass:     envOrDefault("GLACIER_ADMIN_PASSWORD", "glacier"),
		DataDir:       dataDir,
		SitesDir:      envOrDefault("GLACIER_SITES_DIR", filepath.Join(dataDir, "sites")),
		ProxyDir:      envOrDefault("GLACIER_PROXY_DIR", filepath.Join(dataDir, "nginx")),
		CertDir:       envOrDefault("GLACIER_CERT_DIR", filepath.Join(dataDir, "certs")),
		BackupDir:     envOrDefault("GLACIER_BACKUP_DIR", filepath.Join(dataDir, "backups")),
		StateFile:     envOrDefault("GLACIER_STATE_FILE", filepath.Join(dataDir, "state.yml")),
		DBPath:        envOrDefault("GLACIER_DB_PATH", filepath.Join(dataDir, "glacier.db")),
		DockerSocket:  envOrDefault("GLACIER_DOCKER_SOCKET", "/var/run/docker.sock"),
		RenewalWindow: envDurationDays("GLACIER_RENEWAL_WINDOW_DAYS", 30),
	}

	// Ensure directories exist
	os.MkdirAll(dataDir, 0755)
	os.MkdirAll(cfg.SitesDir, 0755)
	os.MkdirAll(cfg.ProxyDir, 0755)
	os.MkdirAll(cfg.CertDir, 0700)
	os.MkdirAll(cfg.BackupDir, 0755)

	return cfg
}

func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func envDurationDays(key string, defaultDays int) time.Duration {
	days := defaultDays
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			days = n
		}
	}
	return time.Duration(days) * 24 * time.Hour
}
