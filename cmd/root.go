package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CodeMonkeyCybersecurity/attackmap/internal/config"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/logger"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "attackmap",
	Short: "MITRE ATT&CK statistics and Navigator heat maps",
	Long: `attackmap - ATT&CK Analysis and Heat Map Generator

Downloads the enterprise ATT&CK STIX bundle, links groups, mitigations and
relationships to every technique, computes catalogue statistics and writes one
ATT&CK Navigator layer per dimension (groups, mitigations, relationships,
references).

COMMANDS:
  attackmap analyze            - Full run: load, map, analyze, write layers
  attackmap fetch              - Download and cache the STIX bundle only
  attackmap stats              - Print catalogue statistics
  attackmap history            - List stored runs (requires database)
  attackmap serve              - Serve layers to ATT&CK Navigator over HTTP

CONFIGURATION:
  Settings are read from flags, ATTACKMAP_* environment variables (a .env file
  is loaded first) and an optional YAML file given with --config.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		if err := initConfig(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		var err error
		log, err = logger.New(cfg.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log == nil {
			return
		}
		// Sync on stdout/stderr returns EINVAL on Linux
		if err := log.Sync(); err != nil && !strings.Contains(err.Error(), "invalid argument") {
			fmt.Fprintf(os.Stderr, "Warning: failed to sync logger: %v\n", err)
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (json, console)")
	viper.BindPFlag("logger.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("logger.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.PersistentFlags().String("cache-backend", "file", "cache backend (file, redis)")
	rootCmd.PersistentFlags().String("cache-dir", "data", "directory for the file cache")
	rootCmd.PersistentFlags().String("redis-addr", "localhost:6379", "Redis server address")
	viper.BindPFlag("cache.backend", rootCmd.PersistentFlags().Lookup("cache-backend"))
	viper.BindPFlag("cache.dir", rootCmd.PersistentFlags().Lookup("cache-dir"))
	viper.BindPFlag("redis.addr", rootCmd.PersistentFlags().Lookup("redis-addr"))
	viper.BindEnv("redis.addr", "ATTACKMAP_REDIS_ADDR", "REDIS_URL")

	rootCmd.PersistentFlags().String("db-dsn", "", "PostgreSQL connection string for run history")
	viper.BindPFlag("database.dsn", rootCmd.PersistentFlags().Lookup("db-dsn"))
	viper.BindEnv("database.dsn", "ATTACKMAP_DATABASE_DSN", "DATABASE_URL")

	// API keys never come from flags
	viper.BindEnv("object_store.access_key", "ATTACKMAP_OBJECT_STORE_ACCESS_KEY", "AWS_ACCESS_KEY_ID")
	viper.BindEnv("object_store.secret_key", "ATTACKMAP_OBJECT_STORE_SECRET_KEY", "AWS_SECRET_ACCESS_KEY")

	registerDefaults(config.DefaultConfig())
}

// registerDefaults makes every key known to viper so ATTACKMAP_* variables apply
func registerDefaults(d *config.Config) {
	viper.SetDefault("logger.level", d.Logger.Level)
	viper.SetDefault("logger.format", d.Logger.Format)
	viper.SetDefault("logger.output_paths", d.Logger.OutputPaths)

	viper.SetDefault("source.url", d.Source.URL)
	viper.SetDefault("source.bundle_path", d.Source.BundlePath)
	viper.SetDefault("source.use_cache", d.Source.UseCache)
	viper.SetDefault("source.timeout", d.Source.Timeout)
	viper.SetDefault("source.user_agent", d.Source.UserAgent)

	viper.SetDefault("cache.backend", d.Cache.Backend)
	viper.SetDefault("cache.dir", d.Cache.Dir)
	viper.SetDefault("cache.ttl", d.Cache.TTL)

	viper.SetDefault("redis.addr", d.Redis.Addr)
	viper.SetDefault("redis.password", d.Redis.Password)
	viper.SetDefault("redis.db", d.Redis.DB)
	viper.SetDefault("redis.max_retries", d.Redis.MaxRetries)
	viper.SetDefault("redis.dial_timeout", d.Redis.DialTimeout)
	viper.SetDefault("redis.read_timeout", d.Redis.ReadTimeout)
	viper.SetDefault("redis.write_timeout", d.Redis.WriteTimeout)

	viper.SetDefault("d3fend.enabled", d.D3FEND.Enabled)
	viper.SetDefault("d3fend.base_url", d.D3FEND.BaseURL)
	viper.SetDefault("d3fend.timeout", d.D3FEND.Timeout)

	viper.SetDefault("rate_limit.requests_per_second", d.RateLimit.RequestsPerSecond)
	viper.SetDefault("rate_limit.burst_size", d.RateLimit.BurstSize)

	viper.SetDefault("output.backend", d.Output.Backend)
	viper.SetDefault("output.layer_dir", d.Output.LayerDir)
	viper.SetDefault("output.dataset_path", d.Output.DatasetPath)
	viper.SetDefault("output.hide_uncovered", d.Output.HideUncovered)

	viper.SetDefault("object_store.endpoint", d.ObjectStore.Endpoint)
	viper.SetDefault("object_store.bucket", d.ObjectStore.Bucket)
	viper.SetDefault("object_store.prefix", d.ObjectStore.Prefix)
	viper.SetDefault("object_store.use_ssl", d.ObjectStore.UseSSL)
	viper.SetDefault("object_store.region", d.ObjectStore.Region)

	viper.SetDefault("database.enabled", d.Database.Enabled)
	viper.SetDefault("database.driver", d.Database.Driver)
	viper.SetDefault("database.dsn", d.Database.DSN)
	viper.SetDefault("database.max_connections", d.Database.MaxConnections)
	viper.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	viper.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)

	viper.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	viper.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
	viper.SetDefault("telemetry.endpoint", d.Telemetry.Endpoint)
	viper.SetDefault("telemetry.insecure", d.Telemetry.Insecure)
	viper.SetDefault("telemetry.sample_rate", d.Telemetry.SampleRate)

	viper.SetDefault("server.host", d.Server.Host)
	viper.SetDefault("server.port", d.Server.Port)
	viper.SetDefault("server.enable_cors", d.Server.EnableCORS)
	viper.SetDefault("server.watch", d.Server.Watch)
}

func initConfig() error {
	// A missing .env file is normal
	_ = godotenv.Load()

	viper.SetEnvPrefix("ATTACKMAP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
	}

	cfg = &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg.Validate()
}
