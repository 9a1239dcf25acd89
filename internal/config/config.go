package config

import (
	"os"
	"strconv"
	"time"

	"gorisk/domain/simulation"
	"gorisk/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Database    DatabaseConfig
	Server      ServerConfig
	Logging     LoggingConfig
	Paths       PathConfig
	Profiling   ProfilingConfig
	Simulation  SimulationConfig
	MCMC        MCMCConfig
	Diagnostics simulation.Thresholds
}

// DatabaseConfig holds database connection settings. An empty URL disables persistence.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port            string
	GinMode         string
	ShutdownTimeout time.Duration
}

// LoggingConfig holds zerolog settings
type LoggingConfig struct {
	Level  string
	Pretty bool
}

// PathConfig holds file system paths
type PathConfig struct {
	ExportDir   string
	ScenarioDir string
}

// ProfilingConfig holds performance profiling settings
type ProfilingConfig struct {
	Port    string
	Enabled bool
}

// SimulationConfig holds Monte Carlo defaults
type SimulationConfig struct {
	Parallelism          int
	ChunkSize            int
	FailureThreshold     float64
	ConvergenceTolerance float64
	CheckpointFraction   float64
}

// MCMCConfig holds MCMC sampler defaults
type MCMCConfig struct {
	Chains       int
	Draws        int
	Tune         int
	TargetAccept float64
	MaxTreeDepth int
	InitAttempts int
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		Database:    *loadDatabaseConfig(),
		Server:      *loadServerConfig(),
		Logging:     *loadLoggingConfig(),
		Paths:       *loadPathConfig(),
		Profiling:   *loadProfilingConfig(),
		Simulation:  *loadSimulationConfig(),
		MCMC:        *loadMCMCConfig(),
		Diagnostics: loadDiagnosticsConfig(),
	}

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func loadDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		URL:             os.Getenv("DATABASE_URL"),
		MaxOpenConns:    getEnvIntOrDefault("DB_MAX_OPEN_CONNS", 10),
		ConnMaxLifetime: getEnvDurationOrDefault("DB_CONN_MAX_LIFETIME", 30*time.Minute),
	}
}

func loadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            getEnvOrDefault("PORT", "8080"),
		GinMode:         getEnvOrDefault("GIN_MODE", "release"),
		ShutdownTimeout: getEnvDurationOrDefault("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func loadLoggingConfig() *LoggingConfig {
	return &LoggingConfig{
		Level:  getEnvOrDefault("LOG_LEVEL", "info"),
		Pretty: getEnvBoolOrDefault("LOG_PRETTY", false),
	}
}

func loadPathConfig() *PathConfig {
	return &PathConfig{
		ExportDir:   getEnvOrDefault("EXPORT_DIR", "./exports"),
		ScenarioDir: getEnvOrDefault("SCENARIO_DIR", "./scenarios"),
	}
}

func loadProfilingConfig() *ProfilingConfig {
	return &ProfilingConfig{
		Port:    getEnvOrDefault("PPROF_PORT", "6060"),
		Enabled: getEnvBoolOrDefault("PPROF_ENABLED", false),
	}
}

func loadSimulationConfig() *SimulationConfig {
	return &SimulationConfig{
		Parallelism:          getEnvIntOrDefault("SIM_PARALLELISM", DefaultParallelism()),
		ChunkSize:            getEnvIntOrDefault("SIM_CHUNK_SIZE", 1024),
		FailureThreshold:     getEnvFloatOrDefault("SIM_FAILURE_THRESHOLD", 0.05),
		ConvergenceTolerance: getEnvFloatOrDefault("SIM_CONVERGENCE_TOLERANCE", 0.01),
		CheckpointFraction:   getEnvFloatOrDefault("SIM_CHECKPOINT_FRACTION", 0.1),
	}
}

func loadMCMCConfig() *MCMCConfig {
	return &MCMCConfig{
		Chains:       getEnvIntOrDefault("MCMC_CHAINS", 4),
		Draws:        getEnvIntOrDefault("MCMC_DRAWS", 1000),
		Tune:         getEnvIntOrDefault("MCMC_TUNE", 1000),
		TargetAccept: getEnvFloatOrDefault("MCMC_TARGET_ACCEPT", 0.8),
		MaxTreeDepth: getEnvIntOrDefault("MCMC_MAX_TREE_DEPTH", 10),
		InitAttempts: getEnvIntOrDefault("MCMC_INIT_ATTEMPTS", 100),
	}
}

func loadDiagnosticsConfig() simulation.Thresholds {
	defaults := simulation.DefaultThresholds()
	return simulation.Thresholds{
		RHat:           getEnvFloatOrDefault("DIAG_RHAT_THRESHOLD", defaults.RHat),
		ESS:            getEnvFloatOrDefault("DIAG_ESS_THRESHOLD", defaults.ESS),
		GewekeZ:        getEnvFloatOrDefault("DIAG_GEWEKE_THRESHOLD", defaults.GewekeZ),
		DivergenceRate: getEnvFloatOrDefault("DIAG_DIVERGENCE_RATE_THRESHOLD", defaults.DivergenceRate),
	}
}

func validateConfig(config *Config) error {
	sim := config.Simulation
	if sim.Parallelism < 1 {
		return errors.ConfigInvalid("SIM_PARALLELISM must be at least 1")
	}
	if sim.ChunkSize < 1 {
		return errors.ConfigInvalid("SIM_CHUNK_SIZE must be at least 1")
	}
	if sim.FailureThreshold < 0 || sim.FailureThreshold > 1 {
		return errors.ConfigInvalid("SIM_FAILURE_THRESHOLD must be in [0, 1]")
	}
	if sim.ConvergenceTolerance <= 0 {
		return errors.ConfigInvalid("SIM_CONVERGENCE_TOLERANCE must be positive")
	}
	if sim.CheckpointFraction <= 0 || sim.CheckpointFraction > 1 {
		return errors.ConfigInvalid("SIM_CHECKPOINT_FRACTION must be in (0, 1]")
	}

	m := config.MCMC
	if m.Chains < 1 || m.Draws < 1 || m.Tune < 0 {
		return errors.ConfigInvalid("MCMC_CHAINS and MCMC_DRAWS must be positive and MCMC_TUNE non-negative")
	}
	if m.TargetAccept <= 0 || m.TargetAccept >= 1 {
		return errors.ConfigInvalid("MCMC_TARGET_ACCEPT must be in (0, 1)")
	}
	if m.MaxTreeDepth < 1 || m.InitAttempts < 1 {
		return errors.ConfigInvalid("MCMC_MAX_TREE_DEPTH and MCMC_INIT_ATTEMPTS must be positive")
	}

	if err := config.Diagnostics.Validate(); err != nil {
		return errors.Wrap(errors.ConfigInvalid(err.Error()), "invalid diagnostics thresholds")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
