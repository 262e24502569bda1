package config

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Config manages harness configuration using Viper
type Config struct {
	v *viper.Viper
}

// NewConfig creates a new configuration with defaults. Environment variables
// prefixed with SCIB_ override any key (neighbors.k -> SCIB_NEIGHBORS_K).
func NewConfig() *Config {
	v := viper.New()

	// Neighbour graph
	v.SetDefault("neighbors.k", 15)

	// Clustering
	v.SetDefault("clustering.method", "louvain")
	v.SetDefault("clustering.seed", int64(0))
	v.SetDefault("clustering.resolution_min", 0.1)
	v.SetDefault("clustering.resolution_max", 2.0)
	v.SetDefault("clustering.resolution_step", 0.1)
	v.SetDefault("clustering.refine", false)

	// Louvain convergence
	v.SetDefault("louvain.max_levels", 10)
	v.SetDefault("louvain.max_iterations", 100)
	v.SetDefault("louvain.min_gain", 1e-7)

	// Metrics
	v.SetDefault("pca.n_comps", 50)
	v.SetDefault("hvg.n_top", 500)
	v.SetDefault("isolated.n", 4)
	v.SetDefault("isolated.cluster", true)
	v.SetDefault("cellcycle.organism", "mouse")

	// Runner
	v.SetDefault("benchmark.workers", 2)

	// Logging parameters
	v.SetDefault("logging.level", "info")

	v.SetEnvPrefix("SCIB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Config{v: v}
}

// LoadFromFile loads configuration from file (yaml, json or toml)
func (c *Config) LoadFromFile(path string) error {
	c.v.SetConfigFile(path)
	return c.v.ReadInConfig()
}

// Getters
func (c *Config) NeighborsK() int { return c.v.GetInt("neighbors.k") }
func (c *Config) ClusteringMethod() string { return c.v.GetString("clustering.method") }
func (c *Config) ClusteringSeed() int64 { return c.v.GetInt64("clustering.seed") }
func (c *Config) ResolutionMin() float64 { return c.v.GetFloat64("clustering.resolution_min") }
func (c *Config) ResolutionMax() float64 { return c.v.GetFloat64("clustering.resolution_max") }
func (c *Config) ResolutionStep() float64 { return c.v.GetFloat64("clustering.resolution_step") }
func (c *Config) Refine() bool { return c.v.GetBool("clustering.refine") }
func (c *Config) LouvainMaxLevels() int { return c.v.GetInt("louvain.max_levels") }
func (c *Config) LouvainMaxIterations() int { return c.v.GetInt("louvain.max_iterations") }
func (c *Config) LouvainMinGain() float64 { return c.v.GetFloat64("louvain.min_gain") }
func (c *Config) PCAComps() int { return c.v.GetInt("pca.n_comps") }
func (c *Config) HVGTop() int { return c.v.GetInt("hvg.n_top") }
func (c *Config) IsolatedN() int { return c.v.GetInt("isolated.n") }
func (c *Config) IsolatedCluster() bool { return c.v.GetBool("isolated.cluster") }
func (c *Config) Organism() string { return c.v.GetString("cellcycle.organism") }
func (c *Config) Workers() int { return c.v.GetInt("benchmark.workers") }
func (c *Config) LogLevel() string { return c.v.GetString("logging.level") }

// Set allows dynamic configuration changes
func (c *Config) Set(key string, value interface{}) {
	c.v.Set(key, value)
}

// AllSettings returns the effective configuration, for reports
func (c *Config) AllSettings() map[string]interface{} {
	return c.v.AllSettings()
}

// CreateLogger creates a zerolog logger based on config
func (c *Config) CreateLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	}).Level(level).With().Timestamp().Str("service", "scib").Logger()
}
