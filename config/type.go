package config

type Config struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	// Client-side settings. Backend selects the shared store: "memory",
	// "pebble" or "redis".
	Backend  string `mapstructure:"backend"`
	DataDir  string `mapstructure:"data_dir"`
	RedisURL string `mapstructure:"redis_url"`
	NATSURL  string `mapstructure:"nats_url"`
	RelayURL string `mapstructure:"relay_url"`

	KeyPrefix      string `mapstructure:"key_prefix"`
	PollIntervalMS int    `mapstructure:"poll_interval_ms"`
}
