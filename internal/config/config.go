package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	App struct {
		Port    int    `mapstructure:"port"`
		AgentID string `mapstructure:"agent_id"`
	} `mapstructure:"app"`
	Database struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"database"`
	Redis struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"redis"`
	MQTT struct {
		Broker       string `mapstructure:"broker"`
		ClientID     string `mapstructure:"client_id"`
		SensorTopic  string `mapstructure:"sensor_topic"`
		CommandTopic string `mapstructure:"command_topic"`
		ResultTopic  string `mapstructure:"result_topic"`
	} `mapstructure:"mqtt"`
	MDNS struct {
		Enabled   bool   `mapstructure:"enabled"`
		LocalName string `mapstructure:"local_name"`
	} `mapstructure:"mdns"`
	Engine struct {
		TickSeconds          int `mapstructure:"tick_seconds"`
		StalenessSeconds     int `mapstructure:"staleness_seconds"`
		DispatchTimeoutSecs  int `mapstructure:"dispatch_timeout_seconds"`
		DispatchRetries      int `mapstructure:"dispatch_retries"`
		GatewayConcurrency   int `mapstructure:"gateway_concurrency"`
		WorkerConcurrency    int `mapstructure:"worker_concurrency"`
		TriggerTimeoutMillis int `mapstructure:"trigger_timeout_millis"`
		RecentActions        int `mapstructure:"recent_actions"`
		DebounceMillis       int `mapstructure:"debounce_millis"`
	} `mapstructure:"engine"`
	LogLevel string `mapstructure:"log_level"`
}

// TickInterval returns the evaluation pass interval.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Engine.TickSeconds) * time.Second
}

// StalenessWindow returns the maximum sensor reading age still considered fresh.
func (c *Config) StalenessWindow() time.Duration {
	return time.Duration(c.Engine.StalenessSeconds) * time.Second
}

// DispatchTimeout returns the per-attempt gateway call timeout.
func (c *Config) DispatchTimeout() time.Duration {
	return time.Duration(c.Engine.DispatchTimeoutSecs) * time.Second
}

// TriggerTimeout returns the per-trigger evaluation micro-timeout.
func (c *Config) TriggerTimeout() time.Duration {
	return time.Duration(c.Engine.TriggerTimeoutMillis) * time.Millisecond
}

// DebounceWindow returns the sensor update debounce window.
func (c *Config) DebounceWindow() time.Duration {
	return time.Duration(c.Engine.DebounceMillis) * time.Millisecond
}

func setDefaults() {
	viper.SetDefault("app.port", 5069)
	viper.SetDefault("app.agent_id", "grow-engine")
	viper.SetDefault("redis.addr", "127.0.0.1:6379")
	viper.SetDefault("mqtt.broker", "tcp://127.0.0.1:1883")
	viper.SetDefault("mqtt.client_id", "grow-engine")
	viper.SetDefault("mqtt.sensor_topic", "sensors/+/state")
	viper.SetDefault("mqtt.command_topic", "devices/%s/commands")
	viper.SetDefault("mqtt.result_topic", "devices/%s/result")
	viper.SetDefault("mdns.enabled", false)
	viper.SetDefault("mdns.local_name", "grow-engine.local")
	viper.SetDefault("engine.tick_seconds", 30)
	viper.SetDefault("engine.staleness_seconds", 300)
	viper.SetDefault("engine.dispatch_timeout_seconds", 10)
	viper.SetDefault("engine.dispatch_retries", 2)
	viper.SetDefault("engine.gateway_concurrency", 4)
	viper.SetDefault("engine.worker_concurrency", 10)
	viper.SetDefault("engine.trigger_timeout_millis", 500)
	viper.SetDefault("engine.recent_actions", 20)
	viper.SetDefault("engine.debounce_millis", 2000)
	viper.SetDefault("log_level", "info")
}

// LoadConfig reads configuration from config.yaml, .env, or env vars.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("grow")
	viper.AutomaticEnv()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
