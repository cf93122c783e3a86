package http

type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    uint   `mapstructure:"port"`
	APIKey  string `mapstructure:"api_key"`
}

const DefaultPort = 18791
