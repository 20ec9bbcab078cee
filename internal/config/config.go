package config

import (
	"github.com/spf13/viper"
)

type Config struct {
	Transport struct {
		Listen               string `mapstructure:"listen"`
		Target               string `mapstructure:"target"`
		Version              string `mapstructure:"version"`
		DCIDLength           int    `mapstructure:"dcid_length"`
		SCIDLength           int    `mapstructure:"scid_length"`
		InitialWindowPackets int    `mapstructure:"initial_window_packets"`
		LogPackets           bool   `mapstructure:"log_packets"`
	} `mapstructure:"transport"`
	API struct {
		Port        int  `mapstructure:"port"`
		LogRequests bool `mapstructure:"log_requests"`
	} `mapstructure:"api"`
	Telemetry struct {
		Enabled  bool   `mapstructure:"enabled"`
		Address  string `mapstructure:"address"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		Channel  string `mapstructure:"channel"`
	} `mapstructure:"telemetry"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetDefault("transport.listen", ":0")
	viper.SetDefault("transport.version", "draft-16")
	viper.SetDefault("transport.dcid_length", 8)
	viper.SetDefault("transport.scid_length", 8)
	viper.SetDefault("transport.initial_window_packets", 10)
	viper.SetDefault("transport.log_packets", false)
	viper.SetDefault("api.port", 8080)
	viper.SetDefault("api.log_requests", false)
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.channel", "quill_cc")
	viper.SetDefault("log.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
