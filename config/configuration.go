package config

import (
	"time"

	"github.com/spf13/viper"
)

type SocrataConfiguration struct {
	AppToken string `json:"app_token" mapstructure:"app_token" default:""`
	TimeoutS int    `json:"timeout_s" mapstructure:"timeout_s" default:"90"`
	BackoffS int    `json:"backoff_s" mapstructure:"backoff_s" default:"1"`
}

type Configuration struct {
	Socrata  SocrataConfiguration `json:"socrata" mapstructure:"socrata" default:""`
	Datasets string               `json:"datasets" mapstructure:"datasets" default:"datasets.yaml"`
	Host     string               `json:"host" mapstructure:"host" default:"0.0.0.0"`
	Port     string               `json:"port" mapstructure:"port" default:"8123"`
}

var Config *Configuration

func (s *SocrataConfiguration) Timeout() time.Duration {
	if s.TimeoutS <= 0 {
		return 90 * time.Second
	}
	return time.Duration(s.TimeoutS) * time.Second
}

func (s *SocrataConfiguration) Backoff() time.Duration {
	if s.BackoffS <= 0 {
		return time.Second
	}
	return time.Duration(s.BackoffS) * time.Second
}

func InitConfig(file string) {
	viper.SetConfigFile(file)
	viper.SetEnvPrefix("OPENLAKE")
	viper.AutomaticEnv()
	viper.SetDefault("socrata.timeout_s", 90)
	viper.SetDefault("socrata.backoff_s", 1)
	viper.SetDefault("host", "0.0.0.0")
	viper.SetDefault("port", "8123")
	err := viper.ReadInConfig()
	if err != nil {
		panic(err)
	}
	Config = &Configuration{}
	err = viper.Unmarshal(Config)
	if err != nil {
		panic(err)
	}
	if tok := viper.GetString("SOCRATA_APP_TOKEN"); tok != "" {
		Config.Socrata.AppToken = tok
	}
}
