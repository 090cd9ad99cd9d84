package cmd

import (
	"log"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "jobsync"
)

type Config struct {
	Resource    string `mapstructure:"resource"`
	BaseURL     string `mapstructure:"base-url"`
	UserAgent   string `mapstructure:"user-agent"`
	TokenFile   string `mapstructure:"token-file"`
	ExcludeFile string `mapstructure:"exclude-file"`

	Transport *TransportConfig `mapstructure:"transport"`
	Search    *SearchConfig    `mapstructure:"search"`
	Filters   *FiltersConfig   `mapstructure:"filters"`
	AI        *AIConfig        `mapstructure:"ai"`
}

type TransportConfig struct {
	// Mode is auto, push or pull. Auto prefers push and falls back to pull
	// when the websocket never comes up.
	Mode              string        `mapstructure:"mode"`
	PullInterval      time.Duration `mapstructure:"pull-interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat-interval"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect-delay"`
	ReconnectCeiling  time.Duration `mapstructure:"reconnect-ceiling"`
}

type SearchConfig struct {
	PollInterval   time.Duration `mapstructure:"poll-interval"`
	PollBudget     time.Duration `mapstructure:"poll-budget"`
	DebounceWindow time.Duration `mapstructure:"debounce-window"`
	Auto           bool          `mapstructure:"auto"`
	AutoInterval   time.Duration `mapstructure:"auto-interval"`
}

type FiltersConfig struct {
	MinimumScore     float64  `mapstructure:"minimum-score"`
	ExcludeLocations []string `mapstructure:"exclude-locations"`
}

type AIConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Provider string        `mapstructure:"provider"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxRetries   int    `mapstructure:"max-retries"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "jobsync watches a job description and keeps its candidate search results fresh",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("token-file", "BOUNTEER_TOKEN_FILE"); err != nil {
		log.Fatalf("binding BOUNTEER_TOKEN_FILE environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is jobsync.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	// Config needed only for watch command now. If there is no config, we can skip initialization
	if watchCmd.CalledAs() == "" {
		return
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
	}

	// We can't proceed if the config file parsed with error.
	if err := viper.ReadInConfig(); err != nil {
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}
