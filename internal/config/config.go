package config

import (
	"flag"
	"log"
	"os"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type (
	Config struct {
		App         `yaml:"app"`
		HTTP        `yaml:"http"`
		Log         `yaml:"logger"`
		Store       `yaml:"store"`
		Scheduler   `yaml:"scheduler"`
		Clock       `yaml:"clock"`
		Interaction `yaml:"interaction"`
	}

	App struct {
		Env  string `yaml:"env"  env-default:"local" env:"APP_ENV"`
		Name string `yaml:"name" env-default:"diana"`
	}

	HTTP struct {
		IP          string        `yaml:"ip"           env-default:"0.0.0.0"`
		Port        string        `yaml:"port"         env-default:"8080"    env:"HTTP_PORT"`
		Timeout     time.Duration `yaml:"timeout"      env-default:"4s"`
		IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
		CORS        struct {
			AllowedMethods   []string `yaml:"allowed_methods"`
			AllowedOrigins   []string `yaml:"allowed_origins"`
			AllowCredentials bool     `yaml:"allow_credentials"`
			AllowedHeaders   []string `yaml:"allowed_headers"`
			ExposedHeaders   []string `yaml:"exposed_headers"`
			Debug            bool     `yaml:"debug"`
		} `yaml:"cors"`
	}

	Log struct {
		Level string `yaml:"log_level" env-default:"info" env:"LOG_LEVEL"`
	}

	Store struct {
		URL string `yaml:"url" env-default:"mem://" env:"STORE_URL"`
	}

	Scheduler struct {
		Timeout    time.Duration `yaml:"timeout"    env-default:"5s"`
		Permission string        `yaml:"permission" env-default:"granted" env:"SCHEDULER_PERMISSION"`
		Body       string        `yaml:"body"       env-default:"Your alarm is ringing!"`
	}

	Clock struct {
		Interval  time.Duration `yaml:"interval"  env-default:"1s"`
		Tolerance time.Duration `yaml:"tolerance" env-default:"2s"`
	}

	Interaction struct {
		URL string `yaml:"url" env:"INTERACTION_URL"`
	}
)

const (
	PermissionGranted = "granted"
	PermissionDenied  = "denied"
)

// Granted reports whether the in-process scheduler allows notifications.
func (s Scheduler) Granted() bool {
	return s.Permission != PermissionDenied
}

const (
	EnvConfigPathName  = "CONFIG_PATH"
	FlagConfigPathName = "config"
)

var (
	configPath string
	instance   *Config
	once       sync.Once
)

// GetConfig returns app configs.
func GetConfig() *Config {
	once.Do(func() {
		flag.StringVar(
			&configPath,
			FlagConfigPathName,
			"",
			"this is app config file",
		)
		flag.Parse()

		log.Print("config init")

		if configPath == "" {
			configPath = os.Getenv(EnvConfigPathName)
		}

		cfg, err := Read(configPath)
		if err != nil {
			helpText := "Diana - daily alarm service"
			help, _ := cleanenv.GetDescription(&Config{}, &helpText)
			log.Print(help)
			log.Fatal(err)
		}
		instance = cfg
	})
	return instance
}

// Read loads the config file at path, or only the environment if path is
// empty.
func Read(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
