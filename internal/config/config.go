package config

import (
	"os"

	"github.com/go-yaml/yaml"
)

type Config struct {
	Server Server `yaml:"server"`
	GitHub GitHub `yaml:"github"`
	Email  Email  `yaml:"email"`
}

type Server struct {
	Listen         string   `yaml:"listen"`
	APIOrigin      string   `yaml:"apiOrigin"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	EmailHashSalt  string   `yaml:"emailHashSalt"`
	RSAPrivateKey  string   `yaml:"rsaPrivateKey"`
	RedisAddr      string   `yaml:"redisAddr"`
	RedisDB        int      `yaml:"redisDB"`
	EnableTrace    bool     `yaml:"enableTrace"`
	TraceEndpoint  string   `yaml:"traceEndpoint"`
}

type GitHub struct {
	Token         string `yaml:"token"`
	BaseURL       string `yaml:"baseUrl"`
	WebhookSecret string `yaml:"webhookSecret"`
}

type Email struct {
	APIKey      string `yaml:"apiKey"`
	Domain      string `yaml:"domain"`
	FromAddress string `yaml:"fromAddress"`
	BaseURL     string `yaml:"baseUrl"`
}

func Load(path string) (Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer file.Close()

	var config Config
	err = yaml.NewDecoder(file).Decode(&config)
	if err != nil {
		return Config{}, err
	}

	// Secrets come from the environment in deployed setups.
	overrideEnv(&config.GitHub.Token, "GITHUB_TOKEN")
	overrideEnv(&config.GitHub.BaseURL, "GITHUB_BASE_URL")
	overrideEnv(&config.GitHub.WebhookSecret, "WEBHOOK_SECRET")
	overrideEnv(&config.Server.RSAPrivateKey, "RSA_PRIVATE_KEY")
	overrideEnv(&config.Server.EmailHashSalt, "HASH_SALT")
	overrideEnv(&config.Server.APIOrigin, "API_ORIGIN")
	overrideEnv(&config.Email.APIKey, "EMAIL_API_KEY")
	overrideEnv(&config.Email.Domain, "EMAIL_DOMAIN")
	overrideEnv(&config.Email.FromAddress, "EMAIL_FROM")

	if config.Server.Listen == "" {
		config.Server.Listen = ":8080"
	}
	if config.GitHub.BaseURL == "" {
		config.GitHub.BaseURL = "https://api.github.com"
	}
	if config.Email.FromAddress == "" {
		config.Email.FromAddress = "no_reply@mailgun.com"
	}

	return config, nil
}

func overrideEnv(target *string, key string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	}
}
