// config - источник загрузки конфигурации для rag-gateway.
//
// Источники (по убыванию приоритета):
//  1. явный путь --config;
//  2. CONFIG_PATH;
//  3. ./local.yaml;
//  4. только ENV (cleanenv).
//
// Конфигурация собирается один раз в main и передаётся зависимостям по
// ссылке; глобального состояния пакет не имеет.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	Keycloak  KeycloakConfig  `yaml:"keycloak"`
	Inference InferenceConfig `yaml:"inference"`
	Auth      AuthConfig      `yaml:"auth"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
}

// TimeoutConfig — таймаут обработки запроса сервисом.
type TimeoutConfig struct {
	Service time.Duration `yaml:"service" env:"SERVICE" env-default:"15s"`
}

// HTTPConfig — публичный REST-сервер шлюза.
type HTTPConfig struct {
	Host string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8000"`
}

func (h HTTPConfig) Addr() string { return net.JoinHostPort(h.Host, h.Port) }

// KeycloakConfig — параметры внешнего провайдера идентификации.
//
// Эндпоинты строятся как
// {base_url}/realms/{realm}/protocol/openid-connect/{token,userinfo}.
type KeycloakConfig struct {
	BaseURL      string        `yaml:"base_url"      env:"KEYCLOAK_URL"           env-default:"http://localhost:8080"`
	Realm        string        `yaml:"realm"         env:"KEYCLOAK_REALM"         env-default:"myrealm"`
	ClientID     string        `yaml:"client_id"     env:"KEYCLOAK_CLIENT_ID"     env-default:"myclient"`
	ClientSecret string        `yaml:"client_secret" env:"KEYCLOAK_CLIENT_SECRET" env-default:""`
	Scope        string        `yaml:"scope"         env:"KEYCLOAK_SCOPE"         env-default:"openid profile email"`
	Timeout      time.Duration `yaml:"timeout"       env:"KEYCLOAK_TIMEOUT"       env-default:"10s"`
}

// InferenceConfig — параметры API инференса.
//
// APIKey допускается пустым (шлюз стартует и отвечает на /login), но запросы
// к модели без ключа завершатся внутренней ошибкой; main пишет предупреждение.
type InferenceConfig struct {
	APIURL  string        `yaml:"api_url" env:"INFERENCE_API_URL" env-default:"https://api-inference.huggingface.co/models"`
	APIKey  string        `yaml:"api_key" env:"HUGGINGFACE_API_KEY" env-default:""`
	Model   string        `yaml:"model"   env:"INFERENCE_MODEL"   env-default:"gpt2"`
	Timeout time.Duration `yaml:"timeout" env:"INFERENCE_TIMEOUT" env-default:"30s"`
}

// AuthConfig — параметры доставки refresh-токена клиенту.
//
// CookieTTL задаёт Max-Age cookie; реальное время жизни refresh-токена
// контролирует провайдер идентификации.
type AuthConfig struct {
	CookieName   string        `yaml:"cookie_name"   env:"REFRESH_COOKIE_NAME"   env-default:"refresh_token"`
	CookieTTL    time.Duration `yaml:"cookie_ttl"    env:"REFRESH_COOKIE_TTL"    env-default:"30m"`
	CookieSecure bool          `yaml:"cookie_secure" env:"REFRESH_COOKIE_SECURE" env-default:"true"`
}

// MustLoad — паника при ошибке загрузки.
func MustLoad(path string) *Config {
	cfg, err := Load(path)

	if err != nil {
		panic(err)
	}

	return cfg
}

func Load(path string) (*Config, error) {
	var cfg Config

	tryRead := func(p string) (*Config, error) {
		if p == "" {
			return nil, fmt.Errorf("empty config path")
		}

		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		return &cfg, nil
	}

	// 1) --config
	if path != "" {
		return tryRead(path)
	}

	// 2) CONFIG_PATH
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return tryRead(envPath)
	}

	// 3) ./local.yaml
	if _, err := os.Stat("local.yaml"); err == nil {
		if err := cleanenv.ReadConfig("local.yaml", &cfg); err != nil {
			return nil, fmt.Errorf("failed to read local.yaml: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		return &cfg, nil
	}

	// 4) только ENV
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	return &cfg, nil
}
