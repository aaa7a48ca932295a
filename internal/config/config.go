// Package config загружает YAML-конфигурацию утилиты demostat.
// Флаги командной строки имеют приоритет над файлом, файл - над
// переменными окружения.
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config - корневая структура конфигурации.
type Config struct {
	Parse   ParseConfig   `yaml:"parse"`
	Output  OutputConfig  `yaml:"output"`
	Logging LoggingConfig `yaml:"logging"`
}

// ParseConfig задаёт бюджеты и режимы разбора.
type ParseConfig struct {
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxFileSize    int64  `yaml:"max_file_size"`
	SchemaPath     string `yaml:"schema_path"`
	Pipelined      bool   `yaml:"pipelined"`
	QueueSize      int    `yaml:"queue_size"`

	// Гейты извлечения; nil трактуется как включённый гейт.
	ExtractKills     *bool `yaml:"extract_kills"`
	ExtractHeadshots *bool `yaml:"extract_headshots"`
	ExtractClutches  *bool `yaml:"extract_clutches"`
	ExtractRounds    *bool `yaml:"extract_rounds"`
	ExtractPlayers   *bool `yaml:"extract_players"`
}

// OutputConfig задаёт форму выдачи.
type OutputConfig struct {
	JSON       bool `yaml:"json"`
	Rounds     bool `yaml:"rounds"`
	TopPlayers int  `yaml:"top_players"`
}

// LoggingConfig задаёт каталог файловых логов.
type LoggingConfig struct {
	Dir string `yaml:"dir"`
}

// GetTimeoutSeconds возвращает бюджет времени с поддержкой fallback значений
func (p *ParseConfig) GetTimeoutSeconds() int {
	return getIntWithEnvFallback(p.TimeoutSeconds, "DEMO_TIMEOUT_SECONDS", 0)
}

// GetMaxFileSize возвращает лимит размера с поддержкой fallback значений
func (p *ParseConfig) GetMaxFileSize() int64 {
	if p.MaxFileSize > 0 {
		return p.MaxFileSize
	}
	if envVal := os.Getenv("DEMO_MAX_FILE_SIZE"); envVal != "" {
		if v, err := strconv.ParseInt(envVal, 10, 64); err == nil && v > 0 {
			return v
		}
	}
	return 0
}

// GetSchemaPath возвращает путь каталога версий с поддержкой fallback значений
func (p *ParseConfig) GetSchemaPath() string {
	if p.SchemaPath != "" {
		return p.SchemaPath
	}
	return os.Getenv("DEMO_SCHEMA")
}

// Enabled разворачивает опциональный гейт: не задан - включён.
func Enabled(gate *bool) bool {
	return gate == nil || *gate
}

// getIntWithEnvFallback возвращает значение с приоритетом: config -> env -> default
func getIntWithEnvFallback(configVal int, envVar string, defaultVal int) int {
	if configVal > 0 {
		return configVal
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		if v, err := strconv.Atoi(envVal); err == nil && v > 0 {
			return v
		}
	}
	return defaultVal
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV DEMOSTAT_CONFIG или возвращает nil, nil.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("DEMOSTAT_CONFIG")
		if path == "" {
			return nil, nil // конфиг не задан — использовать дефолты
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
