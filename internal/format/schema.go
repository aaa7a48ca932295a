// Package format отвечает за проверку сигнатуры демо-файла и разбор
// заголовка. Раскладка полей заголовка и каталог тегов записей зависят
// от версии формата и описаны конфигурацией, а не захардкожены.
package format

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed schema.yaml
var embeddedSchema []byte

// TagCatalog сопоставляет имена команд номерам тегов записей.
type TagCatalog struct {
	Stop             uint64 `yaml:"stop"`
	SyncTick         uint64 `yaml:"sync_tick"`
	StringTable      uint64 `yaml:"string_table"`
	EventDescriptors uint64 `yaml:"event_descriptors"`
	GameEvent        uint64 `yaml:"game_event"`
	EntityBaseline   uint64 `yaml:"entity_baseline"`
	EntityDelta      uint64 `yaml:"entity_delta"`
	UserCommand      uint64 `yaml:"user_command"`
}

// VersionSchema описывает раскладку заголовка и теги одной версии формата.
type VersionSchema struct {
	Version uint32 `yaml:"version"`
	// Header перечисляет поля заголовка в порядке следования после
	// магической сигнатуры и номера версии.
	Header []string   `yaml:"header"`
	Tags   TagCatalog `yaml:"tags"`
}

// Schema - загруженный каталог всех известных версий формата.
type Schema struct {
	Versions []VersionSchema `yaml:"versions"`
}

// LoadSchema читает каталог версий из YAML файла.
// Если path == "", пытается прочитать из ENV DEMO_SCHEMA или
// возвращает встроенный каталог по умолчанию.
func LoadSchema(path string) (*Schema, error) {
	if path == "" {
		path = os.Getenv("DEMO_SCHEMA")
		if path == "" {
			return DefaultSchema()
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseSchema(data)
}

// DefaultSchema возвращает встроенный каталог версий.
func DefaultSchema() (*Schema, error) {
	return parseSchema(embeddedSchema)
}

func parseSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("разбор каталога версий: %w", err)
	}
	if len(s.Versions) == 0 {
		return nil, fmt.Errorf("каталог версий пуст")
	}
	return &s, nil
}

// Lookup возвращает схему указанной версии.
func (s *Schema) Lookup(version uint32) (*VersionSchema, bool) {
	for i := range s.Versions {
		if s.Versions[i].Version == version {
			return &s.Versions[i], true
		}
	}
	return nil, false
}

// Latest возвращает схему самой новой известной версии.
// Используется как best-effort для нераспознанных версий:
// формат эволюционирует совместимо, неизвестные записи пропускаются.
func (s *Schema) Latest() *VersionSchema {
	latest := &s.Versions[0]
	for i := range s.Versions {
		if s.Versions[i].Version > latest.Version {
			latest = &s.Versions[i]
		}
	}
	return latest
}
