package demcore

import "time"

// ParseOptions - иммутабельная конфигурация одного парсера.
// Глобального состояния нет: опции и изменяемый контекст прохода
// передаются явно и живут не дольше одного разбора.
type ParseOptions struct {
	// Гейты извлечения. Выключенный гейт пропускает соответствующий
	// выходной список; общий проход декодирования выполняется всегда.
	ExtractKills     bool
	ExtractHeadshots bool
	ExtractClutches  bool
	ExtractRounds    bool
	ExtractPlayers   bool

	// MaxFileSize - лимит размера входа в байтах; 0 - без лимита.
	// Превышение отклоняется до начала декодирования.
	MaxFileSize int64

	// TimeoutSeconds - бюджет времени разбора; 0 - без лимита.
	// По таймауту частичные результаты отбрасываются целиком.
	TimeoutSeconds int

	// PipelinedDemux включает конвейерный демультиплексор с
	// ограниченной очередью передачи. Порядок записей не меняется.
	PipelinedDemux bool

	// DemuxQueueSize - ёмкость очереди конвейерного режима.
	DemuxQueueSize int

	// SchemaPath - путь к внешнему каталогу версий формата;
	// "" - встроенный каталог (или ENV DEMO_SCHEMA).
	SchemaPath string
}

// DefaultOptions возвращает опции по умолчанию: извлекаются все виды
// событий, лимиты размера и времени не установлены.
func DefaultOptions() ParseOptions {
	return ParseOptions{
		ExtractKills:     true,
		ExtractHeadshots: true,
		ExtractClutches:  true,
		ExtractRounds:    true,
		ExtractPlayers:   true,
	}
}

// timeout возвращает бюджет времени как Duration; 0 - без лимита.
func (o ParseOptions) timeout() time.Duration {
	if o.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(o.TimeoutSeconds) * time.Second
}
