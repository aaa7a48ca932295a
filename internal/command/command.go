// Package command десериализует payload записей в закрытое множество
// вариантов команд. Payload закодирован в protobuf wire-формате и
// разбирается по номерам полей без сгенерированного кода.
//
// Схемы полей (номера protobuf-полей):
//
//	SyncTick:         1 tick (varint)
//	StringTable:      1 name (bytes), 2..n entry (bytes: 1 id varint, 2 value bytes)
//	EventDescriptors: 1..n descriptor (bytes: 1 id varint, 2 name bytes)
//	GameEvent:        1 descriptor_id, 2 tick, 3 entity_a, 4 entity_b,
//	                  5 value_a, 6 value_b, 7 flag (varint),
//	                  8 str (bytes), 9..11 pos x/y/z (fixed32)
//	EntityBaseline:   1 handle (varint), 2..n field (bytes)
//	EntityDelta:      та же схема, что и EntityBaseline
//	UserCommand:      1 tick (varint), 2 text (bytes)
//	Entity field:     1 id (varint), 2 uint (varint), 3 float (fixed32), 4 str (bytes)
package command

import "github.com/annel0/cs2-demo-core/internal/format"

// Kind определяет вариант команды.
type Kind int

const (
	KindUnknown Kind = iota
	KindSyncTick
	KindStringTable
	KindEventDescriptors
	KindGameEvent
	KindEntityBaseline
	KindEntityDelta
	KindUserCommand
)

// FieldKind - тип значения поля сущности.
type FieldKind int

const (
	FieldUint FieldKind = iota
	FieldFloat
	FieldString
)

// FieldValue - значение одного поля сущности.
type FieldValue struct {
	Kind FieldKind
	U    uint64
	F    float32
	S    string
}

// SyncTick - синхронизационная отметка времени потока.
type SyncTick struct {
	Tick uint32
}

// StringTable - именованная таблица строк из потока.
type StringTable struct {
	Name    string
	Entries map[uint32]string
}

// EventDescriptor связывает динамический id события с его именем.
// Схема событий - часть данных демо, а не кода.
type EventDescriptor struct {
	ID   uint32
	Name string
}

// EventDescriptors - пакет дескрипторов игровых событий.
type EventDescriptors struct {
	Descriptors []EventDescriptor
}

// GameEvent - сырое игровое событие до разрешения ссылок.
// Значения полей интерпретируются диспетчером по виду события.
type GameEvent struct {
	DescriptorID uint32
	Tick         uint32
	EntityA      uint32 // например, убийца
	EntityB      uint32 // например, жертва
	ValueA       uint64 // например, код победителя
	ValueB       uint64 // например, причина завершения
	Flag         bool   // например, headshot
	Str          string // например, оружие

	HasPos           bool
	PosX, PosY, PosZ float32
}

// EntityUpdate - baseline или delta состояния сущности.
type EntityUpdate struct {
	Handle uint32
	Fields map[uint32]FieldValue
}

// UserCommand - консольная/пользовательская команда из потока.
type UserCommand struct {
	Tick uint32
	Text string
}

// Command - декодированная запись. Заполнено ровно одно из полей
// полезной нагрузки в соответствии с Kind; для KindUnknown - ни одного.
type Command struct {
	Kind Kind
	Tag  uint64

	SyncTick    *SyncTick
	Table       *StringTable
	Descriptors *EventDescriptors
	Event       *GameEvent
	Entity      *EntityUpdate
	User        *UserCommand
}

// KindForTag сопоставляет тег записи варианту команды по каталогу версии.
func KindForTag(tag uint64, tags *format.TagCatalog) Kind {
	switch tag {
	case tags.SyncTick:
		return KindSyncTick
	case tags.StringTable:
		return KindStringTable
	case tags.EventDescriptors:
		return KindEventDescriptors
	case tags.GameEvent:
		return KindGameEvent
	case tags.EntityBaseline:
		return KindEntityBaseline
	case tags.EntityDelta:
		return KindEntityDelta
	case tags.UserCommand:
		return KindUserCommand
	default:
		// Неизвестный тег - вариант, а не ошибка: совместимость вперёд.
		return KindUnknown
	}
}
