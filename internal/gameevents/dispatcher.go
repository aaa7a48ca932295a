// Package gameevents распознаёт дескрипторы игровых событий и
// превращает сырые команды GameEvent в типизированные уведомления,
// разрешая индексы сущностей через трекер состояний.
package gameevents

import (
	"strings"

	"github.com/annel0/cs2-demo-core/internal/command"
	"github.com/annel0/cs2-demo-core/internal/entity"
)

// Kind - закрытое множество распознаваемых видов событий.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindPlayerDeath
	KindRoundStart
	KindRoundEnd
	KindRoundMVP
	KindBombPlanted
	KindBombDefused
)

// kindForName сопоставляет обнаруженное в потоке имя события его виду.
// Имена - данные демо; набор распознаваемых видов - закрытый.
func kindForName(name string) Kind {
	switch strings.ToLower(name) {
	case "player_death":
		return KindPlayerDeath
	case "round_start":
		return KindRoundStart
	case "round_end":
		return KindRoundEnd
	case "round_mvp":
		return KindRoundMVP
	case "bomb_planted":
		return KindBombPlanted
	case "bomb_defused":
		return KindBombDefused
	default:
		return KindUnrecognized
	}
}

// PlayerRef - разрешённая ссылка на игрока.
type PlayerRef struct {
	AccountID string
	Name      string
	TeamCode  uint64
}

// Death - полностью разрешённое событие смерти игрока.
// Позиция жертвы берётся из самого события, позиция убийцы -
// из отслеживаемого состояния его сущности на момент события.
type Death struct {
	Tick     uint32
	Killer   PlayerRef
	Victim   PlayerRef
	Weapon   string
	Headshot bool

	HasVictimPos bool
	VX, VY, VZ   float32
	HasKillerPos bool
	KX, KY, KZ   float32
}

// RoundEndInfo - событие завершения раунда.
type RoundEndInfo struct {
	Tick       uint32
	WinnerCode uint64 // код команды-победителя, 0 - ничья
	ReasonCode uint64
}

// Sink принимает типизированные уведомления диспетчера.
// Реализуется экстрактором событий.
type Sink interface {
	OnPlayerSeen(ref PlayerRef)
	OnRoundStart(tick uint32)
	OnPlayerDeath(d Death)
	OnRoundEnd(info RoundEndInfo)
	OnRoundMVP(tick uint32, player PlayerRef)
	OnBombPlanted(tick uint32, player PlayerRef)
	OnBombDefused(tick uint32, player PlayerRef)
}

// WarnFunc принимает предупреждения о пропущенных событиях.
type WarnFunc func(format string, args ...interface{})

// Dispatcher держит реестр имя-события -> вид и раздаёт уведомления.
// Реестр строится из данных самого потока (таблицы дескрипторов и
// строковые таблицы) и неизменен после построения.
type Dispatcher struct {
	registry map[uint32]Kind
	names    map[uint32]string
	tracker  *entity.Tracker
	sink     Sink
	warn     WarnFunc
}

// NewDispatcher создаёт диспетчер поверх трекера состояний.
func NewDispatcher(tracker *entity.Tracker, sink Sink, warn WarnFunc) *Dispatcher {
	return &Dispatcher{
		registry: make(map[uint32]Kind),
		names:    make(map[uint32]string),
		tracker:  tracker,
		sink:     sink,
		warn:     warn,
	}
}

// RegisterDescriptors пополняет реестр пакетом дескрипторов из потока.
func (d *Dispatcher) RegisterDescriptors(ds *command.EventDescriptors) {
	for _, desc := range ds.Descriptors {
		d.registry[desc.ID] = kindForName(desc.Name)
		d.names[desc.ID] = desc.Name
	}
}

// RegisterStringTable пополняет реестр из строковой таблицы
// game_events, если она присутствует в потоке.
func (d *Dispatcher) RegisterStringTable(t *command.StringTable) {
	if t.Name != "game_events" {
		return
	}
	for id, name := range t.Entries {
		d.registry[id] = kindForName(name)
		d.names[id] = name
	}
}

// Dispatch разрешает и раздаёт одно сырое игровое событие.
// Неразрешимые ссылки на сущности деградируют до предупреждения.
func (d *Dispatcher) Dispatch(ev *command.GameEvent) {
	kind, ok := d.registry[ev.DescriptorID]
	if !ok {
		d.warn("игровое событие с неизвестным дескриптором %d (тик %d) пропущено",
			ev.DescriptorID, ev.Tick)
		return
	}

	switch kind {
	case KindPlayerDeath:
		killer, ok1 := d.resolve(ev.EntityA)
		victim, ok2 := d.resolve(ev.EntityB)
		if !ok1 || !ok2 {
			d.warn("player_death на тике %d: сущность %d/%d не отслеживается, событие пропущено",
				ev.Tick, ev.EntityA, ev.EntityB)
			return
		}
		death := Death{
			Tick:         ev.Tick,
			Killer:       killer,
			Victim:       victim,
			Weapon:       ev.Str,
			Headshot:     ev.Flag,
			HasVictimPos: ev.HasPos,
			VX:           ev.PosX,
			VY:           ev.PosY,
			VZ:           ev.PosZ,
		}
		if st, ok := d.tracker.CurrentState(ev.EntityA); ok {
			if x, y, z, ok := st.Pos(); ok {
				death.HasKillerPos = true
				death.KX, death.KY, death.KZ = x, y, z
			}
		}
		d.sink.OnPlayerDeath(death)
	case KindRoundStart:
		d.announceRoster()
		d.sink.OnRoundStart(ev.Tick)
	case KindRoundEnd:
		d.sink.OnRoundEnd(RoundEndInfo{Tick: ev.Tick, WinnerCode: ev.ValueA, ReasonCode: ev.ValueB})
	case KindRoundMVP:
		player, ok := d.resolve(ev.EntityA)
		if !ok {
			d.warn("round_mvp на тике %d: сущность %d не отслеживается, событие пропущено",
				ev.Tick, ev.EntityA)
			return
		}
		d.sink.OnRoundMVP(ev.Tick, player)
	case KindBombPlanted:
		player, ok := d.resolve(ev.EntityA)
		if !ok {
			d.warn("bomb_planted на тике %d: сущность %d не отслеживается, событие пропущено",
				ev.Tick, ev.EntityA)
			return
		}
		d.sink.OnBombPlanted(ev.Tick, player)
	case KindBombDefused:
		player, ok := d.resolve(ev.EntityA)
		if !ok {
			d.warn("bomb_defused на тике %d: сущность %d не отслеживается, событие пропущено",
				ev.Tick, ev.EntityA)
			return
		}
		d.sink.OnBombDefused(ev.Tick, player)
	case KindUnrecognized:
		// Нераспознанные события отбрасываются молча.
	}
}

// NotifyEntity сообщает о baseline/delta игрока, чтобы экстрактор
// регистрировал участников до первых игровых событий.
func (d *Dispatcher) NotifyEntity(handle uint32) {
	st, ok := d.tracker.CurrentState(handle)
	if !ok || !st.IsPlayer() {
		return
	}
	if ref, ok := refFromState(st); ok {
		d.sink.OnPlayerSeen(ref)
	}
}

// announceRoster повторно объявляет всех известных игроков:
// состав команд к началу раунда нужен для подсчёта живых.
func (d *Dispatcher) announceRoster() {
	d.tracker.EachPlayer(func(st *entity.State) {
		if ref, ok := refFromState(st); ok {
			d.sink.OnPlayerSeen(ref)
		}
	})
}

// resolve превращает индекс сущности в ссылку на игрока.
func (d *Dispatcher) resolve(handle uint32) (PlayerRef, bool) {
	st, ok := d.tracker.CurrentState(handle)
	if !ok {
		return PlayerRef{}, false
	}
	return refFromState(st)
}

func refFromState(st *entity.State) (PlayerRef, bool) {
	acc, ok := st.AccountID()
	if !ok {
		return PlayerRef{}, false
	}
	ref := PlayerRef{AccountID: acc}
	if name, ok := st.Name(); ok {
		ref.Name = name
	}
	if code, ok := st.TeamCode(); ok {
		ref.TeamCode = code
	}
	return ref, true
}
