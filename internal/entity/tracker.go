// Package entity хранит авторитетную реконструкцию состояния всех
// живых игровых объектов по ходу демо. Сущности адресуются целыми
// хендлами в арену слотов; слоты переиспользуются после уничтожения
// сущности, сырых указателей между сущностями нет.
package entity

import (
	"errors"
	"fmt"

	"github.com/annel0/cs2-demo-core/internal/command"
)

// Известные идентификаторы полей сущностей.
// Каталог адресации полей версионируется вместе со схемой формата.
const (
	FieldEntityType uint32 = 1
	FieldAccountID  uint32 = 2
	FieldName       uint32 = 3
	FieldTeam       uint32 = 4
	FieldHealth     uint32 = 5
	FieldPosX       uint32 = 6
	FieldPosY       uint32 = 7
	FieldPosZ       uint32 = 8
)

// Тип сущности в поле FieldEntityType.
const (
	TypePlayer uint64 = 1
)

// Коды команд в поле FieldTeam.
const (
	TeamCodeTerrorist        uint64 = 2
	TeamCodeCounterTerrorist uint64 = 3
)

// ErrNoBaseline - delta применена к хендлу без предшествующего
// baseline. Нарушает инвариант, необходимый для всего последующего
// декодирования: вызывающий обязан остановить проход.
var ErrNoBaseline = errors.New("delta без baseline")

// State - текущие значения полей одной сущности.
type State struct {
	Handle uint32
	Fields map[uint32]command.FieldValue
}

// Tracker - арена состояний сущностей одного прохода разбора.
// Не потокобезопасен: принадлежит ровно одному ParserContext.
type Tracker struct {
	slots map[uint32]*State
	// byAccount - обратный индекс account id -> хендл игрока.
	byAccount map[string]uint32
}

// NewTracker создаёт пустой трекер.
func NewTracker() *Tracker {
	return &Tracker{
		slots:     make(map[uint32]*State),
		byAccount: make(map[string]uint32),
	}
}

// ApplyBaseline заменяет состояние сущности целиком (keyframe).
func (t *Tracker) ApplyBaseline(u *command.EntityUpdate) {
	st := &State{Handle: u.Handle, Fields: make(map[uint32]command.FieldValue, len(u.Fields))}
	for id, v := range u.Fields {
		st.Fields[id] = v
	}
	if prev, ok := t.slots[u.Handle]; ok {
		// Слот переиспользован - вычищаем старый обратный индекс.
		if acc, ok := prev.Fields[FieldAccountID]; ok {
			delete(t.byAccount, acc.S)
		}
	}
	t.slots[u.Handle] = st
	if acc, ok := st.Fields[FieldAccountID]; ok && acc.Kind == command.FieldString {
		t.byAccount[acc.S] = u.Handle
	}
}

// ApplyDelta изменяет только адресованные поля сущности.
func (t *Tracker) ApplyDelta(u *command.EntityUpdate) error {
	st, ok := t.slots[u.Handle]
	if !ok {
		return fmt.Errorf("%w: хендл %d", ErrNoBaseline, u.Handle)
	}
	for id, v := range u.Fields {
		st.Fields[id] = v
		if id == FieldAccountID && v.Kind == command.FieldString {
			t.byAccount[v.S] = u.Handle
		}
	}
	return nil
}

// CurrentState возвращает состояние сущности по хендлу.
func (t *Tracker) CurrentState(handle uint32) (*State, bool) {
	st, ok := t.slots[handle]
	return st, ok
}

// HandleByAccount возвращает хендл игрока по account id.
func (t *Tracker) HandleByAccount(accountID string) (uint32, bool) {
	h, ok := t.byAccount[accountID]
	return h, ok
}

// Len возвращает число отслеживаемых сущностей.
func (t *Tracker) Len() int {
	return len(t.slots)
}

// EachPlayer вызывает fn для каждой отслеживаемой сущности-игрока.
func (t *Tracker) EachPlayer(fn func(st *State)) {
	for _, handle := range t.byAccount {
		if st, ok := t.slots[handle]; ok && st.IsPlayer() {
			fn(st)
		}
	}
}

// Уточняющие выборки для разрешения ссылок диспетчером.

// AccountID возвращает account id сущности-игрока.
func (s *State) AccountID() (string, bool) {
	v, ok := s.Fields[FieldAccountID]
	if !ok || v.Kind != command.FieldString {
		return "", false
	}
	return v.S, true
}

// Name возвращает игровое имя сущности-игрока.
func (s *State) Name() (string, bool) {
	v, ok := s.Fields[FieldName]
	if !ok || v.Kind != command.FieldString {
		return "", false
	}
	return v.S, true
}

// TeamCode возвращает код команды сущности.
func (s *State) TeamCode() (uint64, bool) {
	v, ok := s.Fields[FieldTeam]
	if !ok || v.Kind != command.FieldUint {
		return 0, false
	}
	return v.U, true
}

// IsPlayer сообщает, является ли сущность игроком.
func (s *State) IsPlayer() bool {
	v, ok := s.Fields[FieldEntityType]
	return ok && v.Kind == command.FieldUint && v.U == TypePlayer
}

// Pos возвращает позицию сущности, если она известна.
func (s *State) Pos() (x, y, z float32, ok bool) {
	vx, okx := s.Fields[FieldPosX]
	vy, oky := s.Fields[FieldPosY]
	vz, okz := s.Fields[FieldPosZ]
	if !okx || !oky || !okz ||
		vx.Kind != command.FieldFloat || vy.Kind != command.FieldFloat || vz.Kind != command.FieldFloat {
		return 0, 0, 0, false
	}
	return vx.F, vy.F, vz.F, true
}
