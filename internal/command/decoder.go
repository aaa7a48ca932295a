package command

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/annel0/cs2-demo-core/internal/format"
	"github.com/annel0/cs2-demo-core/internal/framing"
)

// ErrProtobuf - структурный сбой десериализации payload под известным
// тегом. Конвейер трактует его как повреждение отдельной записи.
var ErrProtobuf = errors.New("ошибка десериализации protobuf")

// Decoder декодирует записи по каталогу тегов выбранной версии формата.
type Decoder struct {
	tags *format.TagCatalog
}

// NewDecoder создаёт декодер для каталога тегов.
func NewDecoder(tags *format.TagCatalog) *Decoder {
	return &Decoder{tags: tags}
}

// Decode разбирает payload записи в команду.
// Для неизвестных тегов возвращает KindUnknown без ошибки.
func (d *Decoder) Decode(rec *framing.Record) (*Command, error) {
	kind := KindForTag(rec.Tag, d.tags)
	cmd := &Command{Kind: kind, Tag: rec.Tag}

	var err error
	switch kind {
	case KindSyncTick:
		cmd.SyncTick, err = decodeSyncTick(rec.Payload)
	case KindStringTable:
		cmd.Table, err = decodeStringTable(rec.Payload)
	case KindEventDescriptors:
		cmd.Descriptors, err = decodeDescriptors(rec.Payload)
	case KindGameEvent:
		cmd.Event, err = decodeGameEvent(rec.Payload)
	case KindEntityBaseline, KindEntityDelta:
		cmd.Entity, err = decodeEntityUpdate(rec.Payload)
	case KindUserCommand:
		cmd.User, err = decodeUserCommand(rec.Payload)
	case KindUnknown:
		// Пропускаем payload целиком.
	}
	if err != nil {
		return nil, fmt.Errorf("%w: тег %d: %v", ErrProtobuf, rec.Tag, err)
	}
	return cmd, nil
}

// walkFields обходит поля protobuf-сообщения, вызывая fn для каждого.
func walkFields(payload []byte, fn func(num protowire.Number, typ protowire.Type, data []byte) error) error {
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return protowire.ParseError(n)
		}
		payload = payload[n:]

		m := protowire.ConsumeFieldValue(num, typ, payload)
		if m < 0 {
			return protowire.ParseError(m)
		}
		if err := fn(num, typ, payload[:m]); err != nil {
			return err
		}
		payload = payload[m:]
	}
	return nil
}

func consumeVarint(data []byte) (uint64, error) {
	v, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return v, nil
}

func consumeBytes(data []byte) ([]byte, error) {
	b, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	return b, nil
}

func consumeFixed32(data []byte) (uint32, error) {
	v, n := protowire.ConsumeFixed32(data)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return v, nil
}

func decodeSyncTick(payload []byte) (*SyncTick, error) {
	st := &SyncTick{}
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, data []byte) error {
		if num == 1 && typ == protowire.VarintType {
			v, err := consumeVarint(data)
			if err != nil {
				return err
			}
			st.Tick = uint32(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

func decodeStringTable(payload []byte) (*StringTable, error) {
	table := &StringTable{Entries: make(map[uint32]string)}
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, data []byte) error {
		switch {
		case num == 1 && typ == protowire.BytesType:
			b, err := consumeBytes(data)
			if err != nil {
				return err
			}
			table.Name = string(b)
		case num == 2 && typ == protowire.BytesType:
			b, err := consumeBytes(data)
			if err != nil {
				return err
			}
			id, value, err := decodeTableEntry(b)
			if err != nil {
				return err
			}
			table.Entries[id] = value
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return table, nil
}

func decodeTableEntry(payload []byte) (uint32, string, error) {
	var id uint32
	var value string
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, data []byte) error {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, err := consumeVarint(data)
			if err != nil {
				return err
			}
			id = uint32(v)
		case num == 2 && typ == protowire.BytesType:
			b, err := consumeBytes(data)
			if err != nil {
				return err
			}
			value = string(b)
		}
		return nil
	})
	return id, value, err
}

func decodeDescriptors(payload []byte) (*EventDescriptors, error) {
	ds := &EventDescriptors{}
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, data []byte) error {
		if num != 1 || typ != protowire.BytesType {
			return nil
		}
		b, err := consumeBytes(data)
		if err != nil {
			return err
		}
		id, name, err := decodeTableEntry(b)
		if err != nil {
			return err
		}
		ds.Descriptors = append(ds.Descriptors, EventDescriptor{ID: id, Name: name})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ds, nil
}

func decodeGameEvent(payload []byte) (*GameEvent, error) {
	ev := &GameEvent{}
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, data []byte) error {
		switch {
		case typ == protowire.VarintType:
			v, err := consumeVarint(data)
			if err != nil {
				return err
			}
			switch num {
			case 1:
				ev.DescriptorID = uint32(v)
			case 2:
				ev.Tick = uint32(v)
			case 3:
				ev.EntityA = uint32(v)
			case 4:
				ev.EntityB = uint32(v)
			case 5:
				ev.ValueA = v
			case 6:
				ev.ValueB = v
			case 7:
				ev.Flag = v != 0
			}
		case typ == protowire.BytesType && num == 8:
			b, err := consumeBytes(data)
			if err != nil {
				return err
			}
			ev.Str = string(b)
		case typ == protowire.Fixed32Type && num >= 9 && num <= 11:
			v, err := consumeFixed32(data)
			if err != nil {
				return err
			}
			f := math.Float32frombits(v)
			switch num {
			case 9:
				ev.PosX = f
			case 10:
				ev.PosY = f
			case 11:
				ev.PosZ = f
			}
			ev.HasPos = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeEntityUpdate(payload []byte) (*EntityUpdate, error) {
	u := &EntityUpdate{Fields: make(map[uint32]FieldValue)}
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, data []byte) error {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, err := consumeVarint(data)
			if err != nil {
				return err
			}
			u.Handle = uint32(v)
		case num == 2 && typ == protowire.BytesType:
			b, err := consumeBytes(data)
			if err != nil {
				return err
			}
			id, fv, err := decodeEntityField(b)
			if err != nil {
				return err
			}
			u.Fields[id] = fv
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func decodeEntityField(payload []byte) (uint32, FieldValue, error) {
	var id uint32
	var fv FieldValue
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, data []byte) error {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, err := consumeVarint(data)
			if err != nil {
				return err
			}
			id = uint32(v)
		case num == 2 && typ == protowire.VarintType:
			v, err := consumeVarint(data)
			if err != nil {
				return err
			}
			fv = FieldValue{Kind: FieldUint, U: v}
		case num == 3 && typ == protowire.Fixed32Type:
			v, err := consumeFixed32(data)
			if err != nil {
				return err
			}
			fv = FieldValue{Kind: FieldFloat, F: math.Float32frombits(v)}
		case num == 4 && typ == protowire.BytesType:
			b, err := consumeBytes(data)
			if err != nil {
				return err
			}
			fv = FieldValue{Kind: FieldString, S: string(b)}
		}
		return nil
	})
	return id, fv, err
}

func decodeUserCommand(payload []byte) (*UserCommand, error) {
	uc := &UserCommand{}
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, data []byte) error {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, err := consumeVarint(data)
			if err != nil {
				return err
			}
			uc.Tick = uint32(v)
		case num == 2 && typ == protowire.BytesType:
			b, err := consumeBytes(data)
			if err != nil {
				return err
			}
			uc.Text = string(b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return uc, nil
}
