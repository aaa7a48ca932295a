package demcore

import (
	"encoding/binary"
	"math"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"
)

// demoBuilder собирает синтетические демо-буферы для тестов.
type demoBuilder struct {
	buf []byte
}

func newDemoBuilder(version uint32, mapName, server string, ticks uint32, duration float32) *demoBuilder {
	b := &demoBuilder{}
	b.buf = append(b.buf, []byte("PBDEMS2\x00")...)
	b.buf = binary.LittleEndian.AppendUint32(b.buf, version)
	b.appendString(mapName)
	b.appendString(server)
	b.buf = binary.LittleEndian.AppendUint32(b.buf, ticks)
	b.buf = binary.LittleEndian.AppendUint32(b.buf, math.Float32bits(duration))
	if version >= 2 {
		b.buf = binary.LittleEndian.AppendUint64(b.buf, 1700000000) // start_time
	}
	return b
}

func (b *demoBuilder) appendString(s string) {
	b.buf = binary.AppendUvarint(b.buf, uint64(len(s)))
	b.buf = append(b.buf, s...)
}

// record добавляет запись тела: [tag][flags][len][payload].
func (b *demoBuilder) record(tag uint64, payload []byte) *demoBuilder {
	b.buf = binary.AppendUvarint(b.buf, tag)
	b.buf = append(b.buf, 0x00)
	b.buf = binary.AppendUvarint(b.buf, uint64(len(payload)))
	b.buf = append(b.buf, payload...)
	return b
}

// compressedRecord добавляет запись со сжатым zstd payload.
func (b *demoBuilder) compressedRecord(tag uint64, payload []byte) *demoBuilder {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		panic(err)
	}
	compressed := enc.EncodeAll(payload, nil)
	enc.Close()

	b.buf = binary.AppendUvarint(b.buf, tag)
	b.buf = append(b.buf, 0x01)
	b.buf = binary.AppendUvarint(b.buf, uint64(len(compressed)))
	b.buf = append(b.buf, compressed...)
	return b
}

func (b *demoBuilder) stop() []byte {
	b.buf = binary.AppendUvarint(b.buf, 0) // stop tag
	return b.buf
}

func (b *demoBuilder) bytes() []byte {
	return b.buf
}

// Кодировщики protobuf-payload команд (номера полей - как в декодере).

func pbSyncTick(tick uint32) []byte {
	var p []byte
	p = protowire.AppendTag(p, 1, protowire.VarintType)
	p = protowire.AppendVarint(p, uint64(tick))
	return p
}

func pbTableEntry(id uint32, value string) []byte {
	var e []byte
	e = protowire.AppendTag(e, 1, protowire.VarintType)
	e = protowire.AppendVarint(e, uint64(id))
	e = protowire.AppendTag(e, 2, protowire.BytesType)
	e = protowire.AppendBytes(e, []byte(value))
	return e
}

func pbDescriptors(entries map[uint32]string) []byte {
	var p []byte
	for id, name := range entries {
		p = protowire.AppendTag(p, 1, protowire.BytesType)
		p = protowire.AppendBytes(p, pbTableEntry(id, name))
	}
	return p
}

func pbStringTable(name string, entries map[uint32]string) []byte {
	var p []byte
	p = protowire.AppendTag(p, 1, protowire.BytesType)
	p = protowire.AppendBytes(p, []byte(name))
	for id, value := range entries {
		p = protowire.AppendTag(p, 2, protowire.BytesType)
		p = protowire.AppendBytes(p, pbTableEntry(id, value))
	}
	return p
}

func pbUserCommand(tick uint32, text string) []byte {
	var p []byte
	p = protowire.AppendTag(p, 1, protowire.VarintType)
	p = protowire.AppendVarint(p, uint64(tick))
	p = protowire.AppendTag(p, 2, protowire.BytesType)
	p = protowire.AppendBytes(p, []byte(text))
	return p
}

type pbEvent struct {
	descriptor uint32
	tick       uint32
	entityA    uint32
	entityB    uint32
	valueA     uint64
	valueB     uint64
	flag       bool
	str        string
	pos        *[3]float32
}

func (e pbEvent) encode() []byte {
	var p []byte
	p = protowire.AppendTag(p, 1, protowire.VarintType)
	p = protowire.AppendVarint(p, uint64(e.descriptor))
	p = protowire.AppendTag(p, 2, protowire.VarintType)
	p = protowire.AppendVarint(p, uint64(e.tick))
	if e.entityA != 0 {
		p = protowire.AppendTag(p, 3, protowire.VarintType)
		p = protowire.AppendVarint(p, uint64(e.entityA))
	}
	if e.entityB != 0 {
		p = protowire.AppendTag(p, 4, protowire.VarintType)
		p = protowire.AppendVarint(p, uint64(e.entityB))
	}
	if e.valueA != 0 {
		p = protowire.AppendTag(p, 5, protowire.VarintType)
		p = protowire.AppendVarint(p, e.valueA)
	}
	if e.valueB != 0 {
		p = protowire.AppendTag(p, 6, protowire.VarintType)
		p = protowire.AppendVarint(p, e.valueB)
	}
	if e.flag {
		p = protowire.AppendTag(p, 7, protowire.VarintType)
		p = protowire.AppendVarint(p, 1)
	}
	if e.str != "" {
		p = protowire.AppendTag(p, 8, protowire.BytesType)
		p = protowire.AppendBytes(p, []byte(e.str))
	}
	if e.pos != nil {
		for i, num := range []protowire.Number{9, 10, 11} {
			p = protowire.AppendTag(p, num, protowire.Fixed32Type)
			p = protowire.AppendFixed32(p, math.Float32bits(e.pos[i]))
		}
	}
	return p
}

type pbField struct {
	id  uint32
	u   uint64
	f   float32
	s   string
	typ byte // 'u', 'f', 's'
}

func pbEntityUpdate(handle uint32, fields []pbField) []byte {
	var p []byte
	p = protowire.AppendTag(p, 1, protowire.VarintType)
	p = protowire.AppendVarint(p, uint64(handle))
	for _, f := range fields {
		var fb []byte
		fb = protowire.AppendTag(fb, 1, protowire.VarintType)
		fb = protowire.AppendVarint(fb, uint64(f.id))
		switch f.typ {
		case 'u':
			fb = protowire.AppendTag(fb, 2, protowire.VarintType)
			fb = protowire.AppendVarint(fb, f.u)
		case 'f':
			fb = protowire.AppendTag(fb, 3, protowire.Fixed32Type)
			fb = protowire.AppendFixed32(fb, math.Float32bits(f.f))
		case 's':
			fb = protowire.AppendTag(fb, 4, protowire.BytesType)
			fb = protowire.AppendBytes(fb, []byte(f.s))
		}
		p = protowire.AppendTag(p, 2, protowire.BytesType)
		p = protowire.AppendBytes(p, fb)
	}
	return p
}

// playerBaseline кодирует baseline сущности-игрока.
func playerBaseline(handle uint32, accountID, name string, teamCode uint64) []byte {
	return pbEntityUpdate(handle, []pbField{
		{id: 1, typ: 'u', u: 1}, // FieldEntityType = TypePlayer
		{id: 2, typ: 's', s: accountID},
		{id: 3, typ: 's', s: name},
		{id: 4, typ: 'u', u: teamCode},
	})
}

// Стандартные теги записей схемы по умолчанию.
const (
	tagSyncTick         = 1
	tagStringTable      = 2
	tagEventDescriptors = 3
	tagGameEvent        = 4
	tagEntityBaseline   = 5
	tagEntityDelta      = 6
	tagUserCommand      = 7
)

// Дескрипторы событий, используемые во всех сценарных тестах.
var testDescriptors = map[uint32]string{
	1: "player_death",
	2: "round_start",
	3: "round_end",
	4: "round_mvp",
	5: "bomb_planted",
	6: "bomb_defused",
	7: "weapon_fire", // нераспознанное имя - должно отбрасываться молча
}

// buildSingleRoundDemo - демо с одним раундом: один террорист против
// одного контр-террориста, одно убийство в голову, победа T.
func buildSingleRoundDemo() []byte {
	b := newDemoBuilder(2, "de_dust2", "test server", 10000, 156.25)
	b.record(tagEventDescriptors, pbDescriptors(testDescriptors))
	b.record(tagEntityBaseline, playerBaseline(10, "7656119000000001", "t_hero", 2))
	b.record(tagEntityBaseline, playerBaseline(11, "7656119000000002", "ct_victim", 3))
	b.record(tagGameEvent, pbEvent{descriptor: 2, tick: 1000}.encode()) // round_start
	pos := [3]float32{100, 200, 50}
	b.record(tagGameEvent, pbEvent{
		descriptor: 1, tick: 1500,
		entityA: 10, entityB: 11,
		flag: true, str: "ak47", pos: &pos,
	}.encode()) // player_death, headshot
	b.record(tagGameEvent, pbEvent{descriptor: 3, tick: 2000, valueA: 2, valueB: 1}.encode()) // round_end, T, elimination
	return b.stop()
}
