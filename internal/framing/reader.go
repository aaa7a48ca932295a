// Package framing разбивает тело демо на отдельные записи:
// [тег: varint][флаги: 1 байт][длина: varint][payload].
// Сжатые payload распаковываются zstd до передачи декодеру команд.
package framing

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// FlagCompressed - бит 0 флагов записи: payload сжат zstd.
const FlagCompressed = 0x01

// ErrCorrupted сигнализирует о повреждённой записи. Демультиплексор
// не угадывает смещения: последовательность останавливается на
// первой повреждённой записи.
var ErrCorrupted = errors.New("повреждённая запись")

// Record - одна запись тела демо с уже распакованным payload.
type Record struct {
	Tag        uint64
	Compressed bool
	Payload    []byte
	// Offset - смещение начала записи в исходном буфере, для диагностики.
	Offset int
}

// Reader последовательно читает записи из буфера.
// Не потокобезопасен: один Reader принадлежит одному проходу разбора.
type Reader struct {
	data    []byte
	pos     int
	stopTag uint64
	stopped bool
	dec     *zstd.Decoder
}

// NewReader создаёт Reader над телом демо начиная с offset.
// stopTag - тег записи-маркера конца потока.
func NewReader(data []byte, offset int, stopTag uint64) (*Reader, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("инициализация zstd: %w", err)
	}
	return &Reader{data: data, pos: offset, stopTag: stopTag, dec: dec}, nil
}

// Close освобождает ресурсы декомпрессора.
func (r *Reader) Close() {
	r.dec.Close()
}

// Next возвращает следующую запись.
// io.EOF - корректный конец потока (маркер или конец буфера).
// ErrCorrupted - обрезанная запись; дальнейшее чтение невозможно.
func (r *Reader) Next() (*Record, error) {
	if r.stopped || r.pos >= len(r.data) {
		return nil, io.EOF
	}

	start := r.pos
	tag, width := binary.Uvarint(r.data[r.pos:])
	if width <= 0 {
		return nil, fmt.Errorf("%w: нечитаемый тег на смещении %d", ErrCorrupted, start)
	}
	r.pos += width

	if tag == r.stopTag {
		r.stopped = true
		return nil, io.EOF
	}

	if r.pos >= len(r.data) {
		return nil, fmt.Errorf("%w: запись без флагов на смещении %d", ErrCorrupted, start)
	}
	flags := r.data[r.pos]
	r.pos++

	length, width := binary.Uvarint(r.data[r.pos:])
	if width <= 0 {
		return nil, fmt.Errorf("%w: нечитаемая длина на смещении %d", ErrCorrupted, start)
	}
	r.pos += width

	// Сравнение в uint64: int(length) может переполниться в отрицательное.
	if length > uint64(len(r.data)-r.pos) {
		// Заявленная длина выходит за буфер - обрезанная хвостовая запись.
		return nil, fmt.Errorf("%w: длина %d выходит за конец буфера (смещение %d)",
			ErrCorrupted, length, start)
	}

	payload := r.data[r.pos : r.pos+int(length)]
	r.pos += int(length)

	rec := &Record{Tag: tag, Offset: start}
	if flags&FlagCompressed != 0 {
		rec.Compressed = true
		inflated, err := r.dec.DecodeAll(payload, nil)
		if err != nil {
			return rec, fmt.Errorf("%w: распаковка payload (смещение %d): %v",
				ErrCorrupted, start, err)
		}
		rec.Payload = inflated
	} else {
		rec.Payload = payload
	}

	return rec, nil
}
