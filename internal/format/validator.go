package format

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Magic - фиксированная сигнатура формата в начале файла.
var Magic = []byte("PBDEMS2\x00")

// Ошибки уровня заголовка. Оба условия фатальны для разбора.
var (
	ErrBadMagic        = errors.New("неверная сигнатура демо-файла")
	ErrTruncatedHeader = errors.New("заголовок обрезан")
)

// Header - результат разбора заголовка демо.
type Header struct {
	Version      uint32
	Map          string
	Server       string
	Ticks        uint32
	Duration     float32
	StartTime    int64
	HasStartTime bool

	// BodyOffset - смещение первой записи тела.
	BodyOffset int
	// Schema - раскладка выбранной версии.
	Schema *VersionSchema
	// UnknownVersion выставляется, когда версия не из каталога:
	// разбор продолжается best-effort по самой новой известной схеме.
	UnknownVersion bool
}

// ParseHeader проверяет сигнатуру и разбирает заголовок по каталогу версий.
func ParseHeader(data []byte, schema *Schema) (*Header, error) {
	if len(data) < len(Magic)+4 {
		return nil, ErrTruncatedHeader
	}
	for i, b := range Magic {
		if data[i] != b {
			return nil, ErrBadMagic
		}
	}

	h := &Header{}
	pos := len(Magic)
	h.Version = binary.LittleEndian.Uint32(data[pos:])
	pos += 4

	vs, ok := schema.Lookup(h.Version)
	if !ok {
		vs = schema.Latest()
		h.UnknownVersion = true
	}
	h.Schema = vs

	for _, field := range vs.Header {
		var err error
		switch field {
		case "map":
			h.Map, pos, err = readString(data, pos)
		case "server":
			h.Server, pos, err = readString(data, pos)
		case "ticks":
			h.Ticks, pos, err = readUint32(data, pos)
		case "duration":
			var bits uint32
			bits, pos, err = readUint32(data, pos)
			h.Duration = math.Float32frombits(bits)
		case "start_time":
			if pos+8 > len(data) {
				err = ErrTruncatedHeader
				break
			}
			h.StartTime = int64(binary.LittleEndian.Uint64(data[pos:]))
			h.HasStartTime = true
			pos += 8
		default:
			err = fmt.Errorf("неизвестное поле заголовка %q", field)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: поле %s", ErrTruncatedHeader, field)
		}
	}

	h.BodyOffset = pos
	return h, nil
}

// readString читает строку с uvarint-префиксом длины.
func readString(data []byte, pos int) (string, int, error) {
	n, width := binary.Uvarint(data[pos:])
	if width <= 0 {
		return "", pos, ErrTruncatedHeader
	}
	pos += width
	if n > uint64(len(data)-pos) {
		return "", pos, ErrTruncatedHeader
	}
	return string(data[pos : pos+int(n)]), pos + int(n), nil
}

func readUint32(data []byte, pos int) (uint32, int, error) {
	if pos+4 > len(data) {
		return 0, pos, ErrTruncatedHeader
	}
	return binary.LittleEndian.Uint32(data[pos:]), pos + 4, nil
}
