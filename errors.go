package demcore

import (
	"errors"
	"fmt"
)

// ErrorKind классифицирует ошибки разбора демо.
type ErrorKind int

const (
	// KindFileNotFound - путь не ведёт к читаемому файлу
	KindFileNotFound ErrorKind = iota + 1
	// KindInvalidFormat - неверная сигнатура или нечитаемый заголовок, фатально
	KindInvalidFormat
	// KindCorrupted - повреждение на уровне записи или delta сущности
	KindCorrupted
	// KindUnsupportedVersion - распознанная, но необслуживаемая версия схемы
	KindUnsupportedVersion
	// KindIo - ошибка ввода-вывода
	KindIo
	// KindProtobuf - сбой десериализации payload под известным тегом
	KindProtobuf
	// KindTimeout - превышен бюджет времени разбора
	KindTimeout
	// KindSizeLimit - входной буфер больше настроенного лимита
	KindSizeLimit
	// KindEmptyFile - пустой входной буфер
	KindEmptyFile
)

// String возвращает имя категории ошибки.
func (k ErrorKind) String() string {
	switch k {
	case KindFileNotFound:
		return "FileNotFound"
	case KindInvalidFormat:
		return "InvalidFormat"
	case KindCorrupted:
		return "Corrupted"
	case KindUnsupportedVersion:
		return "UnsupportedVersion"
	case KindIo:
		return "Io"
	case KindProtobuf:
		return "Protobuf"
	case KindTimeout:
		return "Timeout"
	case KindSizeLimit:
		return "SizeLimit"
	case KindEmptyFile:
		return "EmptyFile"
	default:
		return "Unknown"
	}
}

// DemoError - типизированная ошибка разбора. Вызывающий всегда
// получает либо полный DemoEvents, либо конкретный DemoError -
// никогда обезличенный сбой.
type DemoError struct {
	Kind    ErrorKind
	Message string
	// Path заполняется для KindFileNotFound.
	Path string
	// Version заполняется для KindUnsupportedVersion.
	Version string
	// Err - нижележащая причина (Io, Protobuf).
	Err error
}

// Error реализует error.
func (e *DemoError) Error() string {
	switch e.Kind {
	case KindFileNotFound:
		return fmt.Sprintf("демо-файл не найден: %s", e.Path)
	case KindUnsupportedVersion:
		return fmt.Sprintf("неподдерживаемая версия демо: %s", e.Version)
	}
	if e.Err != nil {
		if e.Message != "" {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap отдаёт нижележащую причину для errors.Is/As.
func (e *DemoError) Unwrap() error { return e.Err }

// IsKind сообщает, относится ли err к категории kind.
func IsKind(err error, kind ErrorKind) bool {
	var de *DemoError
	return errors.As(err, &de) && de.Kind == kind
}

func errFileNotFound(path string) *DemoError {
	return &DemoError{Kind: KindFileNotFound, Path: path}
}

func errInvalidFormat(message string) *DemoError {
	return &DemoError{Kind: KindInvalidFormat, Message: message}
}

func errTimeout(message string) *DemoError {
	return &DemoError{Kind: KindTimeout, Message: message}
}

func errSizeLimit(size, limit int64) *DemoError {
	return &DemoError{
		Kind:    KindSizeLimit,
		Message: fmt.Sprintf("размер входа %d байт превышает лимит %d", size, limit),
	}
}

func errEmptyFile() *DemoError {
	return &DemoError{Kind: KindEmptyFile, Message: "пустой входной буфер"}
}

func errIo(cause error) *DemoError {
	return &DemoError{Kind: KindIo, Err: cause}
}
