package framing

import (
	"context"
	"io"
)

// Item - запись либо терминальная ошибка конвейерного чтения.
type Item struct {
	Record *Record
	Err    error
}

// Stream запускает чтение записей в отдельной горутине и отдаёт их
// через ограниченный канал. Продюсер блокируется на заполненном
// канале (backpressure), порядок записей не меняется - это чисто
// оптимизация пропускной способности.
//
// Канал закрывается после io.EOF или первой ошибки; ошибка
// доставляется последним элементом. Отмена контекста прекращает
// продюсера без дочитывания буфера.
func (r *Reader) Stream(ctx context.Context, capacity int) <-chan Item {
	if capacity <= 0 {
		capacity = 64
	}
	out := make(chan Item, capacity)

	go func() {
		defer close(out)
		for {
			rec, err := r.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				select {
				case out <- Item{Record: rec, Err: err}:
				case <-ctx.Done():
					return
				}
				if rec == nil {
					// Границы записи потеряны - поток остановлен.
					return
				}
				// Payload не распаковался, но границы целы - читаем дальше.
				continue
			}
			select {
			case out <- Item{Record: rec}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
