// Package demcore - высокоуровневый парсер бинарных демо-записей
// матчей: декодирует версионированный дельта-кодированный поток кадров
// и извлекает таймлайн событий матча (убийства, раунды, клатчи,
// статистику игроков).
//
// Типовое использование:
//
//	parser := demcore.New()
//	evs, err := parser.ParseFile("match.dem")
//	if err != nil { ... }
//	fmt.Println(evs.Stats.TotalKills)
package demcore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/cs2-demo-core/events"
	"github.com/annel0/cs2-demo-core/internal/command"
	"github.com/annel0/cs2-demo-core/internal/entity"
	"github.com/annel0/cs2-demo-core/internal/extract"
	"github.com/annel0/cs2-demo-core/internal/format"
	"github.com/annel0/cs2-demo-core/internal/framing"
	"github.com/annel0/cs2-demo-core/internal/gameevents"
	"github.com/annel0/cs2-demo-core/internal/logging"
	"github.com/annel0/cs2-demo-core/internal/metrics"
)

// Parser разбирает демо-файлы. Безопасен для одновременного
// использования из нескольких горутин: каждый проход владеет
// собственным изолированным контекстом разбора.
type Parser struct {
	opts      ParseOptions
	schema    *format.Schema
	collector *metrics.Collector

	// budget - бюджет времени одного прохода; 0 отключает таймер.
	budget time.Duration
}

// New создаёт парсер с опциями по умолчанию и встроенным каталогом
// версий формата.
func New() *Parser {
	p, err := NewWithOptions(DefaultOptions())
	if err != nil {
		// Встроенный каталог версий валиден по построению.
		panic(fmt.Sprintf("demcore: встроенный каталог версий не загрузился: %v", err))
	}
	return p
}

// NewWithOptions создаёт парсер с указанными опциями.
// Ошибка возможна только при загрузке внешнего каталога версий.
func NewWithOptions(opts ParseOptions) (*Parser, error) {
	schema, err := format.LoadSchema(opts.SchemaPath)
	if err != nil {
		return nil, errIo(err)
	}
	return &Parser{opts: opts, schema: schema, budget: opts.timeout()}, nil
}

// EnableMetrics регистрирует Prometheus-метрики разбора в реестре reg
// и включает их сбор. reg == nil использует глобальный реестр.
func (p *Parser) EnableMetrics(reg prometheus.Registerer) error {
	c, err := metrics.NewCollector(reg)
	if err != nil {
		return err
	}
	p.collector = c
	return nil
}

// ParseFile читает файл и разбирает его содержимое.
// Возвращает FileNotFound до какой-либо проверки формата, если путь
// не ведёт к читаемому файлу; SizeLimit проверяется по метаданным
// файла до чтения содержимого.
func (p *Parser) ParseFile(path string) (*events.DemoEvents, error) {
	return p.ParseFileContext(context.Background(), path)
}

// ParseFileContext - вариант ParseFile с контекстом отмены.
func (p *Parser) ParseFileContext(ctx context.Context, path string) (*events.DemoEvents, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, errFileNotFound(path)
	}
	if p.opts.MaxFileSize > 0 && info.Size() > p.opts.MaxFileSize {
		return nil, errSizeLimit(info.Size(), p.opts.MaxFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errIo(err)
	}

	out, err := p.ParseBytesContext(ctx, data)
	if err != nil {
		return nil, err
	}
	out.Metadata.Filename = filepath.Base(path)
	return out, nil
}

// ParseBytes запускает полный конвейер над буфером в памяти.
func (p *Parser) ParseBytes(data []byte) (*events.DemoEvents, error) {
	return p.ParseBytesContext(context.Background(), data)
}

// ParseBytesContext - асинхронная граница разбора: сам проход
// декодирования синхронный и выполняется одной единицей работы на
// выделенной горутине; вызывающий наблюдает завершение, отмену
// контекста или таймаут. По таймауту/отмене частичные результаты
// отбрасываются целиком.
func (p *Parser) ParseBytesContext(ctx context.Context, data []byte) (*events.DemoEvents, error) {
	if len(data) == 0 {
		return nil, errEmptyFile()
	}
	if p.opts.MaxFileSize > 0 && int64(len(data)) > p.opts.MaxFileSize {
		return nil, errSizeLimit(int64(len(data)), p.opts.MaxFileSize)
	}

	type result struct {
		out *events.DemoEvents
		err error
	}
	done := make(chan result, 1)

	decodeCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		out, err := p.decode(decodeCtx, data)
		done <- result{out: out, err: err}
	}()

	var timeoutC <-chan time.Time
	if p.budget > 0 {
		timer := time.NewTimer(p.budget)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return nil, errTimeout(fmt.Sprintf("разбор отменён: %v", ctx.Err()))
	case <-timeoutC:
		return nil, errTimeout(fmt.Sprintf("бюджет времени %s исчерпан", p.budget))
	}
}

// parserContext - изменяемое состояние одного прохода разбора.
// Принадлежит ровно одному decode и не разделяется между проходами.
type parserContext struct {
	session      string
	out          *events.DemoEvents
	tracker      *entity.Tracker
	dispatcher   *gameevents.Dispatcher
	extractor    *extract.Extractor
	stringTables map[string]*command.StringTable
}

// decode - синхронный проход: байты -> валидация -> демультиплексация
// -> декодирование команд -> трекинг сущностей -> диспетчеризация ->
// извлечение -> агрегация. Записи обрабатываются строго в порядке
// потока: дельта-кадры осмысленны только относительно накопленного
// состояния.
func (p *Parser) decode(ctx context.Context, data []byte) (*events.DemoEvents, error) {
	start := time.Now()
	defer func() {
		p.collector.ObserveParse(time.Since(start))
	}()

	header, err := format.ParseHeader(data, p.schema)
	if err != nil {
		return nil, errInvalidFormat(err.Error())
	}

	out := events.NewDemoEvents()
	out.Metadata.Version = strconv.FormatUint(uint64(header.Version), 10)
	out.Metadata.Map = header.Map
	out.Metadata.Server = header.Server
	out.Metadata.Ticks = header.Ticks
	out.Metadata.Duration = header.Duration
	if header.HasStartTime && header.StartTime > 0 {
		out.Metadata.StartTime = time.Unix(header.StartTime, 0).UTC().Format(time.RFC3339)
	}

	pc := &parserContext{
		session:      uuid.NewString(),
		out:          out,
		tracker:      entity.NewTracker(),
		stringTables: make(map[string]*command.StringTable),
	}

	warn := func(formatStr string, args ...interface{}) {
		msg := fmt.Sprintf(formatStr, args...)
		out.Warnings = append(out.Warnings, msg)
		logging.LogWarn("[%s] %s", pc.session, msg)
	}

	if header.UnknownVersion {
		// Нефатально: формат эволюционирует совместимо, неизвестные
		// записи дальше по потоку пропускаются.
		warn("неподдерживаемая версия демо %d, разбор best-effort по схеме v%d",
			header.Version, header.Schema.Version)
	}

	tickInterval := 0.0
	if header.Ticks > 0 {
		tickInterval = float64(header.Duration) / float64(header.Ticks)
	}
	pc.extractor = extract.NewExtractor(out, extract.Options{
		Kills:     p.opts.ExtractKills,
		Headshots: p.opts.ExtractHeadshots,
		Clutches:  p.opts.ExtractClutches,
		Rounds:    p.opts.ExtractRounds,
		Players:   p.opts.ExtractPlayers,
	}, tickInterval, warn)
	pc.dispatcher = gameevents.NewDispatcher(pc.tracker, pc.extractor, warn)

	logging.LogInfo("[%s] разбор демо: %d байт, карта %q, версия %s",
		pc.session, len(data), header.Map, out.Metadata.Version)

	reader, err := framing.NewReader(data, header.BodyOffset, header.Schema.Tags.Stop)
	if err != nil {
		return nil, errIo(err)
	}
	defer reader.Close()

	decoder := command.NewDecoder(&header.Schema.Tags)

	if p.opts.PipelinedDemux {
		p.runPipelined(ctx, reader, decoder, pc, warn)
	} else {
		p.runSequential(reader, decoder, pc, warn)
	}

	pc.extractor.Finish()
	extract.Aggregate(out)

	logging.LogInfo("[%s] разбор завершён: %d раундов, %d убийств, %d предупреждений",
		pc.session, len(out.Rounds), len(out.Kills), len(out.Warnings))

	return out, nil
}

// runSequential - основной однопоточный цикл по записям.
func (p *Parser) runSequential(reader *framing.Reader, decoder *command.Decoder, pc *parserContext, warn gameevents.WarnFunc) {
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			p.collector.IncCorrupted()
			logging.LogCorruptedRecord(pc.session, err, nil)
			if rec != nil {
				// Payload не распаковался, но границы записи целы -
				// пропускаем только эту запись.
				warn("запись пропущена: %v", err)
				continue
			}
			// Демультиплексор не ресинхронизируется угадыванием
			// смещений: останавливаем последовательность.
			warn("демультиплексация остановлена: %v", err)
			pc.out.Metadata.Incomplete = true
			return
		}
		if !p.handleRecord(rec, decoder, pc, warn) {
			return
		}
	}
}

// runPipelined - тот же цикл, но чтение записей вынесено в горутину
// с ограниченной очередью (backpressure); порядок не меняется.
func (p *Parser) runPipelined(ctx context.Context, reader *framing.Reader, decoder *command.Decoder, pc *parserContext, warn gameevents.WarnFunc) {
	for item := range reader.Stream(ctx, p.opts.DemuxQueueSize) {
		if item.Err != nil {
			p.collector.IncCorrupted()
			logging.LogCorruptedRecord(pc.session, item.Err, nil)
			if item.Record != nil {
				warn("запись пропущена: %v", item.Err)
				continue
			}
			warn("демультиплексация остановлена: %v", item.Err)
			pc.out.Metadata.Incomplete = true
			return
		}
		if !p.handleRecord(item.Record, decoder, pc, warn) {
			return
		}
	}
}

// handleRecord декодирует и маршрутизирует одну запись.
// Возвращает false, когда декодирование должно остановиться.
func (p *Parser) handleRecord(rec *framing.Record, decoder *command.Decoder, pc *parserContext, warn gameevents.WarnFunc) bool {
	p.collector.IncRecords()
	logging.LogRecord(pc.session, rec.Tag, rec.Offset, rec.Payload)

	cmd, err := decoder.Decode(rec)
	if err != nil {
		// Сбой десериализации под известным тегом - повреждение
		// этой записи; пропускаем её и продолжаем.
		p.collector.IncCorrupted()
		logging.LogCorruptedRecord(pc.session, err, rec.Payload)
		warn("запись (тег %d, смещение %d) пропущена: %v", rec.Tag, rec.Offset, err)
		return true
	}

	switch cmd.Kind {
	case command.KindSyncTick:
		pc.extractor.OnSyncTick(cmd.SyncTick.Tick)
	case command.KindStringTable:
		pc.stringTables[cmd.Table.Name] = cmd.Table
		pc.dispatcher.RegisterStringTable(cmd.Table)
	case command.KindEventDescriptors:
		pc.dispatcher.RegisterDescriptors(cmd.Descriptors)
	case command.KindGameEvent:
		pc.dispatcher.Dispatch(cmd.Event)
		p.collector.IncDispatched()
	case command.KindEntityBaseline:
		pc.tracker.ApplyBaseline(cmd.Entity)
		pc.dispatcher.NotifyEntity(cmd.Entity.Handle)
	case command.KindEntityDelta:
		if err := pc.tracker.ApplyDelta(cmd.Entity); err != nil {
			// Delta без baseline ломает инвариант всего дальнейшего
			// декодирования: останавливаемся, возвращая накопленное.
			p.collector.IncCorrupted()
			warn("декодирование остановлено: %v", err)
			pc.out.Metadata.Incomplete = true
			return false
		}
		pc.dispatcher.NotifyEntity(cmd.Entity.Handle)
	case command.KindUserCommand:
		logging.LogTrace("[%s] user command на тике %d: %q",
			pc.session, cmd.User.Tick, cmd.User.Text)
	case command.KindUnknown:
		// Совместимость вперёд: неизвестные теги пропускаются молча.
		logging.LogTrace("[%s] неизвестный тег %d пропущен", pc.session, cmd.Tag)
	}
	return true
}
