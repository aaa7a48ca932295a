package demcore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/cs2-demo-core/events"
)

// buildMultiRoundDemo - демо с тремя раундами и четырьмя игроками
// (по два на сторону), с клатчами, MVP и событиями бомбы.
func buildMultiRoundDemo() []byte {
	b := newDemoBuilder(2, "de_mirage", "match server", 200000, 3125.0)
	b.record(tagEventDescriptors, pbDescriptors(testDescriptors))
	b.record(tagEntityBaseline, playerBaseline(10, "t1", "alpha", 2))
	b.record(tagEntityBaseline, playerBaseline(11, "t2", "bravo", 2))
	b.record(tagEntityBaseline, playerBaseline(20, "ct1", "charlie", 3))
	b.record(tagEntityBaseline, playerBaseline(21, "ct2", "delta", 3))

	// Раунд 1: T выносят CT, у второго CT короткий неуспешный клатч.
	b.record(tagSyncTick, pbSyncTick(900))
	b.record(tagGameEvent, pbEvent{descriptor: 2, tick: 1000}.encode())
	b.record(tagGameEvent, pbEvent{descriptor: 1, tick: 1100, entityA: 10, entityB: 20, str: "m4a1"}.encode())
	b.record(tagGameEvent, pbEvent{descriptor: 1, tick: 1200, entityA: 11, entityB: 21, flag: true, str: "ak47"}.encode())
	b.record(tagGameEvent, pbEvent{descriptor: 3, tick: 1300, valueA: 2, valueB: 1}.encode())
	b.record(tagGameEvent, pbEvent{descriptor: 4, tick: 1300, entityA: 10}.encode()) // MVP alpha

	// Раунд 2: бомба установлена, CT отыгрываются.
	b.record(tagGameEvent, pbEvent{descriptor: 2, tick: 2000}.encode())
	b.record(tagGameEvent, pbEvent{descriptor: 5, tick: 2100, entityA: 10}.encode()) // bomb_planted
	b.record(tagGameEvent, pbEvent{descriptor: 1, tick: 2200, entityA: 20, entityB: 10, flag: true, str: "awp"}.encode())
	b.record(tagGameEvent, pbEvent{descriptor: 6, tick: 2250, entityA: 21}.encode()) // bomb_defused
	b.record(tagGameEvent, pbEvent{descriptor: 1, tick: 2300, entityA: 21, entityB: 11, str: "usp"}.encode())
	b.record(tagGameEvent, pbEvent{descriptor: 3, tick: 2400, valueA: 3, valueB: 3}.encode())
	b.record(tagGameEvent, pbEvent{descriptor: 4, tick: 2400, entityA: 21}.encode()) // MVP delta

	// Раунд 3: одно убийство, победа T по времени.
	b.record(tagGameEvent, pbEvent{descriptor: 2, tick: 3000}.encode())
	b.record(tagGameEvent, pbEvent{descriptor: 1, tick: 3100, entityA: 10, entityB: 20, flag: true, str: "deagle"}.encode())
	b.record(tagGameEvent, pbEvent{descriptor: 3, tick: 3200, valueA: 2, valueB: 4}.encode())

	b.record(tagSyncTick, pbSyncTick(3300))
	return b.stop()
}

func TestParseSingleRound(t *testing.T) {
	parser := New()
	out, err := parser.ParseBytes(buildSingleRoundDemo())
	require.NoError(t, err, "валидное демо должно разбираться без ошибки")
	require.NotNil(t, out)

	// Метаданные из заголовка.
	assert.Equal(t, "2", out.Metadata.Version)
	assert.Equal(t, "de_dust2", out.Metadata.Map)
	assert.Equal(t, "test server", out.Metadata.Server)
	assert.Equal(t, uint32(10000), out.Metadata.Ticks)
	assert.InDelta(t, 156.25, out.Metadata.Duration, 0.001)
	assert.Equal(t, "2023-11-14T22:13:20Z", out.Metadata.StartTime)
	assert.False(t, out.Metadata.Incomplete)

	// Единственное убийство в голову.
	require.Len(t, out.Kills, 1)
	kill := out.Kills[0]
	assert.Equal(t, "7656119000000001", kill.Killer)
	assert.Equal(t, "7656119000000002", kill.Victim)
	assert.Equal(t, "ak47", kill.Weapon)
	assert.True(t, kill.Headshot)
	assert.Equal(t, 1, kill.Round)
	assert.Equal(t, uint32(1500), kill.Tick)
	require.NotNil(t, kill.VictimPos)
	assert.InDelta(t, 100.0, kill.VictimPos.X, 0.001)

	require.Len(t, out.Headshots, 1)
	assert.Equal(t, kill.Killer, out.Headshots[0].Shooter)

	// Раунд 1v1 открывает клатч для единственного террориста,
	// победа его стороны делает клатч успешным.
	require.Len(t, out.Clutches, 1)
	clutch := out.Clutches[0]
	assert.Equal(t, "7656119000000001", clutch.Player)
	assert.Equal(t, events.TeamTerrorist, clutch.Side)
	assert.Equal(t, 1, clutch.Enemies)
	assert.True(t, clutch.Successful)
	assert.Equal(t, 1, clutch.Round)

	require.Len(t, out.Rounds, 1)
	round := out.Rounds[0]
	assert.Equal(t, 1, round.Number)
	assert.Equal(t, events.TeamTerrorist, round.Winner)
	assert.Equal(t, 1, round.TScore)
	assert.Equal(t, 0, round.CTScore)
	assert.Equal(t, uint32(1000), round.StartTick)
	assert.Equal(t, uint32(2000), round.EndTick)
	assert.Equal(t, 1, round.TotalKills)
	assert.Equal(t, events.WinElimination, round.WinCondition)

	// Статистика игроков.
	hero, ok := out.GetPlayerStats("7656119000000001")
	require.True(t, ok)
	assert.Equal(t, "t_hero", hero.Name)
	assert.Equal(t, 1, hero.Kills)
	assert.Equal(t, 0, hero.Deaths)
	assert.Equal(t, 2, hero.Score)
	assert.InDelta(t, 1.0, hero.KDR, 0.001)
	assert.InDelta(t, 100.0, hero.HeadshotPct, 0.001)

	victim, ok := out.GetPlayerStats("7656119000000002")
	require.True(t, ok)
	assert.Equal(t, 1, victim.Deaths)

	// Итоговая статистика.
	assert.Equal(t, 1, out.Stats.TotalKills)
	assert.Equal(t, 1, out.Stats.TotalHeadshots)
	assert.Equal(t, 1, out.Stats.TotalRounds)
	assert.Equal(t, 1, out.Stats.FinalTScore)
	assert.Equal(t, 0, out.Stats.FinalCTScore)
	assert.InDelta(t, 100.0, out.Stats.HeadshotPct, 0.001)
	assert.Empty(t, out.Warnings)
}

func TestParseMultiRoundInvariants(t *testing.T) {
	parser := New()
	out, err := parser.ParseBytes(buildMultiRoundDemo())
	require.NoError(t, err)

	// Номера раундов непрерывны и начинаются с 1.
	require.Len(t, out.Rounds, 3)
	for i, r := range out.Rounds {
		assert.Equal(t, i+1, r.Number, "номера раундов должны идти подряд")
	}

	// Каждое убийство лежит внутри границ своего раунда.
	for _, k := range out.Kills {
		r := out.Rounds[k.Round-1]
		assert.GreaterOrEqual(t, k.Tick, r.StartTick)
		assert.LessOrEqual(t, k.Tick, r.EndTick)
	}

	// Headshots - строгое подмножество Kills.
	hs := 0
	for _, k := range out.Kills {
		if k.Headshot {
			hs++
		}
	}
	assert.Equal(t, hs, len(out.Headshots))

	// Счёт и причины побед.
	assert.Equal(t, 2, out.Stats.FinalTScore)
	assert.Equal(t, 1, out.Stats.FinalCTScore)
	assert.Equal(t, events.WinElimination, out.Rounds[0].WinCondition)
	assert.Equal(t, events.WinBombDefused, out.Rounds[1].WinCondition)
	assert.Equal(t, events.WinTimeExpired, out.Rounds[2].WinCondition)

	// MVP и счёт очков: alpha - 2 убийства и 1 MVP.
	alpha, ok := out.GetPlayerStats("t1")
	require.True(t, ok)
	assert.Equal(t, 2, alpha.Kills)
	assert.Equal(t, 1, alpha.MVPs)
	assert.Equal(t, 5, alpha.Score)

	delta, ok := out.GetPlayerStats("ct2")
	require.True(t, ok)
	assert.Equal(t, 1, delta.MVPs)

	// Клатчи: в раундах 1 и 3 один CT остаётся против двух, в раунде 2 -
	// один T против двух. Все три неуспешны.
	require.Len(t, out.Clutches, 3)
	assert.Equal(t, "ct2", out.Clutches[0].Player)
	assert.Equal(t, events.TeamCounterTerrorist, out.Clutches[0].Side)
	assert.Equal(t, 2, out.Clutches[0].Enemies)
	assert.Equal(t, "t2", out.Clutches[1].Player)
	assert.Equal(t, events.TeamTerrorist, out.Clutches[1].Side)
	assert.Equal(t, "ct2", out.Clutches[2].Player)
	for _, c := range out.Clutches {
		assert.False(t, c.Successful)
	}

	assert.InDelta(t, 5.0/3.0, out.Stats.AvgKillsPerRound, 0.001)
}

func TestParseDeterministic(t *testing.T) {
	parser := New()
	data := buildMultiRoundDemo()

	first, err := parser.ParseBytes(data)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		next, err := parser.ParseBytes(data)
		require.NoError(t, err)
		assert.Equal(t, first, next, "повторный разбор должен давать идентичный результат")
	}
}

func TestPipelinedMatchesSequential(t *testing.T) {
	data := buildMultiRoundDemo()

	seq, err := New().ParseBytes(data)
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.PipelinedDemux = true
	pipelined, err := NewWithOptions(opts)
	require.NoError(t, err)
	pip, err := pipelined.ParseBytes(data)
	require.NoError(t, err)

	assert.Equal(t, seq, pip, "конвейерная демультиплексация не должна менять результат")
}

func TestParseBadMagic(t *testing.T) {
	data := []byte("NOTADEMO\x01\x00\x00\x00 and some trailing bytes")
	_, err := New().ParseBytes(data)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidFormat), "неверная сигнатура - фатальная ошибка формата, получено: %v", err)
}

func TestParseEmptyInput(t *testing.T) {
	_, err := New().ParseBytes(nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindEmptyFile))
}

func TestParseSizeLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxFileSize = 16
	parser, err := NewWithOptions(opts)
	require.NoError(t, err)

	_, err = parser.ParseBytes(buildSingleRoundDemo())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSizeLimit))
}

func TestParseFileNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "no_such.dem")
	_, err := New().ParseFile(path)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindFileNotFound))
	assert.Contains(t, err.Error(), path, "ошибка должна содержать исходный путь")

	// Каталог тоже не является демо-файлом.
	_, err = New().ParseFile(t.TempDir())
	assert.True(t, IsKind(err, KindFileNotFound))
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "match.dem")
	require.NoError(t, os.WriteFile(path, buildSingleRoundDemo(), 0644))

	out, err := New().ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "match.dem", out.Metadata.Filename)
	assert.Len(t, out.Kills, 1)
}

func TestParseTruncatedRecord(t *testing.T) {
	// Валидное демо без стоп-тега, оборванное посреди записи.
	b := newDemoBuilder(2, "de_dust2", "srv", 10000, 156.25)
	b.record(tagEventDescriptors, pbDescriptors(testDescriptors))
	b.record(tagEntityBaseline, playerBaseline(10, "t1", "alpha", 2))
	b.record(tagEntityBaseline, playerBaseline(20, "ct1", "charlie", 3))
	b.record(tagGameEvent, pbEvent{descriptor: 2, tick: 1000}.encode())
	b.record(tagGameEvent, pbEvent{descriptor: 1, tick: 1500, entityA: 10, entityB: 20, str: "glock"}.encode())
	data := b.bytes()
	// Обрыв: тег, флаги и длина на месте, payload короче заявленного.
	data = append(data, byte(tagGameEvent), 0x00, 0x40, 0xAA, 0xBB)

	out, err := New().ParseBytes(data)
	require.NoError(t, err, "обрыв записи - best-effort, не фатальная ошибка")
	assert.True(t, out.Metadata.Incomplete, "обрыв должен помечать выдачу неполной")
	assert.NotEmpty(t, out.Warnings)
	require.Len(t, out.Kills, 1, "события до обрыва должны сохраниться")
	require.Len(t, out.Rounds, 1, "незакрытый раунд финализируется наблюдёнными данными")
	assert.Equal(t, events.TeamNone, out.Rounds[0].Winner)
}

func TestParseCorruptedPayloadSkipped(t *testing.T) {
	b := newDemoBuilder(2, "de_dust2", "srv", 10000, 156.25)
	b.record(tagEventDescriptors, pbDescriptors(testDescriptors))
	b.record(tagEntityBaseline, playerBaseline(10, "t1", "alpha", 2))
	b.record(tagEntityBaseline, playerBaseline(20, "ct1", "charlie", 3))
	b.record(tagGameEvent, pbEvent{descriptor: 2, tick: 1000}.encode())
	// Мусор под известным тегом: запись пропускается, разбор идёт дальше.
	b.record(tagGameEvent, []byte{0xFF, 0xFF, 0xFF})
	b.record(tagGameEvent, pbEvent{descriptor: 1, tick: 1500, entityA: 10, entityB: 20, str: "glock"}.encode())
	b.record(tagGameEvent, pbEvent{descriptor: 3, tick: 2000, valueA: 2, valueB: 1}.encode())

	out, err := New().ParseBytes(b.stop())
	require.NoError(t, err)
	assert.NotEmpty(t, out.Warnings, "повреждённая запись должна оставить предупреждение")
	assert.False(t, out.Metadata.Incomplete)
	require.Len(t, out.Kills, 1, "события после повреждённой записи должны обработаться")
	require.Len(t, out.Rounds, 1)
	assert.Equal(t, events.TeamTerrorist, out.Rounds[0].Winner)
}

func TestParseDeltaWithoutBaseline(t *testing.T) {
	b := newDemoBuilder(2, "de_dust2", "srv", 10000, 156.25)
	b.record(tagEventDescriptors, pbDescriptors(testDescriptors))
	b.record(tagEntityBaseline, playerBaseline(10, "t1", "alpha", 2))
	b.record(tagGameEvent, pbEvent{descriptor: 2, tick: 1000}.encode())
	// Delta для сущности, у которой не было baseline: декодирование
	// останавливается, всё накопленное возвращается best-effort.
	b.record(tagEntityDelta, pbEntityUpdate(77, []pbField{{id: 5, typ: 'u', u: 50}}))
	b.record(tagGameEvent, pbEvent{descriptor: 3, tick: 2000, valueA: 2, valueB: 1}.encode())

	out, err := New().ParseBytes(b.stop())
	require.NoError(t, err)
	assert.True(t, out.Metadata.Incomplete)
	assert.NotEmpty(t, out.Warnings)
	require.Len(t, out.Rounds, 1)
	assert.Equal(t, events.TeamNone, out.Rounds[0].Winner,
		"round_end после остановки декодирования не должен обрабатываться")
}

func TestParseUnknownVersionWarns(t *testing.T) {
	data := newDemoBuilder(99, "de_dust2", "srv", 10000, 156.25).stop()

	out, err := New().ParseBytes(data)
	require.NoError(t, err, "неизвестная версия разбирается best-effort по последней схеме")
	assert.Equal(t, "99", out.Metadata.Version)
	require.NotEmpty(t, out.Warnings)
	assert.Contains(t, out.Warnings[0], "версия")
}

func TestParseUnknownTagSkipped(t *testing.T) {
	b := newDemoBuilder(2, "de_dust2", "test server", 10000, 156.25)
	// Тег за пределами каталога: пропускается молча, без предупреждений.
	b.record(9, []byte{0x01, 0x02, 0x03})
	b.record(tagEventDescriptors, pbDescriptors(testDescriptors))
	b.record(tagGameEvent, pbEvent{descriptor: 2, tick: 1000}.encode())
	b.record(tagGameEvent, pbEvent{descriptor: 3, tick: 2000, valueA: 2, valueB: 1}.encode())

	out, err := New().ParseBytes(b.stop())
	require.NoError(t, err)
	assert.Empty(t, out.Warnings)
	require.Len(t, out.Rounds, 1)
}

func TestParseRegistryFromStringTable(t *testing.T) {
	// Реестр событий может прийти строковой таблицей game_events
	// вместо пакета дескрипторов.
	b := newDemoBuilder(2, "de_train", "srv", 10000, 156.25)
	b.record(tagStringTable, pbStringTable("game_events", map[uint32]string{
		2: "round_start",
		3: "round_end",
	}))
	b.record(tagUserCommand, pbUserCommand(900, "say привет"))
	b.record(tagGameEvent, pbEvent{descriptor: 2, tick: 1000}.encode())
	b.record(tagGameEvent, pbEvent{descriptor: 3, tick: 2000, valueA: 3, valueB: 2}.encode())

	out, err := New().ParseBytes(b.stop())
	require.NoError(t, err)
	assert.Empty(t, out.Warnings)
	require.Len(t, out.Rounds, 1)
	assert.Equal(t, events.TeamCounterTerrorist, out.Rounds[0].Winner)
	assert.Equal(t, events.WinBombExploded, out.Rounds[0].WinCondition)
}

func TestParseCompressedRecords(t *testing.T) {
	b := newDemoBuilder(2, "de_dust2", "test server", 10000, 156.25)
	b.record(tagEventDescriptors, pbDescriptors(testDescriptors))
	b.compressedRecord(tagEntityBaseline, playerBaseline(10, "7656119000000001", "t_hero", 2))
	b.compressedRecord(tagEntityBaseline, playerBaseline(11, "7656119000000002", "ct_victim", 3))
	b.compressedRecord(tagGameEvent, pbEvent{descriptor: 2, tick: 1000}.encode())
	pos := [3]float32{100, 200, 50}
	b.compressedRecord(tagGameEvent, pbEvent{
		descriptor: 1, tick: 1500, entityA: 10, entityB: 11,
		flag: true, str: "ak47", pos: &pos,
	}.encode())
	b.compressedRecord(tagGameEvent, pbEvent{descriptor: 3, tick: 2000, valueA: 2, valueB: 1}.encode())

	compressed, err := New().ParseBytes(b.stop())
	require.NoError(t, err)
	plain, err := New().ParseBytes(buildSingleRoundDemo())
	require.NoError(t, err)

	assert.Equal(t, plain.Kills, compressed.Kills, "сжатие записей не должно влиять на результат")
	assert.Equal(t, plain.Rounds, compressed.Rounds)
	assert.Equal(t, plain.Clutches, compressed.Clutches)
}

func TestParseExtractionGates(t *testing.T) {
	opts := DefaultOptions()
	opts.ExtractKills = false
	opts.ExtractHeadshots = false
	opts.ExtractClutches = false
	opts.ExtractRounds = false
	opts.ExtractPlayers = false
	parser, err := NewWithOptions(opts)
	require.NoError(t, err)

	out, err := parser.ParseBytes(buildMultiRoundDemo())
	require.NoError(t, err)
	assert.Empty(t, out.Kills)
	assert.Empty(t, out.Headshots)
	assert.Empty(t, out.Clutches)
	assert.Empty(t, out.Rounds)
	assert.Empty(t, out.Players)
	assert.Equal(t, 0, out.Stats.TotalKills)
}

func TestParseContextCancelled(t *testing.T) {
	// Демо с большим числом записей, чтобы разбор не успел завершиться
	// до наблюдения отменённого контекста.
	b := newDemoBuilder(2, "de_dust2", "srv", 1000000, 15625.0)
	for i := uint32(0); i < 50000; i++ {
		b.record(tagSyncTick, pbSyncTick(i))
	}
	data := b.stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().ParseBytesContext(ctx, data)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindTimeout), "отмена контекста отображается в Timeout, получено: %v", err)
}

func TestParseTimeoutBudget(t *testing.T) {
	// Демо с большим числом записей, чтобы разбор заведомо не уложился
	// в урезанный бюджет времени.
	b := newDemoBuilder(2, "de_dust2", "srv", 1000000, 15625.0)
	for i := uint32(0); i < 200000; i++ {
		b.record(tagSyncTick, pbSyncTick(i))
	}
	data := b.stop()

	parser := New()
	parser.budget = time.Millisecond

	out, err := parser.ParseBytes(data)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindTimeout), "исчерпание бюджета отображается в Timeout, получено: %v", err)
	assert.Nil(t, out, "по таймауту частичные результаты отбрасываются")
}

func TestMetricsCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	parser := New()
	require.NoError(t, parser.EnableMetrics(reg))

	_, err := parser.ParseBytes(buildSingleRoundDemo())
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	byName := map[string]float64{}
	for _, mf := range families {
		if len(mf.GetMetric()) == 1 && mf.GetMetric()[0].GetCounter() != nil {
			byName[mf.GetName()] = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, 6.0, byName["demoparse_records_total"], "все записи тела должны учитываться")
	assert.Equal(t, 3.0, byName["demoparse_events_dispatched_total"])
	assert.Equal(t, 0.0, byName["demoparse_corrupted_records_total"])
}

func TestErrorKindHelpers(t *testing.T) {
	err := errFileNotFound("/tmp/x.dem")
	assert.True(t, IsKind(err, KindFileNotFound))
	assert.False(t, IsKind(err, KindInvalidFormat))
	assert.Contains(t, err.Error(), "/tmp/x.dem")
	assert.Equal(t, "FileNotFound", KindFileNotFound.String())
	assert.Equal(t, "InvalidFormat", KindInvalidFormat.String())

	wrapped := errIo(os.ErrPermission)
	assert.ErrorIs(t, wrapped, os.ErrPermission)
}
