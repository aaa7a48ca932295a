// Package extract превращает типизированные уведомления диспетчера в
// доменные записи (Kill, Headshot, Clutch, Round) и накапливает
// статистику игроков. Работает как конечный автомат по фазам раунда.
package extract

import (
	"github.com/annel0/cs2-demo-core/events"
	"github.com/annel0/cs2-demo-core/internal/entity"
	"github.com/annel0/cs2-demo-core/internal/gameevents"
)

// Фазы конечного автомата экстрактора.
type phase int

const (
	phaseNoActiveRound phase = iota
	phaseRoundInProgress
	phaseRoundEnding
)

// Очки за игровые действия.
const (
	scorePerKill = 2
	scorePerMVP  = 1
)

// killDamage - урон, засчитываемый за убийство. Отдельных событий
// урона в потоке нет, поэтому урон аппроксимируется полным запасом
// здоровья жертвы.
const killDamage = 100

// Options - гейты извлечения: выключенный гейт пропускает
// соответствующий выходной список, общий проход декодирования
// выполняется всегда.
type Options struct {
	Kills     bool
	Headshots bool
	Clutches  bool
	Rounds    bool
	Players   bool
}

// Extractor реализует gameevents.Sink.
type Extractor struct {
	opts Options
	out  *events.DemoEvents
	warn gameevents.WarnFunc

	// tickInterval - секунд на тик, из метаданных заголовка.
	tickInterval float64

	phase   phase
	curTick uint32

	// roster - последняя известная команда каждого игрока.
	roster map[string]events.Team

	// Состояние текущего раунда.
	roundCount int
	round      *events.Round
	aliveT     map[string]bool
	aliveCT    map[string]bool
	roundKills int
	openClutch *events.Clutch
	bombPlant  bool
	bombDefuse bool

	tScore  int
	ctScore int
}

// NewExtractor создаёт экстрактор, пишущий в out.
func NewExtractor(out *events.DemoEvents, opts Options, tickInterval float64, warn gameevents.WarnFunc) *Extractor {
	if tickInterval <= 0 {
		tickInterval = 1.0 / 64.0
	}
	return &Extractor{
		opts:         opts,
		out:          out,
		warn:         warn,
		tickInterval: tickInterval,
		phase:        phaseNoActiveRound,
		roster:       make(map[string]events.Team),
	}
}

// teamFromCode переводит код команды движка в доменную сторону.
func teamFromCode(code uint64) events.Team {
	switch code {
	case entity.TeamCodeTerrorist:
		return events.TeamTerrorist
	case entity.TeamCodeCounterTerrorist:
		return events.TeamCounterTerrorist
	default:
		return events.TeamNone
	}
}

// OnPlayerSeen регистрирует игрока. Игроки не удаляются до конца
// разбора, даже если отключились.
func (e *Extractor) OnPlayerSeen(ref gameevents.PlayerRef) {
	team := teamFromCode(ref.TeamCode)
	e.roster[ref.AccountID] = team

	p, ok := e.out.Players[ref.AccountID]
	if !ok {
		p = &events.Player{AccountID: ref.AccountID}
		e.out.Players[ref.AccountID] = p
	}
	if ref.Name != "" {
		p.Name = ref.Name
	}
	if team != events.TeamNone {
		p.Team = team
	}
}

// OnRoundStart открывает новый раунд и сбрасывает пораундовое состояние.
func (e *Extractor) OnRoundStart(tick uint32) {
	e.curTick = tick

	if e.phase == phaseRoundInProgress {
		// Предыдущий раунд не был закрыт явным round_end.
		e.warn("round_start на тике %d при незакрытом раунде %d", tick, e.round.Number)
		e.closeRound(gameevents.RoundEndInfo{Tick: tick})
	}

	e.roundCount++
	e.round = &events.Round{
		Number:       e.roundCount,
		StartTick:    tick,
		WinCondition: events.WinUnknown,
	}

	e.aliveT = make(map[string]bool)
	e.aliveCT = make(map[string]bool)
	for acc, team := range e.roster {
		switch team {
		case events.TeamTerrorist:
			e.aliveT[acc] = true
		case events.TeamCounterTerrorist:
			e.aliveCT[acc] = true
		}
	}
	e.roundKills = 0
	e.openClutch = nil
	e.bombPlant = false
	e.bombDefuse = false
	e.phase = phaseRoundInProgress

	// Клатч-ситуация может существовать уже с начала раунда.
	e.checkClutch(tick)
}

// OnPlayerDeath фиксирует убийство и проверяет клатч-ситуацию.
func (e *Extractor) OnPlayerDeath(d gameevents.Death) {
	e.curTick = d.Tick
	e.OnPlayerSeen(d.Killer)
	e.OnPlayerSeen(d.Victim)

	if e.phase != phaseRoundInProgress {
		e.warn("player_death на тике %d вне активного раунда, пропущено", d.Tick)
		return
	}

	kill := events.Kill{
		Killer:   d.Killer.AccountID,
		Victim:   d.Victim.AccountID,
		Weapon:   d.Weapon,
		Headshot: d.Headshot,
		Round:    e.round.Number,
		Tick:     d.Tick,
	}
	if d.HasKillerPos {
		kill.KillerPos = &events.Position{X: d.KX, Y: d.KY, Z: d.KZ}
	}
	if d.HasVictimPos {
		kill.VictimPos = &events.Position{X: d.VX, Y: d.VY, Z: d.VZ}
	}
	if kill.KillerPos != nil && kill.VictimPos != nil {
		kill.Distance = kill.KillerPos.DistanceTo(*kill.VictimPos)
	}

	if e.opts.Kills {
		e.out.Kills = append(e.out.Kills, kill)
	}
	if d.Headshot && e.opts.Headshots {
		e.out.Headshots = append(e.out.Headshots, events.Headshot{
			Shooter:  kill.Killer,
			Target:   kill.Victim,
			Weapon:   kill.Weapon,
			Round:    kill.Round,
			Tick:     kill.Tick,
			Distance: kill.Distance,
		})
	}
	e.roundKills++

	// Счётчики игроков.
	killer := e.out.Players[d.Killer.AccountID]
	victim := e.out.Players[d.Victim.AccountID]
	killer.Kills++
	killer.Score += scorePerKill
	killer.DamageDealt += killDamage
	victim.Deaths++
	victim.DamageTaken += killDamage

	// Учёт живых по сторонам.
	delete(e.aliveT, d.Victim.AccountID)
	delete(e.aliveCT, d.Victim.AccountID)
	e.checkClutch(d.Tick)
}

// checkClutch открывает предварительную запись клатча, когда на одной
// стороне остался ровно один игрок против непустой другой стороны.
func (e *Extractor) checkClutch(tick uint32) {
	if e.openClutch != nil {
		return
	}
	var lone string
	var side events.Team
	var enemies int
	switch {
	case len(e.aliveT) == 1 && len(e.aliveCT) > 0:
		for acc := range e.aliveT {
			lone = acc
		}
		side = events.TeamTerrorist
		enemies = len(e.aliveCT)
	case len(e.aliveCT) == 1 && len(e.aliveT) > 0:
		for acc := range e.aliveCT {
			lone = acc
		}
		side = events.TeamCounterTerrorist
		enemies = len(e.aliveT)
	default:
		return
	}
	e.openClutch = &events.Clutch{
		Player:    lone,
		Side:      side,
		Enemies:   enemies,
		Round:     e.round.Number,
		StartTick: tick,
	}
}

// OnRoundEnd закрывает раунд и разрешает открытый клатч.
func (e *Extractor) OnRoundEnd(info gameevents.RoundEndInfo) {
	e.curTick = info.Tick
	if e.phase != phaseRoundInProgress {
		e.warn("round_end на тике %d без активного раунда, пропущено", info.Tick)
		return
	}
	e.closeRound(info)
}

func (e *Extractor) closeRound(info gameevents.RoundEndInfo) {
	winner := teamFromCode(info.WinnerCode)
	switch winner {
	case events.TeamTerrorist:
		e.tScore++
	case events.TeamCounterTerrorist:
		e.ctScore++
	}

	r := e.round
	r.Winner = winner
	r.TScore = e.tScore
	r.CTScore = e.ctScore
	r.EndTick = info.Tick
	r.Duration = float32(float64(info.Tick-r.StartTick) * e.tickInterval)
	r.TotalKills = e.roundKills
	r.WinCondition = e.winCondition(info.ReasonCode)

	if e.openClutch != nil {
		c := e.openClutch
		c.Successful = c.Side == winner
		c.EndTick = info.Tick
		c.Duration = float32(float64(info.Tick-c.StartTick) * e.tickInterval)
		if e.opts.Clutches {
			e.out.Clutches = append(e.out.Clutches, *c)
		}
		e.openClutch = nil
	}

	if e.opts.Rounds {
		e.out.Rounds = append(e.out.Rounds, *r)
	}
	e.round = nil
	e.phase = phaseRoundEnding
}

// winCondition определяет причину победы по коду причины и
// наблюдавшимся событиям бомбы.
func (e *Extractor) winCondition(reason uint64) events.WinCondition {
	switch reason {
	case 1:
		return events.WinElimination
	case 2:
		return events.WinBombExploded
	case 3:
		return events.WinBombDefused
	case 4:
		return events.WinTimeExpired
	case 5:
		return events.WinTargetSaved
	}
	// Код причины не передан - восстанавливаем по событиям бомбы.
	if e.bombDefuse {
		return events.WinBombDefused
	}
	if e.bombPlant {
		return events.WinBombExploded
	}
	return events.WinUnknown
}

// OnRoundMVP засчитывает MVP раунда.
func (e *Extractor) OnRoundMVP(tick uint32, player gameevents.PlayerRef) {
	e.curTick = tick
	e.OnPlayerSeen(player)
	p := e.out.Players[player.AccountID]
	p.MVPs++
	p.Score += scorePerMVP
}

// OnBombPlanted отмечает установку бомбы в текущем раунде.
func (e *Extractor) OnBombPlanted(tick uint32, player gameevents.PlayerRef) {
	e.curTick = tick
	e.OnPlayerSeen(player)
	e.bombPlant = true
}

// OnBombDefused отмечает обезвреживание бомбы в текущем раунде.
func (e *Extractor) OnBombDefused(tick uint32, player gameevents.PlayerRef) {
	e.curTick = tick
	e.OnPlayerSeen(player)
	e.bombDefuse = true
}

// OnSyncTick продвигает текущий тик потока.
func (e *Extractor) OnSyncTick(tick uint32) {
	if tick > e.curTick {
		e.curTick = tick
	}
}

// Finish закрывает извлечение на конце потока. Незавершённый раунд
// финализируется наблюдёнными данными и помечает выдачу неполной.
func (e *Extractor) Finish() {
	if e.phase == phaseRoundInProgress {
		e.warn("поток закончился при незакрытом раунде %d", e.round.Number)
		e.closeRound(gameevents.RoundEndInfo{Tick: e.curTick})
		e.out.Metadata.Incomplete = true
	}
	if !e.opts.Players {
		e.out.Players = make(map[string]*events.Player)
	}
}
