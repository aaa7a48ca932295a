// Package events содержит публичную модель данных разобранного демо:
// убийства, раунды, клатчи, игроков и итоговую статистику матча.
package events

import (
	"math"
	"sort"
)

// Team представляет сторону в матче.
type Team string

const (
	// TeamTerrorist - сторона атаки
	TeamTerrorist Team = "T"
	// TeamCounterTerrorist - сторона защиты
	TeamCounterTerrorist Team = "CT"
	// TeamNone - сторона не определена (ничья, зритель)
	TeamNone Team = ""
)

// WinCondition описывает причину завершения раунда.
type WinCondition string

const (
	WinElimination  WinCondition = "elimination"
	WinBombExploded WinCondition = "bomb_exploded"
	WinBombDefused  WinCondition = "bomb_defused"
	WinTimeExpired  WinCondition = "time_expired"
	WinTargetSaved  WinCondition = "target_saved"
	WinUnknown      WinCondition = "unknown"
)

// DemoEvents агрегирует все извлечённые из демо события и статистику.
// Структура иммутабельна после завершения разбора.
type DemoEvents struct {
	Metadata  DemoMetadata       `json:"metadata"`
	Kills     []Kill             `json:"kills"`
	Headshots []Headshot         `json:"headshots"`
	Clutches  []Clutch           `json:"clutches"`
	Rounds    []Round            `json:"rounds"`
	Players   map[string]*Player `json:"players"`
	Stats     MatchStats         `json:"stats"`
	Warnings  []string           `json:"warnings,omitempty"`
}

// DemoMetadata содержит метаданные демо из заголовка файла.
type DemoMetadata struct {
	Filename  string  `json:"filename"`
	Version   string  `json:"version"`
	Map       string  `json:"map"`
	Server    string  `json:"server"`
	Duration  float32 `json:"duration"` // секунды
	Ticks     uint32  `json:"ticks"`
	StartTime string  `json:"start_time,omitempty"`
	// Incomplete выставляется, если поток оборвался до конца матча
	// или декодирование было остановлено из-за нарушения инварианта.
	Incomplete bool `json:"incomplete,omitempty"`
}

// Position - трёхмерная позиция в координатах движка.
type Position struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// DistanceTo возвращает евклидово расстояние до другой позиции.
func (p Position) DistanceTo(other Position) float32 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	dz := p.Z - other.Z
	return float32(math.Sqrt(float64(dx*dx + dy*dy + dz*dz)))
}

// Kill - событие убийства.
type Kill struct {
	Killer    string    `json:"killer"` // account id убийцы
	Victim    string    `json:"victim"` // account id жертвы
	Weapon    string    `json:"weapon"`
	Headshot  bool      `json:"headshot"`
	Round     int       `json:"round"`
	Tick      uint32    `json:"tick"`
	KillerPos *Position `json:"killer_pos,omitempty"`
	VictimPos *Position `json:"victim_pos,omitempty"`
	Distance  float32   `json:"distance,omitempty"`
}

// Headshot - убийство в голову, продублированное отдельной записью.
// Всегда строгое подмножество Kills с Headshot=true.
type Headshot struct {
	Shooter  string  `json:"shooter"`
	Target   string  `json:"target"`
	Weapon   string  `json:"weapon"`
	Round    int     `json:"round"`
	Tick     uint32  `json:"tick"`
	Distance float32 `json:"distance,omitempty"`
}

// Clutch - ситуация 1vX: один игрок против нескольких противников.
type Clutch struct {
	Player     string  `json:"player"`
	Side       Team    `json:"side"`
	Enemies    int     `json:"enemies"`
	Successful bool    `json:"successful"`
	Round      int     `json:"round"`
	StartTick  uint32  `json:"start_tick"`
	EndTick    uint32  `json:"end_tick"`
	Duration   float32 `json:"duration"` // секунды
}

// Round - информация о сыгранном раунде.
type Round struct {
	Number       int          `json:"number"`
	Winner       Team         `json:"winner"`
	TScore       int          `json:"t_score"`
	CTScore      int          `json:"ct_score"`
	Duration     float32      `json:"duration"` // секунды
	StartTick    uint32       `json:"start_tick"`
	EndTick      uint32       `json:"end_tick"`
	TotalKills   int          `json:"total_kills"`
	WinCondition WinCondition `json:"win_condition"`
}

// Player - накопленная статистика игрока за матч.
// Ключ идентичности - account id платформы; игрок не удаляется
// из выдачи даже после отключения от сервера.
type Player struct {
	AccountID   string  `json:"account_id"`
	Name        string  `json:"name"`
	Team        Team    `json:"team"`
	Kills       int     `json:"kills"`
	Deaths      int     `json:"deaths"`
	Assists     int     `json:"assists"`
	DamageDealt int     `json:"damage_dealt"`
	DamageTaken int     `json:"damage_taken"`
	MVPs        int     `json:"mvps"`
	Score       int     `json:"score"`
	HeadshotPct float32 `json:"headshot_percentage"`
	ADR         float32 `json:"adr"`
	KDR         float32 `json:"kdr"`
}

// MatchStats - итоговая статистика матча, вычисляется один раз
// после завершения извлечения.
type MatchStats struct {
	DurationMinutes  float64 `json:"duration_minutes"`
	TotalKills       int     `json:"total_kills"`
	TotalHeadshots   int     `json:"total_headshots"`
	TotalRounds      int     `json:"total_rounds"`
	FinalTScore      int     `json:"final_t_score"`
	FinalCTScore     int     `json:"final_ct_score"`
	AvgKillsPerRound float32 `json:"avg_kills_per_round"`
	HeadshotPct      float32 `json:"headshot_percentage"`
}

// NewDemoEvents создаёт пустой контейнер событий.
func NewDemoEvents() *DemoEvents {
	return &DemoEvents{
		Kills:     make([]Kill, 0),
		Headshots: make([]Headshot, 0),
		Clutches:  make([]Clutch, 0),
		Rounds:    make([]Round, 0),
		Players:   make(map[string]*Player),
	}
}

// TimelineEvent - любое событие, привязанное к тику.
type TimelineEvent interface {
	EventTick() uint32
}

// EventTick реализует TimelineEvent
func (k Kill) EventTick() uint32 { return k.Tick }

// EventTick реализует TimelineEvent
func (h Headshot) EventTick() uint32 { return h.Tick }

// EventTick реализует TimelineEvent
func (c Clutch) EventTick() uint32 { return c.StartTick }

// EventTick реализует TimelineEvent
func (r Round) EventTick() uint32 { return r.StartTick }

// AllEvents возвращает все события в хронологическом порядке.
func (d *DemoEvents) AllEvents() []TimelineEvent {
	all := make([]TimelineEvent, 0, len(d.Kills)+len(d.Headshots)+len(d.Clutches)+len(d.Rounds))
	for _, k := range d.Kills {
		all = append(all, k)
	}
	for _, h := range d.Headshots {
		all = append(all, h)
	}
	for _, c := range d.Clutches {
		all = append(all, c)
	}
	for _, r := range d.Rounds {
		all = append(all, r)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].EventTick() < all[j].EventTick()
	})
	return all
}

// EventsForRound возвращает события указанного раунда.
func (d *DemoEvents) EventsForRound(number int) []TimelineEvent {
	var out []TimelineEvent
	for _, ev := range d.AllEvents() {
		switch e := ev.(type) {
		case Kill:
			if e.Round == number {
				out = append(out, e)
			}
		case Headshot:
			if e.Round == number {
				out = append(out, e)
			}
		case Clutch:
			if e.Round == number {
				out = append(out, e)
			}
		case Round:
			if e.Number == number {
				out = append(out, e)
			}
		}
	}
	return out
}

// GetPlayerStats возвращает статистику игрока по account id.
func (d *DemoEvents) GetPlayerStats(accountID string) (*Player, bool) {
	p, ok := d.Players[accountID]
	return p, ok
}

// TopFraggers возвращает игроков с наибольшим числом убийств.
func (d *DemoEvents) TopFraggers(limit int) []*Player {
	players := make([]*Player, 0, len(d.Players))
	for _, p := range d.Players {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].Kills != players[j].Kills {
			return players[i].Kills > players[j].Kills
		}
		return players[i].AccountID < players[j].AccountID
	})
	if limit > 0 && len(players) > limit {
		players = players[:limit]
	}
	return players
}
