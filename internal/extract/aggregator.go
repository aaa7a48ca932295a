package extract

import "github.com/annel0/cs2-demo-core/events"

// Aggregate - чистая свёртка финализированных коллекций в итоговую
// статистику матча. Входные коллекции не изменяются; вызывается один
// раз после завершения извлечения.
func Aggregate(out *events.DemoEvents) {
	stats := events.MatchStats{
		TotalKills:     len(out.Kills),
		TotalHeadshots: len(out.Headshots),
		TotalRounds:    len(out.Rounds),
	}

	if len(out.Rounds) > 0 {
		last := out.Rounds[len(out.Rounds)-1]
		stats.FinalTScore = last.TScore
		stats.FinalCTScore = last.CTScore
		stats.AvgKillsPerRound = float32(stats.TotalKills) / float32(stats.TotalRounds)
	}
	if stats.TotalKills > 0 {
		stats.HeadshotPct = 100 * float32(stats.TotalHeadshots) / float32(stats.TotalKills)
	}
	stats.DurationMinutes = float64(out.Metadata.Duration) / 60.0

	// Производные показатели игроков.
	for _, p := range out.Players {
		if p.Deaths > 0 {
			p.KDR = float32(p.Kills) / float32(p.Deaths)
		} else {
			p.KDR = float32(p.Kills)
		}
		if p.Kills > 0 {
			hs := 0
			for _, k := range out.Kills {
				if k.Killer == p.AccountID && k.Headshot {
					hs++
				}
			}
			p.HeadshotPct = 100 * float32(hs) / float32(p.Kills)
		}
		if stats.TotalRounds > 0 {
			p.ADR = float32(p.DamageDealt) / float32(stats.TotalRounds)
		}
	}

	out.Stats = stats
}
