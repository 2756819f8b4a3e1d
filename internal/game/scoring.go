package game

import "triviarena/internal/rooms"

const (
	scoreBasePerDifficulty = 100
	timeBonusPerDifficulty = 50
	streakBonusStep        = 0.1
	streakBonusCap         = 10
)

// scoreAnswer computes the points for one answer. Incorrect answers earn
// zero. Correct answers earn more the less time was spent and the longer the
// player's current streak; the streak passed in is the one from before this
// answer was credited.
func scoreAnswer(cfg rooms.Config, timeSpent float64, streak int, correct bool) int {
	if !correct {
		return 0
	}
	if timeSpent < 0 {
		timeSpent = 0
	}
	limit := float64(cfg.TimePerQuestion)
	if timeSpent > limit {
		timeSpent = limit
	}

	base := float64(scoreBasePerDifficulty * cfg.MappedDifficulty)
	bonus := 0.0
	if limit > 0 {
		bonus = (limit - timeSpent) / limit * float64(timeBonusPerDifficulty*cfg.MappedDifficulty)
	}
	if streak > streakBonusCap {
		streak = streakBonusCap
	}
	multiplier := 1 + streakBonusStep*float64(streak)
	return int((base + bonus) * multiplier)
}
