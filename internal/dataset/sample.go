package dataset

import (
	"math"
	"math/rand"
	"time"
)

// WriteSampleBars seeds the cache with deterministic synthetic daily bars for
// demo runs: a seeded random walk per symbol, weekdays only. The same seed
// always produces the same dataset.
func WriteSampleBars(cache *Cache, symbols []string, days int, seed int64) error {
	rng := rand.New(rand.NewSource(seed))
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, sym := range symbols {
		price := 50 + rng.Float64()*150
		drift := (rng.Float64() - 0.45) * 0.001
		vol := 0.01 + rng.Float64()*0.02
		baseVolume := 1e6 * math.Exp(rng.Float64()*3)

		bars := make([]Bar, 0, days)
		day := start
		for len(bars) < days {
			if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
				ret := drift + vol*rng.NormFloat64()
				bars = append(bars, Bar{
					Time:   day,
					Return: ret,
					Volume: baseVolume * (0.5 + rng.Float64()),
					Price:  price,
				})
				price *= 1 + ret
			}
			day = day.AddDate(0, 0, 1)
		}
		if err := cache.WriteBars(sym, bars); err != nil {
			return err
		}
	}
	return nil
}
