package weather

import "time"

// ResolveSample returns the index of the sample closest in time to target.
// ts holds epoch seconds; ties go to the earliest index.
func ResolveSample(ts []int64, target time.Time) (int, error) {
	if len(ts) == 0 {
		return 0, ErrEmptySeries
	}

	targetMs := target.UnixMilli()
	best := 0
	bestDist := absInt64(ts[0]*1000 - targetMs)
	for i := 1; i < len(ts); i++ {
		d := absInt64(ts[i]*1000 - targetMs)
		if d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best, nil
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
