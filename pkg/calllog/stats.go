package calllog

import (
	"time"
)

// ModelStats aggregates recent call history for one model.
type ModelStats struct {
	Model        string
	CallCount    int
	AvgLatencyMs float64
	SuccessRate  float64
	AvgCost      float64
}

// QueryModelStats groups calls over the last hoursBack hours by model,
// keeping only models with at least minSamples calls. Reads run concurrently
// with the writer thanks to WAL mode.
func (s *Store) QueryModelStats(hoursBack, minSamples int) ([]ModelStats, error) {
	if hoursBack <= 0 {
		hoursBack = 24
	}
	if minSamples <= 0 {
		minSamples = 1
	}
	cutoff := time.Now().UTC().Add(-time.Duration(hoursBack) * time.Hour).Format(TimeLayout)

	rows, err := s.db.Query(
		`SELECT model,
		        COUNT(*) AS call_count,
		        AVG(duration_ms) AS avg_latency_ms,
		        AVG(ok) AS success_rate,
		        AVG(cost_estimate) AS avg_cost
		 FROM llm_calls
		 WHERE timestamp > ?
		 GROUP BY model
		 HAVING COUNT(*) >= ?
		 ORDER BY model`,
		cutoff, minSamples,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []ModelStats
	for rows.Next() {
		var st ModelStats
		if err := rows.Scan(&st.Model, &st.CallCount, &st.AvgLatencyMs, &st.SuccessRate, &st.AvgCost); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
