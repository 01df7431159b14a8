package trends

import (
	"slices"
	"strings"
)

// NoiseFloor is the minimum latest-day count for a topic to be flagged.
const NoiseFloor = 2

// SpikeFromZero is the latest-day count that counts as a spike after a zero day.
const SpikeFromZero = 5

// DailyCounts maps YYYY-MM-DD to per-topic counts for that day.
type DailyCounts map[string]map[string]int

type Result struct {
	Matrix    Matrix
	NewTopics []string
	Spikes    []string
	Dates     []string
}

// AnalyzeTrends builds the zero-filled topic by date matrix and flags new and
// spiking topics on the latest date. A new topic is never also a spike.
func AnalyzeTrends(daily DailyCounts) Result {
	dates := make([]string, 0, len(daily))
	for date := range daily {
		dates = append(dates, date)
	}
	slices.Sort(dates)

	seen := make(map[string]bool)
	var topics []string
	for _, date := range dates {
		for topic := range daily[date] {
			if !seen[topic] {
				seen[topic] = true
				topics = append(topics, topic)
			}
		}
	}

	matrix := make(Matrix, 0, len(topics))
	for _, topic := range topics {
		counts := make([]int, len(dates))
		for i, date := range dates {
			counts[i] = daily[date][topic]
		}
		matrix = append(matrix, Row{Topic: topic, Counts: counts})
	}

	slices.SortStableFunc(matrix, func(a, b Row) int {
		if ta, tb := a.Total(), b.Total(); ta != tb {
			if ta > tb {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Topic, b.Topic)
	})

	result := Result{
		Matrix:    matrix,
		NewTopics: []string{},
		Spikes:    []string{},
		Dates:     dates,
	}
	if len(dates) < 2 {
		return result
	}

	last := len(dates) - 1
	for _, row := range matrix {
		current := row.Counts[last]
		if current < NoiseFloor {
			continue
		}

		if isNew(row.Counts[:last]) {
			result.NewTopics = append(result.NewTopics, row.Topic)
			continue
		}

		if isSpike(row.Counts[last-1], current) {
			result.Spikes = append(result.Spikes, row.Topic)
		}
	}

	return result
}

func isNew(previous []int) bool {
	for _, c := range previous {
		if c != 0 {
			return false
		}
	}
	return true
}

func isSpike(previous, current int) bool {
	if previous > 0 {
		return current > 2*previous
	}
	return current >= SpikeFromZero
}
