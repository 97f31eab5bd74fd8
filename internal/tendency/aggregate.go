package tendency

import (
	"math"
	"sort"

	"github.com/muffinbran/pitch-tendency-analyzer/internal/db"
)

type groupKey struct {
	note         string
	instrumentID int64
}

type groupAcc struct {
	weightedSum float64
	total       int64
}

// Summarize groups records by (note, instrument) and returns the
// count-weighted mean deviation of each group.
//
// Each record's MeanCents is itself a mean over Count observations, so it is
// weighted by Count rather than treated as one observation. Records with a
// zero count are skipped, and a group left with no samples is omitted.
// Records outside filter are ignored.
//
// Results are ordered by instrument id ascending, then by mean deviation
// descending so the sharpest notes come first, then by note string. MeanCents
// is rounded to two decimals after ordering; sums are kept at full precision.
func Summarize(records []db.NoteRecord, filter db.InstrumentFilter) []Summary {
	groups := make(map[groupKey]*groupAcc)
	for _, r := range records {
		if r.Count <= 0 || !filter.Matches(r.InstrumentID) {
			continue
		}
		k := groupKey{note: r.NoteString, instrumentID: r.InstrumentID}
		acc, ok := groups[k]
		if !ok {
			acc = &groupAcc{}
			groups[k] = acc
		}
		acc.weightedSum += r.MeanCents * float64(r.Count)
		acc.total += r.Count
	}

	type row struct {
		key  groupKey
		mean float64
		n    int64
	}
	rows := make([]row, 0, len(groups))
	for k, acc := range groups {
		rows = append(rows, row{key: k, mean: acc.weightedSum / float64(acc.total), n: acc.total})
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.key.instrumentID != b.key.instrumentID {
			return a.key.instrumentID < b.key.instrumentID
		}
		if a.mean != b.mean {
			return a.mean > b.mean
		}
		return a.key.note < b.key.note
	})

	out := make([]Summary, len(rows))
	for i, r := range rows {
		out[i] = Summary{
			NoteString:   r.key.note,
			InstrumentID: r.key.instrumentID,
			MeanCents:    roundCents(r.mean),
			TotalSamples: r.n,
		}
	}
	return out
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
