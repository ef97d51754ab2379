// Package analysis computes repetition structure and summary statistics
// over the score model. Results are derived per run and never mutated
// afterwards; a changed score or comparison mode means a fresh run.
package analysis

import (
	"github.com/book-expert/score-service/internal/core"
)

// Defaults for the analysis tunables.
const (
	DefaultMinRepeatSpan = 4
	DefaultFlagMultiple  = 1.5
)

// Options tunes repetition significance and density flagging.
type Options struct {
	// BarsPerUnit is the granularity for multi-bar repetition units.
	BarsPerUnit int
	// MinRepeatSpan is the minimum distance in bars between a group's
	// first and latest occurrence before it is narrated.
	MinRepeatSpan int
	// FlagMultiple flags a density bin when it exceeds this multiple of
	// the mean bin density.
	FlagMultiple float64
}

func (o Options) normalized() Options {
	if o.BarsPerUnit < 1 {
		o.BarsPerUnit = 1
	}

	if o.MinRepeatSpan < 1 {
		o.MinRepeatSpan = DefaultMinRepeatSpan
	}

	if o.FlagMultiple <= 0 {
		o.FlagMultiple = DefaultFlagMultiple
	}

	return o
}

// StaffAnalysis holds the repetition structure of one staff.
type StaffAnalysis struct {
	PartIndex  int
	StaffIndex int

	// Fingerprints[mode][ordinal] is the bar's fingerprint under the
	// mode; empty for bars with no elements.
	Fingerprints map[core.CompareMode][]string
	// Groups[mode][fingerprint] is the repetition group for that
	// fingerprint. All three mode group sets are retained.
	Groups map[core.CompareMode]map[string]*core.RepetitionGroup

	// UnitFingerprints[i] is the exact fingerprint of the i-th
	// BarsPerUnit-sized window; UnitGroups groups them.
	UnitFingerprints []string
	UnitGroups       map[string]*core.RepetitionGroup

	SameAsPrevious       []bool
	SameRhythmAsPrevious []bool
}

// PartStats is the per-part density summary: element counts plus the
// narrated density findings for that part alone.
type PartStats struct {
	Name        string
	Bars        int
	Notes       int
	Chords      int
	Rests       int
	Accidentals int
	Findings    []string
}

// Result is the complete output of one analysis run.
type Result struct {
	Options            Options
	Staves             [][]*StaffAnalysis
	PartStats          []PartStats
	RepeatedProportion float64
}

var modePriority = []core.CompareMode{core.CompareExact, core.CompareRhythm, core.CompareInterval}

// Analyze computes fingerprints, repetition groups, and summary
// statistics for every staff of the score.
func Analyze(score *core.Score, opts Options) *Result {
	opts = opts.normalized()

	result := &Result{
		Options:            opts,
		Staves:             make([][]*StaffAnalysis, len(score.Parts)),
		PartStats:          nil,
		RepeatedProportion: 0,
	}

	barCount := score.BarCount()

	totalBars := 0
	repeatedBars := 0

	for partIdx, part := range score.Parts {
		stats := PartStats{
			Name:        part.Name,
			Bars:        0,
			Notes:       0,
			Chords:      0,
			Rests:       0,
			Accidentals: 0,
			Findings:    nil,
		}
		result.Staves[partIdx] = make([]*StaffAnalysis, len(part.Staves))

		chordsPerBar := make([]int, barCount)
		accidentalsPerBar := make([]int, barCount)

		for staffIdx, staff := range part.Staves {
			staffAnalysis := analyzeStaff(partIdx, staffIdx, staff.Bars, opts)
			result.Staves[partIdx][staffIdx] = staffAnalysis

			if len(staff.Bars) > stats.Bars {
				stats.Bars = len(staff.Bars)
			}

			countStaff(staff.Bars, &stats, chordsPerBar, accidentalsPerBar)

			totalBars += len(staff.Bars)
			repeatedBars += countSignificantBars(staffAnalysis, opts)
		}

		stats.Findings = buildFindings(chordsPerBar, accidentalsPerBar, barCount, opts.FlagMultiple)
		result.PartStats = append(result.PartStats, stats)
	}

	if totalBars > 0 {
		result.RepeatedProportion = float64(repeatedBars) / float64(totalBars)
	}

	return result
}

func analyzeStaff(partIdx, staffIdx int, bars []core.Bar, opts Options) *StaffAnalysis {
	analysis := &StaffAnalysis{
		PartIndex:            partIdx,
		StaffIndex:           staffIdx,
		Fingerprints:         make(map[core.CompareMode][]string, len(modePriority)),
		Groups:               make(map[core.CompareMode]map[string]*core.RepetitionGroup, len(modePriority)),
		UnitFingerprints:     nil,
		UnitGroups:           nil,
		SameAsPrevious:       make([]bool, len(bars)),
		SameRhythmAsPrevious: make([]bool, len(bars)),
	}

	for _, mode := range modePriority {
		fingerprints := make([]string, len(bars))
		for i, bar := range bars {
			fingerprints[i] = barFingerprint(bar, mode)
		}

		analysis.Fingerprints[mode] = fingerprints
		analysis.Groups[mode] = buildGroups(mode, fingerprints)
	}

	exact := analysis.Fingerprints[core.CompareExact]
	rhythm := analysis.Fingerprints[core.CompareRhythm]

	for i := 1; i < len(bars); i++ {
		if exact[i] != "" && exact[i] == exact[i-1] {
			analysis.SameAsPrevious[i] = true

			continue
		}

		if rhythm[i] != "" && rhythm[i] == rhythm[i-1] {
			analysis.SameRhythmAsPrevious[i] = true
		}
	}

	if opts.BarsPerUnit > 1 {
		analysis.UnitFingerprints = unitFingerprints(bars, opts.BarsPerUnit)
		analysis.UnitGroups = buildGroups(core.CompareExact, analysis.UnitFingerprints)
	}

	return analysis
}

func unitFingerprints(bars []core.Bar, barsPerUnit int) []string {
	var fingerprints []string

	for start := 0; start < len(bars); start += barsPerUnit {
		end := start + barsPerUnit
		if end > len(bars) {
			end = len(bars)
		}

		fingerprints = append(fingerprints, unitFingerprint(bars[start:end], core.CompareExact))
	}

	return fingerprints
}

func buildGroups(mode core.CompareMode, fingerprints []string) map[string]*core.RepetitionGroup {
	groups := make(map[string]*core.RepetitionGroup)

	for ordinal, fingerprint := range fingerprints {
		if fingerprint == "" {
			continue
		}

		group, ok := groups[fingerprint]
		if !ok {
			group = &core.RepetitionGroup{
				Mode:        mode,
				Fingerprint: fingerprint,
				Ordinals:    nil,
				First:       ordinal,
				Latest:      ordinal,
				Count:       0,
			}
			groups[fingerprint] = group
		}

		group.Ordinals = append(group.Ordinals, ordinal)
		group.Latest = ordinal
		group.Count++
	}

	return groups
}

// Significant reports whether a group is worth narrating: repeated at
// least once, spanning more than the minimum bar distance.
func (r *Result) Significant(group *core.RepetitionGroup) bool {
	return group != nil && group.Count >= 2 && group.Latest-group.First > r.Options.MinRepeatSpan
}

// NarratedGroup returns the group narrated for one bar. When a bar
// matches under several modes the priority is exact, then rhythm, then
// interval.
func (r *Result) NarratedGroup(part, staff, ordinal int) (*core.RepetitionGroup, bool) {
	staffAnalysis := r.staff(part, staff)
	if staffAnalysis == nil {
		return nil, false
	}

	for _, mode := range modePriority {
		fingerprints := staffAnalysis.Fingerprints[mode]
		if ordinal < 0 || ordinal >= len(fingerprints) || fingerprints[ordinal] == "" {
			continue
		}

		group := staffAnalysis.Groups[mode][fingerprints[ordinal]]
		if r.Significant(group) {
			return group, true
		}
	}

	return nil, false
}

// UnitRepeat reports the first-occurrence unit index when the given unit
// exactly repeats an earlier one.
func (r *Result) UnitRepeat(part, staff, unitIndex int) (int, bool) {
	staffAnalysis := r.staff(part, staff)
	if staffAnalysis == nil || unitIndex < 0 || unitIndex >= len(staffAnalysis.UnitFingerprints) {
		return 0, false
	}

	fingerprint := staffAnalysis.UnitFingerprints[unitIndex]
	if fingerprint == "" {
		return 0, false
	}

	group := staffAnalysis.UnitGroups[fingerprint]
	if group == nil || group.Count < 2 || group.First == unitIndex {
		return 0, false
	}

	return group.First, true
}

func (r *Result) staff(part, staff int) *StaffAnalysis {
	if part < 0 || part >= len(r.Staves) {
		return nil
	}

	if staff < 0 || staff >= len(r.Staves[part]) {
		return nil
	}

	return r.Staves[part][staff]
}

func countSignificantBars(staffAnalysis *StaffAnalysis, opts Options) int {
	exact := staffAnalysis.Fingerprints[core.CompareExact]
	groups := staffAnalysis.Groups[core.CompareExact]
	count := 0

	for _, fingerprint := range exact {
		if fingerprint == "" {
			continue
		}

		group := groups[fingerprint]
		if group != nil && group.Count >= 2 && group.Latest-group.First > opts.MinRepeatSpan {
			count++
		}
	}

	return count
}

func countStaff(bars []core.Bar, stats *PartStats, chordsPerBar, accidentalsPerBar []int) {
	for _, bar := range bars {
		for _, elem := range bar.AllElements() {
			switch elem.Kind {
			case core.ElementNote:
				stats.Notes++
			case core.ElementChord:
				stats.Chords++

				if bar.Ordinal < len(chordsPerBar) {
					chordsPerBar[bar.Ordinal]++
				}
			case core.ElementRest:
				stats.Rests++
			}

			if elem.Accidental {
				stats.Accidentals++

				if bar.Ordinal < len(accidentalsPerBar) {
					accidentalsPerBar[bar.Ordinal]++
				}
			}
		}
	}
}

var positionPhrases = []string{
	"near the start",
	"in the 2nd quarter",
	"in the 3rd quarter",
	"near the end",
}

const findingBins = 10

func buildFindings(chordsPerBar, accidentalsPerBar []int, barCount int, flagMultiple float64) []string {
	var findings []string

	if finding := featureFinding("chords", chordsPerBar, barCount, flagMultiple); finding != "" {
		findings = append(findings, finding)
	}

	if finding := featureFinding("accidentals", accidentalsPerBar, barCount, flagMultiple); finding != "" {
		findings = append(findings, finding)
	}

	return findings
}

func featureFinding(name string, perBar []int, barCount int, flagMultiple float64) string {
	if barCount == 0 {
		return ""
	}

	total := 0
	for _, n := range perBar {
		total += n
	}

	quantity := quantityPhrase(float64(total) / float64(barCount))
	if quantity == "" {
		return ""
	}

	finding := quantity + " " + name
	if position := clusterPosition(perBar, flagMultiple); position != "" {
		finding += ", mostly " + position
	}

	return finding + "."
}

func quantityPhrase(perBar float64) string {
	switch {
	case perBar >= 2:
		return "Lots of"
	case perBar >= 1:
		return "Many"
	case perBar >= 0.5:
		return "Some"
	default:
		return ""
	}
}

// clusterPosition bins density over normalized position and names where
// the flagged bins sit. An empty string means the feature is spread
// evenly.
func clusterPosition(perBar []int, flagMultiple float64) string {
	if len(perBar) < findingBins {
		return ""
	}

	bins := make([]float64, findingBins)
	mean := 0.0

	for i, n := range perBar {
		bin := i * findingBins / len(perBar)
		bins[bin] += float64(n)
	}

	for _, v := range bins {
		mean += v
	}

	mean /= findingBins

	if mean == 0 {
		return ""
	}

	flaggedSum := 0.0
	flaggedWeight := 0.0

	for i, v := range bins {
		if v > flagMultiple*mean {
			flaggedSum += float64(i) * v
			flaggedWeight += v
		}
	}

	if flaggedWeight == 0 {
		return ""
	}

	centroid := flaggedSum / flaggedWeight / float64(findingBins)

	quarter := int(centroid * 4)
	if quarter > 3 {
		quarter = 3
	}

	return positionPhrases[quarter]
}

// DescribeProportion renders a proportion with the summary vocabulary.
// An empty string means the proportion is too small to mention.
func DescribeProportion(p float64) string {
	switch {
	case p > 0.99:
		return "all"
	case p > 0.85:
		return "almost all"
	case p > 0.75:
		return "over three quarters"
	case p > 0.5:
		return "over half"
	case p > 0.33:
		return "over a third"
	default:
		return ""
	}
}
