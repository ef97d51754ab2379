// Package pipeline sequences one generation request under a wall-clock
// budget: model building, pattern analysis, description rendering, and
// output bundle assembly with the lazy audio key registry.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/score-service/internal/analysis"
	"github.com/book-expert/score-service/internal/config"
	"github.com/book-expert/score-service/internal/core"
	"github.com/book-expert/score-service/internal/describe"
	"github.com/book-expert/score-service/internal/musicxml"
)

const scoreIDHexDigits = 16

// tempoPercents are the playback speeds offered for every audio slice.
var tempoPercents = []int{50, 100, 150}

// Orchestrator implements core.ScoreProcessor.
type Orchestrator struct {
	cfg config.GenerationConfig
	log *logger.Logger
}

// New creates an orchestrator with the given generation tunables.
func New(cfg config.GenerationConfig, log *logger.Logger) *Orchestrator {
	return &Orchestrator{cfg: cfg, log: log}
}

// ScoreID is the deterministic identity of one notation input: the first
// 16 hex digits of its SHA-256 digest.
func ScoreID(input []byte) string {
	sum := sha256.Sum256(input)

	return hex.EncodeToString(sum[:])[:scoreIDHexDigits]
}

type outcome struct {
	bundle *core.OutputBundle
	err    error
}

// Process runs the generation pipeline for one submitted score. The
// request fails with core.ErrTimeout when the configured budget expires;
// no partial bundle is ever returned.
func (o *Orchestrator) Process(
	ctx context.Context,
	input []byte,
	opts core.RenderOptions,
) (*core.OutputBundle, error) {
	budget := time.Duration(o.cfg.TimeoutSeconds) * time.Second
	if budget <= 0 {
		budget = config.DefaultTimeoutSeconds * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	done := make(chan outcome, 1)

	go func() {
		bundle, err := o.run(ctx, input, opts)
		done <- outcome{bundle: bundle, err: err}
	}()

	select {
	case out := <-done:
		return out.bundle, out.err
	case <-ctx.Done():
		return nil, budgetError(ctx, budget)
	}
}

func budgetError(ctx context.Context, budget time.Duration) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: generation exceeded %s", core.ErrTimeout, budget)
	}

	return fmt.Errorf("failed to finish generation: %w", ctx.Err())
}

func (o *Orchestrator) run(
	ctx context.Context,
	input []byte,
	opts core.RenderOptions,
) (*core.OutputBundle, error) {
	err := stageCheck(ctx, "model building")
	if err != nil {
		return nil, err
	}

	if opts.BarsPerSegment == 0 {
		opts.BarsPerSegment = o.cfg.BarsPerSegment
	}

	cfg, err := core.NewRenderConfig(opts)
	if err != nil {
		return nil, err
	}

	score, err := musicxml.Build(input, o.log)
	if err != nil {
		return nil, err
	}

	err = stageCheck(ctx, "pattern analysis")
	if err != nil {
		return nil, err
	}

	result := analysis.Analyze(score, analysis.Options{
		BarsPerUnit:   cfg.BarsPerSegment,
		MinRepeatSpan: o.cfg.MinRepeatSpanBars,
		FlagMultiple:  o.cfg.DensityFlagMultiple,
	})

	err = stageCheck(ctx, "description rendering")
	if err != nil {
		return nil, err
	}

	renderer := describe.New(cfg)
	segments, summary := renderer.Render(score, result)

	scoreID := ScoreID(input)
	bundle := &core.OutputBundle{
		ScoreID:          scoreID,
		Info:             renderer.Info(score),
		Summary:          summary,
		Segments:         segments,
		AudioKeys:        audioKeys(scoreID, score, segments),
		UnsupportedCount: unsupportedCount(score),
		Degradations:     score.Degradations,
	}

	o.log.Info("Processed score %s: %d bars, %d segments, %d audio keys",
		scoreID, score.BarCount(), len(bundle.Segments), len(bundle.AudioKeys))

	return bundle, nil
}

// stageCheck stops the pipeline between stages once the budget expired.
func stageCheck(ctx context.Context, stage string) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: interrupted before %s", core.ErrTimeout, stage)
	}

	return fmt.Errorf("failed before %s: %w", stage, err)
}

func unsupportedCount(score *core.Score) int {
	count := 0

	for _, d := range score.Degradations {
		if d.Kind == core.DegradationUnsupported {
			count++
		}
	}

	return count
}

type barWindow struct {
	start int
	end   int
}

// audioKeys enumerates the lazy artifact registry: every segment window
// crossed with every virtual part selection, offered tempo, and click
// flag. Keys only; artifacts render on demand.
func audioKeys(scoreID string, score *core.Score, segments []core.DescriptionSegment) []core.AudioKeyEntry {
	windows := segmentWindows(segments)
	selections := partSelections(score)

	var entries []core.AudioKeyEntry

	for _, win := range windows {
		for _, sel := range selections {
			for _, percent := range tempoPercents {
				for _, click := range []bool{false, true} {
					req := core.AudioRequest{
						StartOrdinal:    win.start,
						EndOrdinal:      win.end,
						Selection:       sel.selection,
						Parts:           sel.parts,
						TempoMultiplier: float64(percent) / 100,
						ClickTrack:      click,
					}

					entries = append(entries, core.AudioKeyEntry{
						Key:          req.Key(scoreID),
						StartOrdinal: win.start,
						EndOrdinal:   win.end,
						Selection:    string(sel.selection),
						TempoPercent: percent,
						ClickTrack:   click,
					})
				}
			}
		}
	}

	return entries
}

func segmentWindows(segments []core.DescriptionSegment) []barWindow {
	seen := make(map[barWindow]struct{})

	var windows []barWindow

	for _, seg := range segments {
		win := barWindow{start: seg.StartOrdinal, end: seg.EndOrdinal}
		if _, ok := seen[win]; ok {
			continue
		}

		seen[win] = struct{}{}
		windows = append(windows, win)
	}

	sort.Slice(windows, func(i, j int) bool {
		if windows[i].start != windows[j].start {
			return windows[i].start < windows[j].start
		}

		return windows[i].end < windows[j].end
	})

	return windows
}

type partSelection struct {
	selection core.PartSelection
	parts     []int
}

// partSelections lists the virtual parts offered for playback: the full
// score always, plus each part alone and each part's accompaniment when
// the score has more than one part.
func partSelections(score *core.Score) []partSelection {
	selections := []partSelection{{selection: core.SelectionAll, parts: nil}}

	if len(score.Parts) < 2 {
		return selections
	}

	for i := range score.Parts {
		selections = append(selections,
			partSelection{selection: core.SelectionSelected, parts: []int{i}},
			partSelection{selection: core.SelectionUnselected, parts: []int{i}},
		)
	}

	return selections
}
