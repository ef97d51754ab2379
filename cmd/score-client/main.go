// main package for the score-client, a command line front end for the
// score service: it submits notation for description and requests audio
// renderings of bar ranges.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/events"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/book-expert/score-service/internal/core"
	"github.com/book-expert/score-service/internal/objectstore"
)

// Defaults mirror the service configuration so a stock deployment needs
// no flags beyond the file argument.
const (
	defaultNatsURL          = nats.DefaultURL
	defaultSubmittedSubject = "score.submitted"
	defaultRequestedSubject = "score.audio.requested"
	defaultScoreBucket      = "SCORE_FILES"
	defaultBundleBucket     = "SCORE_BUNDLES"
	defaultAudioBucket      = "SCORE_AUDIO"
	defaultRequestTimeout   = 2 * time.Minute
)

var errServiceReported = errors.New("service reported failure")

// connection groups the flag values shared by both subcommands.
type connectionFlags struct {
	natsURL          string
	submittedSubject string
	requestedSubject string
	scoreBucket      string
	bundleBucket     string
	audioBucket      string
	timeout          time.Duration
}

// submitFlags mirrors the description option surface.
type submitFlags struct {
	pitch              string
	rhythm             string
	dotPlacement       string
	rhythmAnnouncement string
	octave             string
	octavePosition     string
	octaveAnnouncement string
	accidentalStyle    string
	barsPerSegment     int
	omitRests          bool
	omitTies           bool
	omitDynamics       bool
	plainChords        bool
}

// audioFlags identifies one audio artifact request.
type audioFlags struct {
	start     int
	end       int
	selection string
	parts     []int
	tempo     int
	click     bool
	output    string
}

var (
	conn   connectionFlags
	submit submitFlags
	audio  audioFlags
)

var rootCmd = &cobra.Command{
	Use:   "score-client",
	Short: "Client for the score description service",
	Long: `score-client submits MusicXML notation to the score service and
retrieves textual descriptions and MIDI renderings of bar ranges.`,
}

var submitCmd = &cobra.Command{
	Use:   "submit <file.musicxml>",
	Short: "Submit a score and print its description",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return runSubmit(args[0])
	},
}

var audioCmd = &cobra.Command{
	Use:   "audio <file.musicxml>",
	Short: "Request a MIDI rendering of a bar range",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return runAudio(args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&conn.natsURL, "nats-url", defaultNatsURL, "NATS server URL")
	rootCmd.PersistentFlags().StringVar(
		&conn.submittedSubject, "submit-subject", defaultSubmittedSubject, "score submission subject",
	)
	rootCmd.PersistentFlags().StringVar(
		&conn.requestedSubject, "audio-subject", defaultRequestedSubject, "audio request subject",
	)
	rootCmd.PersistentFlags().StringVar(&conn.scoreBucket, "score-bucket", defaultScoreBucket, "notation bucket")
	rootCmd.PersistentFlags().StringVar(&conn.bundleBucket, "bundle-bucket", defaultBundleBucket, "bundle bucket")
	rootCmd.PersistentFlags().StringVar(&conn.audioBucket, "audio-bucket", defaultAudioBucket, "audio bucket")
	rootCmd.PersistentFlags().DurationVar(&conn.timeout, "timeout", defaultRequestTimeout, "reply wait budget")

	submitCmd.Flags().StringVar(&submit.pitch, "pitch", "", "pitch naming: colour, names, phonetic, none")
	submitCmd.Flags().StringVar(&submit.rhythm, "rhythm", "", "rhythm vocabulary: british, american, none")
	submitCmd.Flags().StringVar(&submit.dotPlacement, "dot-placement", "", "dot word position: before, after")
	submitCmd.Flags().StringVar(
		&submit.rhythmAnnouncement, "rhythm-announcement", "", "rhythm spoken: onchange, everynote",
	)
	submitCmd.Flags().StringVar(&submit.octave, "octave", "", "octave naming: name, number, none")
	submitCmd.Flags().StringVar(&submit.octavePosition, "octave-position", "", "octave token position: before, after")
	submitCmd.Flags().StringVar(
		&submit.octaveAnnouncement,
		"octave-announcement",
		"",
		"octave spoken: braille, everynote, firstbeatnote, onchange",
	)
	submitCmd.Flags().StringVar(&submit.accidentalStyle, "accidental-style", "", "accidentals: words, symbols")
	submitCmd.Flags().IntVar(&submit.barsPerSegment, "bars-per-segment", 0, "bars per description segment")
	submitCmd.Flags().BoolVar(&submit.omitRests, "omit-rests", false, "leave rests out of the description")
	submitCmd.Flags().BoolVar(&submit.omitTies, "omit-ties", false, "leave ties out of the description")
	submitCmd.Flags().BoolVar(&submit.omitDynamics, "omit-dynamics", false, "leave dynamics out of the description")
	submitCmd.Flags().BoolVar(&submit.plainChords, "plain-chords", false, "skip chord common names")

	audioCmd.Flags().IntVar(&audio.start, "start", 0, "first bar ordinal of the slice")
	audioCmd.Flags().IntVar(&audio.end, "end", 0, "last bar ordinal of the slice")
	audioCmd.Flags().StringVar(&audio.selection, "selection", "all", "virtual part: all, sel, un")
	audioCmd.Flags().IntSliceVar(&audio.parts, "parts", nil, "selected part indexes for sel/un")
	audioCmd.Flags().IntVar(&audio.tempo, "tempo", 100, "tempo percentage: 50, 100, 150")
	audioCmd.Flags().BoolVar(&audio.click, "click", false, "include the click track")
	audioCmd.Flags().StringVar(&audio.output, "output", "", "output file path (defaults to the audio key)")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(audioCmd)
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}

func runSubmit(path string) error {
	natsConnection, jetstreamContext, err := connect()
	if err != nil {
		return err
	}
	defer natsConnection.Close()

	scoreKey, err := uploadScore(jetstreamContext, path)
	if err != nil {
		return err
	}

	event := core.ScoreSubmittedEvent{
		Header:   newHeader(),
		ScoreKey: scoreKey,
		FileName: filepath.Base(path),
		Options:  submitOptions(),
	}

	var reply core.ScoreProcessedEvent

	err = requestEvent(natsConnection, conn.submittedSubject, event, &reply)
	if err != nil {
		return err
	}

	if reply.Error != "" {
		return fmt.Errorf("%w: %s", errServiceReported, reply.Error)
	}

	bundleData, err := downloadObject(jetstreamContext, conn.bundleBucket, reply.BundleKey)
	if err != nil {
		return err
	}

	var bundle core.OutputBundle

	err = json.Unmarshal(bundleData, &bundle)
	if err != nil {
		return fmt.Errorf("failed to unmarshal bundle '%s': %w", reply.BundleKey, err)
	}

	printBundle(&bundle)

	return nil
}

func runAudio(path string) error {
	natsConnection, jetstreamContext, err := connect()
	if err != nil {
		return err
	}
	defer natsConnection.Close()

	scoreKey, err := uploadScore(jetstreamContext, path)
	if err != nil {
		return err
	}

	event := core.AudioRequestedEvent{
		Header:       newHeader(),
		ScoreKey:     scoreKey,
		StartOrdinal: audio.start,
		EndOrdinal:   audio.end,
		Selection:    audio.selection,
		Parts:        audio.parts,
		TempoPercent: audio.tempo,
		ClickTrack:   audio.click,
	}

	var reply core.AudioReadyEvent

	err = requestEvent(natsConnection, conn.requestedSubject, event, &reply)
	if err != nil {
		return err
	}

	if !reply.Available {
		return fmt.Errorf("%w: %s", errServiceReported, reply.Error)
	}

	artifact, err := downloadObject(jetstreamContext, conn.audioBucket, reply.AudioKey)
	if err != nil {
		return err
	}

	outputPath := audio.output
	if outputPath == "" {
		outputPath = reply.AudioKey
	}

	err = os.WriteFile(outputPath, artifact, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write artifact to '%s': %w", outputPath, err)
	}

	fmt.Printf("Wrote %s (%d bytes)\n", outputPath, len(artifact))

	return nil
}

func connect() (*nats.Conn, nats.JetStreamContext, error) {
	natsConnection, err := nats.Connect(conn.natsURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", conn.natsURL, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	return natsConnection, jetstreamContext, nil
}

// uploadScore stores the notation under its base file name so repeated
// submissions of the same file reuse one object.
func uploadScore(jetstreamContext nats.JetStreamContext, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read score file '%s': %w", path, err)
	}

	store, err := objectstore.New(jetstreamContext, conn.scoreBucket)
	if err != nil {
		return "", err
	}

	key := filepath.Base(path)

	err = store.Upload(context.Background(), key, data)
	if err != nil {
		return "", err
	}

	return key, nil
}

func downloadObject(jetstreamContext nats.JetStreamContext, bucket, key string) ([]byte, error) {
	store, err := objectstore.New(jetstreamContext, bucket)
	if err != nil {
		return nil, err
	}

	data, err := store.Download(context.Background(), key)
	if err != nil {
		return nil, err
	}

	return data, nil
}

func requestEvent(natsConnection *nats.Conn, subject string, event, reply any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal request event: %w", err)
	}

	msg, err := natsConnection.Request(subject, data, conn.timeout)
	if err != nil {
		return fmt.Errorf("failed to request on subject '%s': %w", subject, err)
	}

	err = json.Unmarshal(msg.Data, reply)
	if err != nil {
		return fmt.Errorf("failed to unmarshal reply event: %w", err)
	}

	return nil
}

func newHeader() events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: uuid.NewString(),
		EventID:    uuid.NewString(),
		UserID:     "",
		TenantID:   "",
	}
}

func submitOptions() core.RenderOptions {
	return core.RenderOptions{
		Pitch:              submit.pitch,
		Rhythm:             submit.rhythm,
		DotPlacement:       submit.dotPlacement,
		RhythmAnnouncement: submit.rhythmAnnouncement,
		Octave:             submit.octave,
		OctavePosition:     submit.octavePosition,
		OctaveAnnouncement: submit.octaveAnnouncement,
		AccidentalStyle:    submit.accidentalStyle,
		BarsPerSegment:     submit.barsPerSegment,
		PitchStyle:         core.ElementColour{Foreground: "", Background: ""},
		OctaveStyle:        core.ElementColour{Foreground: "", Background: ""},
		RhythmStyle:        core.ElementColour{Foreground: "", Background: ""},
		OmitRests:          submit.omitRests,
		OmitTies:           submit.omitTies,
		OmitDynamics:       submit.omitDynamics,
		PlainChords:        submit.plainChords,
	}
}

func printBundle(bundle *core.OutputBundle) {
	info := bundle.Info

	fmt.Printf("Title:          %s\n", info.Title)
	fmt.Printf("Composer:       %s\n", info.Composer)
	fmt.Printf("Time signature: %s\n", info.TimeSignature)
	fmt.Printf("Key signature:  %s\n", info.KeySignature)
	fmt.Printf("Tempo:          %s\n", info.Tempo)
	fmt.Printf("Instruments:    %s\n", strings.Join(info.Instruments, ", "))
	fmt.Printf("Bars:           %d\n", info.BarCount)

	if len(bundle.Summary) > 0 {
		fmt.Println()

		for _, line := range bundle.Summary {
			fmt.Println(line)
		}
	}

	for _, segment := range bundle.Segments {
		fmt.Printf("\n%s\n", segment.Heading)

		for _, header := range segment.Headers {
			fmt.Printf("  %s\n", header)
		}

		for _, bar := range segment.Bars {
			printBar(bar)
		}
	}

	if bundle.UnsupportedCount > 0 {
		fmt.Printf("\nUnsupported notations skipped: %d\n", bundle.UnsupportedCount)
	}
}

func printBar(bar core.BarDescription) {
	for _, beat := range bar.Beats {
		fmt.Printf("  Bar %s beat %d: %s\n", bar.Label, beat.Number, beat.Text)
	}

	if bar.Repetition != "" {
		fmt.Printf("  Bar %s: %s\n", bar.Label, bar.Repetition)
	}
}
