// Package main is the entry point for the drumgen CLI
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/james-see/drumgen/pkg/config"
	"github.com/james-see/drumgen/pkg/logging"
	"github.com/james-see/drumgen/pkg/pipeline"
	"github.com/james-see/drumgen/pkg/trainer"
	"github.com/james-see/drumgen/pkg/tui"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	verbose    bool
	deviceName string
	kitName    string
	rngSeed    int64

	// model shape
	dModel        int
	headCount     int
	encoderLayers int
	decoderLayers int
	ffWidth       int
	dropout       float64
	maxLen        int

	// training
	checkpointPath   string
	epochs           int
	batchSize        int
	seqLen           int
	learningRate     float64
	gradClip         float64
	detectDivergence bool

	// generation
	outputFile        string
	genLength         int
	seedNotes         string
	seedMIDI          string
	temperature       float64
	repetitionPenalty float64
	noteDelta         uint32
	noteVelocity      uint8
	tempoBPM          float64
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "drumgen",
	Short: "Train and sample a drum-sequence model from MIDI recordings",
	Long: `drumgen learns drum patterns from a directory of MIDI recordings and
samples new percussion tracks from the trained model.

Training extracts the percussion channel of every MIDI file, windows the
pitch sequences into next-note examples and fits an encoder-decoder
attention model. Generation extends a seed pattern note by note, snapping
every sampled pitch onto the drum-kit map so the output stays playable.

Configuration resolves defaults, then DRUMGEN_* environment variables,
then flags.

Examples:
  drumgen train ./corpus -c model.ckpt --epochs 20
  drumgen generate model.ckpt -o beat.mid -n 64
  drumgen generate model.ckpt --seed 36,38,42 --temperature 0.9
  drumgen generate model.ckpt --seed-midi groove.mid
  drumgen inspect ./corpus
  drumgen inspect model.ckpt
  drumgen tui`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
}

var trainCmd = &cobra.Command{
	Use:   "train <corpus-dir>",
	Short: "Train a model on a directory of MIDI drum recordings",
	Long: `Scans the directory tree for MIDI files, extracts their percussion
notes and trains the sequence model, writing the weights to a checkpoint.`,
	Args: cobra.ExactArgs(1),
	RunE: runTrain,
}

var generateCmd = &cobra.Command{
	Use:   "generate <checkpoint>",
	Short: "Sample a new drum track from a trained checkpoint",
	Long: `Loads the checkpoint into a model with the configured shape, extends
the seed pattern and writes the result as a MIDI file. The model shape
flags must match the ones used at training time.`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <corpus-dir|checkpoint>",
	Short: "Report on a corpus directory or check a checkpoint's shape",
	Long: `Given a directory, reports every MIDI file's percussion note count,
which files are long enough to train on and a histogram of drum sounds.
Given a checkpoint file, checks whether it fits the configured model shape.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch interactive terminal UI",
	RunE:  runTUI,
}

func init() {
	def := config.Default()

	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&deviceName, "device", def.Device, "Compute backend (cpu)")
	rootCmd.PersistentFlags().StringVar(&kitName, "kit", def.Kit, "Drum kit pitch map (gm)")
	rootCmd.PersistentFlags().Int64Var(&rngSeed, "rng-seed", def.RNGSeed, "Random seed; 0 uses a time-based seed")

	// Model shape flags, shared by train, generate and inspect
	rootCmd.PersistentFlags().IntVar(&dModel, "d-model", def.Model.DModel, "Embedding width")
	rootCmd.PersistentFlags().IntVar(&headCount, "heads", def.Model.Heads, "Attention head count")
	rootCmd.PersistentFlags().IntVar(&encoderLayers, "encoder-layers", def.Model.EncoderLayers, "Encoder layer count")
	rootCmd.PersistentFlags().IntVar(&decoderLayers, "decoder-layers", def.Model.DecoderLayers, "Decoder layer count")
	rootCmd.PersistentFlags().IntVar(&ffWidth, "ff-width", def.Model.FFWidth, "Feed-forward width")
	rootCmd.PersistentFlags().Float64Var(&dropout, "dropout", def.Model.Dropout, "Dropout rate")
	rootCmd.PersistentFlags().IntVar(&maxLen, "max-len", def.Model.MaxLen, "Longest sequence the model accepts")

	// Train command
	trainCmd.Flags().StringVarP(&checkpointPath, "checkpoint", "c", "drumgen.ckpt", "Checkpoint output path")
	trainCmd.Flags().IntVar(&epochs, "epochs", def.Train.Epochs, "Training epochs")
	trainCmd.Flags().IntVar(&batchSize, "batch-size", def.Train.BatchSize, "Examples per batch")
	trainCmd.Flags().IntVar(&seqLen, "seq-len", def.Train.SeqLen, "Training window length")
	trainCmd.Flags().Float64Var(&learningRate, "learning-rate", def.Train.LearningRate, "Adam step size")
	trainCmd.Flags().Float64Var(&gradClip, "grad-clip", def.Train.GradClip, "Gradient norm clip; 0 disables")
	trainCmd.Flags().BoolVar(&detectDivergence, "detect-divergence", def.Train.DetectDivergence, "Abort when the loss goes NaN or infinite")

	// Generate command
	generateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output MIDI path (default: checkpoint name with .mid)")
	generateCmd.Flags().IntVarP(&genLength, "length", "n", def.Gen.Length, "Notes to generate")
	generateCmd.Flags().StringVar(&seedNotes, "seed", "36", "Seed pitches, comma separated")
	generateCmd.Flags().StringVar(&seedMIDI, "seed-midi", "", "Seed from the percussion notes of a MIDI file")
	generateCmd.Flags().Float64Var(&temperature, "temperature", def.Gen.Temperature, "Sampling temperature; 1 leaves the distribution untouched")
	generateCmd.Flags().Float64Var(&repetitionPenalty, "repetition-penalty", def.Gen.RepetitionPenalty, "Discount for pitches already in the context; 1 disables")
	generateCmd.Flags().Uint32Var(&noteDelta, "delta", def.MIDI.Delta, "Ticks between note onsets")
	generateCmd.Flags().Uint8Var(&noteVelocity, "velocity", def.MIDI.Velocity, "Note velocity")
	generateCmd.Flags().Float64Var(&tempoBPM, "tempo", def.MIDI.TempoBPM, "Tempo in BPM")
	generateCmd.MarkFlagsMutuallyExclusive("seed", "seed-midi")

	// Inspect command
	inspectCmd.Flags().IntVar(&seqLen, "seq-len", def.Train.SeqLen, "Training window length")

	// Add commands
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(tuiCmd)
}

// loadConfig resolves defaults, environment, then any flags set on the
// invoked command.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("device") {
		cfg.Device = deviceName
	}
	if flags.Changed("kit") {
		cfg.Kit = kitName
	}
	if flags.Changed("rng-seed") {
		cfg.RNGSeed = rngSeed
	}
	if flags.Changed("d-model") {
		cfg.Model.DModel = dModel
	}
	if flags.Changed("heads") {
		cfg.Model.Heads = headCount
	}
	if flags.Changed("encoder-layers") {
		cfg.Model.EncoderLayers = encoderLayers
	}
	if flags.Changed("decoder-layers") {
		cfg.Model.DecoderLayers = decoderLayers
	}
	if flags.Changed("ff-width") {
		cfg.Model.FFWidth = ffWidth
	}
	if flags.Changed("dropout") {
		cfg.Model.Dropout = dropout
	}
	if flags.Changed("max-len") {
		cfg.Model.MaxLen = maxLen
	}
	if flags.Changed("epochs") {
		cfg.Train.Epochs = epochs
	}
	if flags.Changed("batch-size") {
		cfg.Train.BatchSize = batchSize
	}
	if flags.Changed("seq-len") {
		cfg.Train.SeqLen = seqLen
	}
	if flags.Changed("learning-rate") {
		cfg.Train.LearningRate = learningRate
	}
	if flags.Changed("grad-clip") {
		cfg.Train.GradClip = gradClip
	}
	if flags.Changed("detect-divergence") {
		cfg.Train.DetectDivergence = detectDivergence
	}
	if flags.Changed("length") {
		cfg.Gen.Length = genLength
	}
	if flags.Changed("temperature") {
		cfg.Gen.Temperature = temperature
	}
	if flags.Changed("repetition-penalty") {
		cfg.Gen.RepetitionPenalty = repetitionPenalty
	}
	if flags.Changed("delta") {
		cfg.MIDI.Delta = noteDelta
	}
	if flags.Changed("velocity") {
		cfg.MIDI.Velocity = noteVelocity
	}
	if flags.Changed("tempo") {
		cfg.MIDI.TempoBPM = tempoBPM
	}
	return cfg, nil
}

// parseSeedNotes turns "36,38,42" (commas or spaces) into pitches.
func parseSeedNotes(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	if len(fields) == 0 {
		return nil, fmt.Errorf("seed %q holds no pitches", s)
	}
	seed := make([]int, 0, len(fields))
	for _, f := range fields {
		p, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("seed pitch %q is not a number", f)
		}
		seed = append(seed, p)
	}
	return seed, nil
}

func getOutputPath(input string) string {
	if outputFile != "" {
		return outputFile
	}
	base := strings.TrimSuffix(input, filepath.Ext(input))
	return base + ".mid"
}

func formatSequence(seq []int) string {
	parts := make([]string, len(seq))
	for i, p := range seq {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, " ")
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := logging.New(verbose)
	defer func() { _ = logger.Sync() }()

	corpusDir := args[0]
	fmt.Printf("Training on %s -> %s\n", corpusDir, checkpointPath)

	res, err := pipeline.Train(cfg, pipeline.TrainOptions{
		CorpusDir:      corpusDir,
		CheckpointPath: checkpointPath,
	}, logger, func(e trainer.Epoch) {
		fmt.Printf("epoch %d/%d  loss %.4f  (%s)\n",
			e.Epoch, cfg.Train.Epochs, e.AvgLoss, e.Duration.Round(time.Millisecond))
	})
	if err != nil {
		return err
	}

	fmt.Printf("Trained on %d examples from %d files (%d parameters)\n",
		res.Examples, res.Files, res.Params)
	fmt.Printf("Final loss: %.4f\n", res.FinalLoss())
	fmt.Printf("Checkpoint written to %s\n", res.CheckpointPath)
	return nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := logging.New(verbose)
	defer func() { _ = logger.Sync() }()

	input := args[0]
	output := getOutputPath(input)

	opts := pipeline.GenerateOptions{
		CheckpointPath: input,
		OutPath:        output,
		SeedMIDI:       seedMIDI,
	}
	if seedMIDI == "" {
		seed, err := parseSeedNotes(seedNotes)
		if err != nil {
			return err
		}
		opts.Seed = seed
	}

	fmt.Printf("Generating %d notes from %s\n", cfg.Gen.Length, input)
	res, err := pipeline.Generate(cfg, opts, logger)
	if err != nil {
		return err
	}

	fmt.Printf("Generated %d notes (%d seeded) -> %s\n",
		len(res.Sequence), res.SeedLen, res.OutPath)
	fmt.Println(formatSequence(res.Sequence))
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	info, err := os.Stat(args[0])
	if err != nil {
		return err
	}
	if info.IsDir() {
		return inspectCorpus(cfg, args[0])
	}
	return inspectCheckpoint(cfg, args[0])
}

func inspectCheckpoint(cfg config.Config, path string) error {
	report, err := pipeline.Inspect(cfg, path)
	if err != nil {
		return err
	}

	fmt.Printf("Checkpoint: %s\n", report.Path)
	fmt.Printf("Size:       %d bytes\n", report.SizeBytes)
	fmt.Printf("Model:      %d parameters (%d bytes)\n", report.Params, report.WantBytes)
	if !report.Matches {
		return fmt.Errorf("checkpoint holds %d bytes but the configured model needs %d; pass the shape flags used at training time",
			report.SizeBytes, report.WantBytes)
	}
	fmt.Println("Configuration matches.")
	return nil
}

func inspectCorpus(cfg config.Config, dir string) error {
	logger := logging.New(verbose)
	defer func() { _ = logger.Sync() }()

	report, err := pipeline.InspectCorpus(cfg, dir, logger)
	if err != nil {
		return err
	}

	fmt.Printf("Corpus: %s (%d files, %d usable, %d examples at window %d)\n",
		report.Dir, len(report.Files), report.Eligible, report.Examples, report.SeqLen)
	for _, f := range report.Files {
		switch {
		case f.Err != nil:
			cause := f.Err
			if u := errors.Unwrap(cause); u != nil {
				cause = u
			}
			fmt.Printf("  %s: unreadable: %v\n", f.Path, cause)
		case !f.Eligible:
			fmt.Printf("  %s: %d notes (need %d)\n", f.Path, f.Notes, report.SeqLen+1)
		default:
			fmt.Printf("  %s: %d notes\n", f.Path, f.Notes)
		}
	}

	pitches := make([]int, 0, len(report.Histogram))
	for p := range report.Histogram {
		pitches = append(pitches, p)
	}
	sort.Ints(pitches)
	if len(pitches) > 0 {
		fmt.Println("Pitches:")
		for _, p := range pitches {
			fmt.Printf("  %3d %-18s %d\n", p, report.Kit.NameFor(p), report.Histogram[p])
		}
	}
	return nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// The alternate screen owns the terminal, so logging is disabled.
	return tui.Run(cfg, nil)
}
