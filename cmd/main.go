// Command episodeid is the CLI surface for the episode-identification
// pipeline: identify a single file, label a known subtitle into the
// catalogue, run a bulk scan over a directory tree, or backfill
// embeddings after enabling the embedding strategy.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kaelbrook/episodeid/internal/acquire"
	"github.com/kaelbrook/episodeid/internal/catalogue"
	"github.com/kaelbrook/episodeid/internal/config"
	"github.com/kaelbrook/episodeid/internal/embedding"
	"github.com/kaelbrook/episodeid/internal/identify"
	"github.com/kaelbrook/episodeid/internal/match"
	"github.com/kaelbrook/episodeid/internal/rank"
	"github.com/kaelbrook/episodeid/pkg/errs"
	"github.com/kaelbrook/episodeid/pkg/log"
)

// Exit codes per the external-interfaces contract: 0 success, 1
// identification failure, 2 invalid arguments/configuration, 3 fatal
// environment error.
const (
	exitOK                   = 0
	exitIdentificationFailed = 1
	exitInvalidInput         = 2
	exitEnvironmentMissing   = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	cmd := newRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if code, ok := exitCodeFor(err); ok {
			return code
		}
		return exitInvalidInput
	}
	return exitOK
}

// signalContext returns a context cancelled on SIGINT/SIGTERM so a bulk
// run in flight can drain and report a cancelled status instead of
// being killed mid-batch.
func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

func exitCodeFor(err error) (int, bool) {
	kind, ok := errs.KindOf(err)
	if !ok {
		return 0, false
	}
	switch kind {
	case errs.EnvironmentMissing:
		return exitEnvironmentMissing, true
	case errs.InvalidInput:
		return exitInvalidInput, true
	case errs.NoMatch, errs.Ambiguous, errs.NoUsableSubtitles, errs.ExtractionFailed,
		errs.CatalogueError, errs.InferenceError, errs.RenameBlocked, errs.Cancelled:
		return exitIdentificationFailed, true
	default:
		return 0, false
	}
}

// environment is every long-lived collaborator a command needs.
type environment struct {
	configStore *config.Store
	catalogue   *catalogue.Store
	acquirer    *acquire.Acquirer
	encoder     *embedding.Encoder
}

func (e *environment) Close() {
	if e.catalogue != nil {
		_ = e.catalogue.Close()
	}
	if e.configStore != nil {
		_ = e.configStore.Close()
	}
	if e.encoder != nil {
		_ = e.encoder.Close()
	}
}

// buildEnvironment wires the identification pipeline's collaborators: a
// hot-reloadable Configuration store, the catalogue, an ffmpeg/ffprobe
// backed Acquirer, and an embedding Encoder when the resolved strategy
// needs one.
//
// ffmpeg/ffprobe are mandatory (every source format needs the demuxer),
// so their absence fails startup outright. tesseract and vobsub2srt are
// not: a video whose only usable track is Text never needs them, so their
// absence is only logged here and left for the Acquirer's ladder to
// surface as a fatal EnvironmentMissing error if a BitmapRaster/DvdRaster
// track is ever actually selected without one configured.
func buildEnvironment(procOpts config.ProcessOptions) (*environment, error) {
	if err := config.EnsureDefault(procOpts.ConfigPath); err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "write default configuration", err)
	}

	cfgStore, err := config.NewStore(procOpts.ConfigPath)
	if err != nil {
		return nil, err
	}

	cat, err := catalogue.Open(procOpts.HashDBPath)
	if err != nil {
		cfgStore.Close()
		return nil, err
	}

	demuxer, err := acquire.NewFFDemuxer()
	if err != nil {
		cat.Close()
		cfgStore.Close()
		return nil, err
	}

	var bitmapOCR acquire.BitmapOCR
	if ocr, err := acquire.NewTesseractOCR(); err == nil {
		bitmapOCR = ocr
	} else {
		log.Warn("bitmap OCR unavailable, BitmapRaster tracks will fail fast: %v", err)
	}

	var dvdOCR acquire.DvdOCR
	if ocr, err := acquire.NewVobSub2SRTOCR(); err == nil {
		dvdOCR = ocr
	} else {
		log.Warn("DVD OCR unavailable, DvdRaster tracks will fail fast: %v", err)
	}

	env := &environment{
		configStore: cfgStore,
		catalogue:   cat,
		acquirer: &acquire.Acquirer{
			Demuxer:   demuxer,
			BitmapOCR: bitmapOCR,
			DvdOCR:    dvdOCR,
			WorkDir:   os.TempDir(),
		},
	}

	if snap := cfgStore.Current(); snap != nil && snap.Strategy != config.StrategyHash {
		env.encoder = embedding.NewEncoder(procOpts.ModelsDir, embedding.DefaultModelSpec)
	}

	return env, nil
}

// openCatalogueOnly opens just the catalogue, for verbs (store,
// migrate-embeddings) that never touch the acquirer or its external
// tools.
func openCatalogueOnly(procOpts config.ProcessOptions) (*catalogue.Store, error) {
	return catalogue.Open(procOpts.HashDBPath)
}

// requireEncoder constructs an Encoder unconditionally, for
// migrate-embeddings, where a missing encoder means there's nothing to
// backfill with. The Encoder loads its model on first use.
func requireEncoder(procOpts config.ProcessOptions) (*embedding.Encoder, error) {
	return embedding.NewEncoder(procOpts.ModelsDir, embedding.DefaultModelSpec), nil
}

// optionalEncoder constructs an Encoder (which loads its model on first
// use) when a configuration file
// is present at procOpts.ConfigPath and selects a non-hash strategy,
// returning nil otherwise (the caller then stores hash-only entries).
func optionalEncoder(procOpts config.ProcessOptions) *embedding.Encoder {
	snap, err := config.Load(procOpts.ConfigPath)
	if err != nil || snap == nil || snap.Strategy == config.StrategyHash {
		return nil
	}
	return embedding.NewEncoder(procOpts.ModelsDir, embedding.DefaultModelSpec)
}

func (e *environment) orchestrator() *identify.Orchestrator {
	return &identify.Orchestrator{
		Acquirer: e.acquirer,
		Matcher:  &match.Matcher{Catalogue: e.catalogue},
		Encoder:  e.encoder,
		Config:   e.configStore,
		RankCfg:  rank.DefaultConfig(),
	}
}

// processOptionsFunc resolves ProcessOptions fresh from the environment
// plus whatever persistent flags the invocation set, so each command
// reads the same precedence (flag overrides env overrides default) at
// the point it actually needs a path.
type processOptionsFunc func() config.ProcessOptions

func newRootCommand() *cobra.Command {
	var envFile, configFlag, hashDBFlag, modelsDirFlag, logLevelFlag string

	procOpts := func() config.ProcessOptions {
		opts := config.Bootstrap(envFile)
		if configFlag != "" {
			opts.ConfigPath = configFlag
		}
		if hashDBFlag != "" {
			opts.HashDBPath = hashDBFlag
		}
		if modelsDirFlag != "" {
			opts.ModelsDir = modelsDirFlag
		}
		if logLevelFlag != "" {
			opts.LogLevel = logLevelFlag
		}
		return opts
	}

	rootCmd := &cobra.Command{
		Use:           "episodeid",
		Short:         "Identify which episode a subtitle track belongs to",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log.InitLogger(log.ParseLevel(procOpts().LogLevel))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a .env file (optional)")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to episodeidentifier.config.json (default ~/.episodeidentifier)")
	rootCmd.PersistentFlags().StringVar(&hashDBFlag, "hash-db", "", "Path to the catalogue file (default ~/.episodeidentifier)")
	rootCmd.PersistentFlags().StringVar(&modelsDirFlag, "models-dir", "", "Directory holding the embedding model and tokenizer")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(
		newIdentifyCommand(procOpts),
		newStoreCommand(procOpts),
		newBulkCommand(procOpts),
		newMigrateCommand(procOpts),
	)

	return rootCmd
}
