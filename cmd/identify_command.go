package main

import (
	"github.com/spf13/cobra"

	"github.com/kaelbrook/episodeid/internal/identify"
)

func newIdentifyCommand(procOpts processOptionsFunc) *cobra.Command {
	var (
		input    string
		series   string
		season   string
		rename   bool
		language string
	)

	cmd := &cobra.Command{
		Use:   "identify",
		Short: "Identify the episode a single video's subtitles belong to",
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" {
				return usageError("--input is required")
			}

			env, err := buildEnvironment(procOpts())
			if err != nil {
				return err
			}
			defer env.Close()

			out, err := env.orchestrator().Identify(cmd.Context(), identify.Request{
				VideoPath:         input,
				PreferredLanguage: language,
				Series:            series,
				Season:            season,
				Rename:            rename,
			})
			if err != nil {
				_ = writeEnvelope(envelopeFromError(err))
				return err
			}

			return writeEnvelope(envelopeFromResult(out.Result, out.ProposedName, out.Renamed))
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Path to the video file to identify")
	cmd.Flags().StringVar(&series, "series", "", "Restrict matching to this series")
	cmd.Flags().StringVar(&season, "season", "", "Restrict matching to this season")
	cmd.Flags().BoolVar(&rename, "rename", false, "Rename the file in place on a confident match")
	cmd.Flags().StringVar(&language, "language", "", "Preferred subtitle language (BCP-47 or ISO 639)")

	return cmd
}
