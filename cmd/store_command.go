package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kaelbrook/episodeid/internal/config"
	"github.com/kaelbrook/episodeid/internal/identify"
)

func newStoreCommand(procOpts processOptionsFunc) *cobra.Command {
	var (
		input       string
		series      string
		season      string
		episode     string
		episodeName string
	)

	cmd := &cobra.Command{
		Use:   "store",
		Short: "Label a known subtitle file and add it to the catalogue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" || series == "" || season == "" || episode == "" {
				return usageError("--input, --series, --season and --episode are required")
			}

			raw, err := os.ReadFile(input)
			if err != nil {
				return usageError("cannot read --input: " + err.Error())
			}

			opts := procOpts()
			if err := config.EnsureDefault(opts.ConfigPath); err != nil {
				return err
			}

			cat, acqErr := openCatalogueOnly(opts)
			if acqErr != nil {
				return acqErr
			}
			defer cat.Close()

			enc := optionalEncoder(opts)
			if enc != nil {
				defer enc.Close()
			}

			inserted, err := identify.StoreLabel(cmd.Context(), cat, enc, string(raw), series, season, episode, episodeName)
			if err != nil {
				_ = writeEnvelope(envelopeFromError(err))
				return err
			}

			return writeEnvelope(resultEnvelope{
				Status:      "ok",
				Series:      series,
				Season:      season,
				Episode:     episode,
				EpisodeName: episodeName,
				Inserted:    &inserted,
			})
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Path to the labelled subtitle text file")
	cmd.Flags().StringVar(&series, "series", "", "Series name")
	cmd.Flags().StringVar(&season, "season", "", "Season number")
	cmd.Flags().StringVar(&episode, "episode", "", "Episode number")
	cmd.Flags().StringVar(&episodeName, "episode-name", "", "Episode title (optional)")

	return cmd
}
