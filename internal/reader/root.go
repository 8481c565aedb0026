package reader

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"storybook-server/internal/config"
	"storybook-server/internal/models"
	"storybook-server/internal/playback"
)

// RootOptions глобальные флаги читалки.
type RootOptions struct {
	TTSCommand string
	Logger     *zap.Logger
	// Engine подменяет движок озвучивания (тесты).
	Engine playback.NarrationEngine
}

func (o *RootOptions) engine() playback.NarrationEngine {
	if o.Engine != nil {
		return o.Engine
	}
	return playback.EngineFromCommand(o.TTSCommand, o.Logger)
}

// NewRootCommand создает корневую команду reader.
func NewRootCommand(cfg *config.ReaderConfig, logger *zap.Logger) *cobra.Command {
	opts := &RootOptions{Logger: logger}

	cmd := &cobra.Command{
		Use:   "reader",
		Short: "Read illustrated stories in the terminal",
		Long:  "Page through an illustrated story two pages at a time and have it read aloud.",
	}
	cmd.PersistentFlags().StringVar(&opts.TTSCommand, "tts", cfg.TTSCommand, "text-to-speech command used for narration")

	cmd.AddCommand(newOpenCommand(opts))
	cmd.AddCommand(newFetchCommand(opts, cfg))
	cmd.AddCommand(newDemoCommand(opts))
	return cmd
}

func newOpenCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "open <story.json>",
		Short:        "Open a story saved as JSON",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			story, err := LoadFile(args[0])
			if err != nil {
				return err
			}
			return RunSession(story, opts.engine(), cmd.InOrStdin(), cmd.OutOrStdout(), opts.Logger)
		},
	}
}

func newFetchCommand(opts *RootOptions, cfg *config.ReaderConfig) *cobra.Command {
	var apiURL, token string
	cmd := &cobra.Command{
		Use:          "fetch <story-id>",
		Short:        "Fetch a story from the server and open it",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			story, err := NewFetcher(apiURL, token, cfg.Timeout).Fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return RunSession(story, opts.engine(), cmd.InOrStdin(), cmd.OutOrStdout(), opts.Logger)
		},
	}
	cmd.Flags().StringVar(&apiURL, "api", cfg.APIBaseURL, "storybook server base URL")
	cmd.Flags().StringVar(&token, "token", "", "bearer token (guest or user)")
	return cmd
}

func newDemoCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "demo",
		Short:        "Open the built-in demo story",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return RunSession(models.DemoStory(), opts.engine(), cmd.InOrStdin(), cmd.OutOrStdout(), opts.Logger)
		},
	}
}
