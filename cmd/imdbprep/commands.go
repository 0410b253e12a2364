package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"imdbprep/internal/pkg/imdbprep/config"
	"imdbprep/internal/pkg/imdbprep/datamodule"
	"imdbprep/internal/pkg/imdbprep/embedding"
	"imdbprep/internal/pkg/imdbprep/iterator"
	"imdbprep/internal/pkg/imdbprep/tokenizer"
)

type app struct {
	cfg *config.Config
	dm  *datamodule.DataModule
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "imdbprep",
		Short:         "Prepare the IMDB sentiment dataset for training",
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		a.prepareCmd(),
		a.setupCmd(),
		a.batchesCmd(),
		a.vocabCmd(),
		a.exportCmd(),
		embeddingsCmd(),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}

	log.Debug().
		Str("data_dir", cfg.DataDir).
		Str("tokenizer", cfg.Tokenizer).
		Str("pretrained", cfg.Pretrained).
		Int("vocab_size", cfg.VocabSize).
		Int("batch_size", cfg.BatchSize).
		Msg("Configuration loaded")

	dm, err := datamodule.New(cfg, datamodule.WithLogger(log.Logger))
	if err != nil {
		return err
	}
	a.cfg, a.dm = cfg, dm
	return nil
}

func (a *app) prepareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prepare",
		Short: "Download the corpus and build the vocabulary files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.dm.Prepare(cmd.Context()); err != nil {
				return err
			}
			log.Info().Str("dir", a.cfg.DataDir).Msg("Vocabulary ready")
			return nil
		},
	}
}

func (a *app) setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Prepare, then load every split and print its size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.prepareAndSetup(cmd); err != nil {
				return err
			}
			train, val, test := a.dm.Sizes()
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "train\t%d\nval\t%d\ntest\t%d\n", train, val, test)
			return nil
		},
	}
}

func (a *app) prepareAndSetup(cmd *cobra.Command) error {
	if err := a.dm.Prepare(cmd.Context()); err != nil {
		return err
	}
	return a.dm.Setup(cmd.Context(), "fit")
}

func (a *app) batchesCmd() *cobra.Command {
	var (
		split string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "Print the shape of the batches of one split",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.prepareAndSetup(cmd); err != nil {
				return err
			}

			var (
				it  *iterator.BucketIterator
				err error
			)
			switch split {
			case "train":
				it, err = a.dm.TrainDataloader()
			case "val":
				it, err = a.dm.ValDataloader()
			case "test":
				it, err = a.dm.TestDataloader()
			default:
				return fmt.Errorf("unknown split %q (want train, val or test)", split)
			}
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "batch\tsize\twidth\tmin_len\tpositive")
			n := 0
			for b := range it.All() {
				if limit > 0 && n == limit {
					break
				}
				width, minLen, pos := 0, 0, 0
				if b.Size() > 0 {
					width, minLen = len(b.Text[0]), b.Lengths[0]
				}
				for i, l := range b.Lengths {
					minLen = min(minLen, l)
					if b.Labels[i] > 0 {
						pos++
					}
				}
				fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\n", n, b.Size(), width, minLen, pos)
				n++
			}
			fmt.Fprintf(tw, "total\t%d batches\n", it.Len())
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&split, "split", "train", "Split to iterate (train, val, test)")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum batches to print, 0 for all")
	return cmd
}

func (a *app) vocabCmd() *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "vocab",
		Short: "Print the most frequent vocabulary entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, label, err := a.dm.Vocabularies()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "text: %d entries, dim %d\nlabels: %v\n\n", text.Len(), text.Dim(), label.Tokens())

			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "index\ttoken\tfreq")
			for _, e := range text.MostCommon(top) {
				fmt.Fprintf(tw, "%d\t%s\t%d\n", e.Index, e.Token, e.Freq)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&top, "top", 20, "Number of entries to print, 0 for all")
	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the text vocabulary as 'token index' lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, _, err := a.dm.Vocabularies()
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}
			if err := text.WriteText(w); err != nil {
				return err
			}
			if out != "" && out != "-" {
				log.Info().Str("output", out).Int("entries", text.Len()).Msg("Vocabulary exported")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file, '-' or empty for stdout")
	return cmd
}

func embeddingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "embeddings",
		Short: "List pretrained vector identifiers and tokenizers",
		Args:  cobra.NoArgs,
		// no data module needed
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "vectors\tdim\tsource")
			for _, name := range embedding.Names() {
				src, err := embedding.Lookup(name)
				if err != nil {
					return err
				}
				from := src.URL
				if src.Member != "" {
					from += "#" + src.Member
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\n", name, src.Dim, from)
			}
			fmt.Fprintln(tw)
			fmt.Fprintln(tw, "tokenizers")
			for _, name := range tokenizer.List() {
				fmt.Fprintln(tw, name)
			}
			return tw.Flush()
		},
	}
}
