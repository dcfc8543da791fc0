// pamphlet is the command line companion to the server: it works on the
// same data directory, so batches can be run from a shell or cron without
// the HTTP API.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/opsdesk/pamphletd/internal/config"
	"github.com/opsdesk/pamphletd/internal/extract"
	"github.com/opsdesk/pamphletd/internal/gigachat"
	"github.com/opsdesk/pamphletd/internal/pipeline"
	"github.com/opsdesk/pamphletd/internal/store"
)

type env struct {
	cfg    config.Config
	store  *store.Store
	client *gigachat.Client
	usage  *gigachat.UsageLedger
	orch   *pipeline.Orchestrator
	log    *slog.Logger
}

func newEnv(dataDir string) (*env, error) {
	cfg := config.Load()
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	st, err := store.New(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	usage := gigachat.NewUsageLedger()
	client, err := gigachat.NewClient(gigachat.Config{
		OAuthURL:          cfg.OAuthURL,
		CompletionsURL:    cfg.CompletionsURL,
		FilesURL:          cfg.FilesURL,
		AuthKey:           cfg.AuthKey,
		Scope:             cfg.Scope,
		ClientCert:        cfg.ClientCert,
		ClientKey:         cfg.ClientKey,
		CABundle:          cfg.CABundle,
		TLSVerify:         cfg.TLSVerify,
		ForceTokenAuth:    cfg.ForceTokenAuth,
		TextModel:         cfg.TextModel,
		VisionModel:       cfg.VisionModel,
		TextTemperature:   cfg.TextTemperature,
		VisionTemperature: cfg.VisionTemperature,
	}, usage)
	if err != nil {
		return nil, err
	}

	orch := pipeline.NewOrchestrator(st, client, usage, pipeline.Options{
		Workers:         1,
		QueueSize:       4,
		FAQContextChars: cfg.FAQContextChars,
		FAQOutputTokens: cfg.FAQOutputTokens,
	}, log)

	return &env{cfg: cfg, store: st, client: client, usage: usage, orch: orch, log: log}, nil
}

func main() {
	var dataDir string

	root := &cobra.Command{
		Use:           "pamphlet",
		Short:         "Convert scanned pamphlets into staff instructions and FAQ entries",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (defaults to PAMPHLET_DATA_DIR)")

	root.AddCommand(
		listCmd(&dataDir),
		ingestCmd(&dataDir),
		processCmd(&dataDir),
		faqCmd(&dataDir),
		generalCmd(&dataDir),
		exportCmd(&dataDir),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func listCmd(dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List documents in the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(*dataDir)
			if err != nil {
				return err
			}
			defer e.client.Close()
			metas, err := e.store.ListDocuments()
			if err != nil {
				return err
			}
			for _, m := range metas {
				fmt.Printf("%s  %-30s  %3d pages  %d tokens", m.DocID, m.PamphletName, m.Pages, m.Tokens.TotalTokens)
				if m.LastError != "" {
					fmt.Printf("  last error: %s", m.LastError)
				}
				fmt.Println()
			}
			return nil
		},
	}
}

func ingestCmd(dataDir *string) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "ingest <file.pdf>",
		Short: "Store a PDF and extract its pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(*dataDir)
			if err != nil {
				return err
			}
			defer e.client.Close()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			meta, err := e.store.CreateDocument(args[0], name, data)
			if err != nil {
				return err
			}
			ex := extract.New(e.store, float64(e.cfg.RasterDPI), e.cfg.JPEGQuality, e.log)
			pages, err := ex.ExtractPages(cmd.Context(), meta.DocID)
			if err != nil {
				return err
			}
			fmt.Printf("%s  %d pages\n", meta.DocID, pages)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "pamphlet name (defaults to the file name)")
	return cmd
}
