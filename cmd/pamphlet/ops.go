package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsdesk/pamphletd/internal/export"
	"github.com/opsdesk/pamphletd/internal/gigachat"
	"github.com/opsdesk/pamphletd/internal/pipeline"
	"github.com/opsdesk/pamphletd/internal/store"
	"github.com/opsdesk/pamphletd/internal/synth"
)

// runBatch submits one job and polls it to completion, printing progress
// as page operations finish.
func runBatch(ctx context.Context, e *env, kind pipeline.JobKind, docIDs []string) error {
	e.orch.Start(ctx)
	job, err := e.orch.Submit(ctx, kind, docIDs)
	if err != nil {
		return err
	}

	lastDone := -1
	for {
		j, ok := e.orch.Job(job.ID)
		if !ok {
			return fmt.Errorf("job %s disappeared", job.ID)
		}
		if j.Done != lastDone {
			fmt.Fprintf(os.Stderr, "\r%s: %d/%d", kind, j.Done, j.Total)
			lastDone = j.Done
		}
		switch j.Status {
		case pipeline.StatusDone:
			fmt.Fprintln(os.Stderr)
			usage := e.usage.Snapshot()
			fmt.Fprintf(os.Stderr, "tokens: %d prompt, %d completion\n", usage.PromptTokens, usage.CompletionTokens)
			return nil
		case pipeline.StatusError:
			fmt.Fprintln(os.Stderr)
			return fmt.Errorf("job failed: %s", j.Error)
		case pipeline.StatusCancelled:
			fmt.Fprintln(os.Stderr)
			return fmt.Errorf("job cancelled")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func processCmd(dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "process <doc-id>...",
		Short: "Run OCR, merge and the context fold over documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(*dataDir)
			if err != nil {
				return err
			}
			defer e.client.Close()
			return runBatch(cmd.Context(), e, pipeline.JobProcess, args)
		},
	}
}

func faqCmd(dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "faq <doc-id>...",
		Short: "Generate per-page FAQ entries for documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(*dataDir)
			if err != nil {
				return err
			}
			defer e.client.Close()
			return runBatch(cmd.Context(), e, pipeline.JobFAQ, args)
		},
	}
}

func generalCmd(dataDir *string) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "general <doc-id>",
		Short: "Build the whole-document general instruction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(*dataDir)
			if err != nil {
				return err
			}
			defer e.client.Close()
			docID := args[0]

			meta, err := e.store.ReadMeta(docID)
			if err != nil {
				return err
			}
			var pages []synth.PageText
			for p := 1; p <= meta.Pages; p++ {
				data, err := e.store.ReadPageArtifact(docID, p, store.InstructionFile)
				if err != nil {
					continue
				}
				pages = append(pages, synth.PageText{Num: p, Text: string(data)})
			}
			if len(pages) == 0 {
				return fmt.Errorf("no page instructions yet, run process first")
			}

			opts := gigachat.CallOptions{Model: meta.Model, MaxTokens: e.cfg.GeneralOutputTokens}
			if meta.Temperature != 0 {
				t := meta.Temperature
				opts.Temperature = &t
			}
			doc, err := synth.SynthesizeGeneral(cmd.Context(), e.client, pages, e.cfg.GeneralBatchChars, opts)
			if err != nil {
				return err
			}
			if err := e.store.WriteDocArtifact(docID, store.GeneralFile, []byte(doc)); err != nil {
				return err
			}
			if out != "" {
				return os.WriteFile(out, []byte(doc), 0o644)
			}
			fmt.Println(doc)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "write the instruction to a file instead of stdout")
	return cmd
}

func exportCmd(dataDir *string) *cobra.Command {
	var format, out string
	var force bool
	cmd := &cobra.Command{
		Use:   "export <doc-id>",
		Short: "Export instructions or FAQ (md, docx, faq-md, faq-xlsx)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(*dataDir)
			if err != nil {
				return err
			}
			defer e.client.Close()
			docID := args[0]

			meta, err := e.store.ReadMeta(docID)
			if err != nil {
				return err
			}

			var data []byte
			var missing []int
			switch format {
			case "md":
				content, miss, err := export.MergedInstructions(e.store, docID, meta.Pages)
				if err != nil {
					return err
				}
				data, missing = []byte(content), miss
			case "docx":
				missing = e.store.MissingPages(docID, meta.Pages, store.InstructionFile)
				content, err := export.FullInstruction(e.store, docID)
				if err != nil {
					return err
				}
				buf, err := export.InstructionDocx(meta.PamphletName, content)
				if err != nil {
					return err
				}
				data = buf.Bytes()
			case "faq-md":
				content, miss, err := export.FAQMarkdown(e.store, docID, meta.Pages)
				if err != nil {
					return err
				}
				data, missing = []byte(content), miss
			case "faq-xlsx":
				rows, miss, err := export.FAQRows(e.store, docID, meta.Pages)
				if err != nil {
					return err
				}
				buf, err := export.FAQWorkbook(rows)
				if err != nil {
					return err
				}
				data, missing = buf.Bytes(), miss
			default:
				return fmt.Errorf("unknown format %q", format)
			}

			if len(missing) > 0 && !force {
				return fmt.Errorf("missing pages %v, use --force to export anyway", missing)
			}
			if out == "" {
				return fmt.Errorf("--out is required")
			}
			return os.WriteFile(out, data, 0o644)
		},
	}
	cmd.Flags().StringVar(&format, "format", "md", "export format: md, docx, faq-md, faq-xlsx")
	cmd.Flags().StringVar(&out, "out", "", "output file")
	cmd.Flags().BoolVar(&force, "force", false, "export even when pages are missing")
	return cmd
}
