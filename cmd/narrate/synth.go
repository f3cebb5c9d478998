package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/app"
	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/narration"
)

var synthFlags struct {
	file    string
	lang    string
	item    string
	owner   string
	title   string
	author  string
	verbose bool
}

var synthCmd = &cobra.Command{
	Use:   "synth",
	Short: "Narrate a text file and print the signed audio URL",
	Long: `synth narrates the given text file (or stdin with --file -) for one content
item and language. Existing audio of the item, or of another item with the same
title and author, is reused.`,
	RunE: runSynth,
}

func init() {
	f := synthCmd.Flags()
	f.StringVarP(&synthFlags.file, "file", "f", "-", "text file to narrate, - for stdin")
	f.StringVarP(&synthFlags.lang, "lang", "l", "en", "narration language")
	f.StringVar(&synthFlags.item, "item", "", "content item id (required)")
	f.StringVar(&synthFlags.owner, "owner", "", "owner recorded on the content item")
	f.StringVar(&synthFlags.title, "title", "", "title of the narrated work, enables cross-item reuse")
	f.StringVar(&synthFlags.author, "author", "", "author of the narrated work")
	f.BoolVarP(&synthFlags.verbose, "verbose", "v", false, "log pipeline activity to stderr")
	_ = synthCmd.MarkFlagRequired("item")
	rootCmd.AddCommand(synthCmd)
}

func readText(path string, stdin io.Reader) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(stdin)
		return string(b), err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(b), nil
}

func runSynth(cmd *cobra.Command, _ []string) error {
	text, err := readText(synthFlags.file, cmd.InOrStdin())
	if err != nil {
		return err
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	logOut := io.Discard
	if synthFlags.verbose {
		logOut = cmd.ErrOrStderr()
	}
	logger := log.New(logOut, "", log.LstdFlags)

	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer a.Close()

	req := narration.Request{
		ContentText:   text,
		Language:      synthFlags.lang,
		ContentItemID: synthFlags.item,
		OwnerID:       synthFlags.owner,
		Progress: func(done, total int) {
			fmt.Fprintf(cmd.ErrOrStderr(), "\rchunk %d/%d", done, total)
			if done == total {
				fmt.Fprintln(cmd.ErrOrStderr())
			}
		},
	}
	if strings.TrimSpace(synthFlags.title) != "" {
		req.CanonicalIdentity = &narration.Identity{Title: synthFlags.title, Author: synthFlags.author}
	}

	resp, err := a.Pipeline().Narrate(cmd.Context(), req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"jobId":       resp.JobID,
		"audioUrl":    resp.AudioURL,
		"cached":      resp.Cached,
		"cacheTier":   resp.CacheTier,
		"storagePath": resp.StoragePath,
		"byteSize":    resp.ByteSize,
		"durationMs":  resp.Duration.Milliseconds(),
		"chunks":      resp.Chunks,
	})
}
