// lokstudio: round-trip localization workbench with batch AI translation.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/minios-linux/lokstudio/adapter"
	"github.com/minios-linux/lokstudio/config"
	"github.com/minios-linux/lokstudio/i18n"
	"github.com/minios-linux/lokstudio/model"
	"github.com/minios-linux/lokstudio/sse"
	"github.com/minios-linux/lokstudio/subtitle"
	"github.com/minios-linux/lokstudio/translate"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ---------------------------------------------------------------------------
// Log helpers
// ---------------------------------------------------------------------------

var (
	infoTag    = color.New(color.FgBlue).Sprint("[INFO]")
	okTag      = color.New(color.FgGreen).Sprint("[OK]")
	warnTag    = color.New(color.Bold, color.FgYellow).Sprint("[WARN]")
	errorTag   = color.New(color.FgRed).Sprint("[ERROR]")
	heading    = color.New(color.Bold, color.FgCyan).SprintFunc()
	barGood    = color.New(color.FgGreen).SprintFunc()
	barPartial = color.New(color.FgYellow).SprintFunc()
	barLow     = color.New(color.FgRed).SprintFunc()
)

func logInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, infoTag+" "+format+"\n", args...)
}

func logSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stderr, okTag+" "+format+"\n", args...)
}

func logWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, warnTag+" "+format+"\n", args...)
}

func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, errorTag+" "+format+"\n", args...)
}

// ---------------------------------------------------------------------------
// Global flag
// ---------------------------------------------------------------------------

var rootDir string

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lokstudio",
		Short: i18n.T("Round-trip localization workbench with AI translation"),
		Long: `lokstudio loads localization files, translates them with AI providers
and writes them back without touching anything but the translations.

Formats:
  xliff      XLIFF 1.2 files and Xcode .xcloc bundles (zip)
  po         gettext catalogs, including hash-keyed ones
  subtitle   WebVTT and SubRip
  html       HTML pages
  document   Markdown and plain text

Commands:
  inspect     Show the entries of a file and its translation progress
  remap       Show a hash-keyed PO catalog through a reference catalog
  translate   Translate a file with AI
  export      Apply a saved event stream and write the translated file
  serve       Run the HTTP API
  auth        Manage provider API keys

AI Providers:
  openai         OpenAI (API key)
  groq           Groq (API key)
  openrouter     OpenRouter (API key)
  custom-openai  Any OpenAI-compatible endpoint
  ollama         Local Ollama server`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadEnv(rootDir)
		},
	}

	root.PersistentFlags().StringVar(&rootDir, "root", ".", "Project root directory")

	root.AddCommand(
		newInspectCmd(),
		newRemapCmd(),
		newTranslateCmd(),
		newExportCmd(),
		newServeCmd(),
		newAuthCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	i18n.Init("")
	if err := newRootCmd().Execute(); err != nil {
		logError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// version
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display version, commit hash, and build date.`,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "lokstudio version %s\n", version)
			fmt.Fprintf(out, "  commit:    %s\n", commit)
			fmt.Fprintf(out, "  built:     %s\n", date)
		},
	}
}

// ---------------------------------------------------------------------------
// inspect
// ---------------------------------------------------------------------------

func newInspectCmd() *cobra.Command {
	var (
		format  string
		asJSON  bool
		entries bool
	)

	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Show the entries of a file and its translation progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openInput(args[0], format)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, a.Project())
			}
			printProject(out, args[0], a, entries)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "Force the file format (xliff, po, subtitle, html, document)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the project as JSON")
	cmd.Flags().BoolVar(&entries, "entries", false, "List every entry")
	registerFormatCompletion(cmd)

	return cmd
}

func printProject(w io.Writer, path string, a adapter.Adapter, withEntries bool) {
	proj := a.Project()
	total, translated := proj.Stats()

	fmt.Fprintf(w, "%s %s (%s)\n", heading(i18n.T("File:")), path, a.Format())
	if proj.SourceLanguage != "" {
		fmt.Fprintf(w, "  %s %s\n", i18n.T("Source language:"), proj.SourceLanguage)
	}
	if len(proj.TargetLanguages) > 0 {
		fmt.Fprintf(w, "  %s %s\n", i18n.T("Target languages:"), strings.Join(proj.TargetLanguages, ", "))
	}
	fmt.Fprintf(w, "  %s  %s, %s\n\n",
		progressBar(percent(translated, total), 20),
		fmt.Sprintf(i18n.N("%d entry", "%d entries", total), total),
		fmt.Sprintf(i18n.T("%d translated"), translated))

	for _, r := range proj.Resources {
		rt, rtr := 0, 0
		for _, e := range r.Entries {
			rt++
			if e.IsTranslated() {
				rtr++
			}
		}
		fmt.Fprintf(w, "  %-32s %s  %d/%d\n", r.Label, progressBar(percent(rtr, rt), 20), rtr, rt)
		if !withEntries {
			continue
		}
		for _, e := range r.Entries {
			mark := barLow("·")
			if e.IsTranslated() {
				mark = barGood("✓")
			}
			fmt.Fprintf(w, "    %s %-24s %s\n", mark, truncateText(e.ID, 24), truncateText(e.SourceText, 60))
		}
	}
}

func percent(n, total int) int {
	if total == 0 {
		return 100
	}
	return n * 100 / total
}

// progressBar renders a colored bar with a right-aligned percentage.
func progressBar(percent, width int) string {
	percent = max(0, min(percent, 100))
	filled := percent * width / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	paint := barLow
	switch {
	case percent >= 100:
		paint = barGood
	case percent >= 50:
		paint = barPartial
	}
	return fmt.Sprintf("%s %3d%%", paint(bar), percent)
}

func truncateText(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", "⏎")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// ---------------------------------------------------------------------------
// remap
// ---------------------------------------------------------------------------

func newRemapCmd() *cobra.Command {
	var (
		reference string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "remap FILE",
		Short: "Show a hash-keyed PO catalog through a reference catalog",
		Long: `Catalogs generated by tools such as Lingui use opaque hash ids as msgid.
remap reads the human-readable texts from a reference catalog (usually the
source language) and shows them as the source text of each entry. The
catalog itself is not modified.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if reference == "" {
				return errors.New("--reference is required")
			}
			a, err := openInput(args[0], string(adapter.PO))
			if err != nil {
				return err
			}
			po := a.(*adapter.POAdapter)
			if !po.HashBased() {
				logWarning(i18n.T("%s does not look hash-keyed"), args[0])
			}
			ref, err := os.ReadFile(reference)
			if err != nil {
				return err
			}
			if err := po.ApplyReference(ref); err != nil {
				return fmt.Errorf("applying reference: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, a.Project())
			}
			for _, e := range a.Project().Resources[0].Entries {
				fmt.Fprintf(out, "%-16s %s\n", e.ID, e.SourceText)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&reference, "reference", "", "Reference PO catalog with readable texts")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the project as JSON")

	return cmd
}

// ---------------------------------------------------------------------------
// export
// ---------------------------------------------------------------------------

func newExportCmd() *cobra.Command {
	var (
		format       string
		events       string
		glossaryPath string
		output       string
		subtitleKind string
	)

	cmd := &cobra.Command{
		Use:   "export FILE",
		Short: "Apply a saved event stream and write the translated file",
		Long: `Replays the entry-translated events of a stream saved with
"lokstudio translate --events" (or downloaded from the server) onto FILE
and writes the result. Term references are resolved with the glossary.

Examples:
  lokstudio export app.po --events run.sse -o de.po
  lokstudio export movie.srt --events run.sse --subtitle vtt -o movie.de.vtt`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openInput(args[0], format)
			if err != nil {
				return err
			}
			if events != "" {
				f, err := os.Open(events)
				if err != nil {
					return err
				}
				n, err := replayEvents(a, f)
				f.Close()
				if err != nil {
					return fmt.Errorf("replaying %s: %w", events, err)
				}
				logInfo(i18n.N("Applied %d translation", "Applied %d translations", n), n)
			}

			terms, err := loadGlossary(glossaryPath)
			if err != nil {
				return err
			}

			var exp adapter.Export
			if subtitleKind != "" {
				sa, isSub := a.(*adapter.SubtitleAdapter)
				if !isSub {
					return errors.New("--subtitle applies to subtitle files only")
				}
				exp, err = sa.ExportAs(subtitle.Kind(strings.ToLower(subtitleKind)), terms)
			} else {
				exp, err = a.Export(terms)
			}
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				_, err := cmd.OutOrStdout().Write(exp.Data)
				return err
			}
			if err := writeFileAtomic(output, exp.Data); err != nil {
				return err
			}
			logSuccess(i18n.T("Wrote %s"), output)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "Force the input format")
	cmd.Flags().StringVar(&events, "events", "", "Event stream file to replay")
	cmd.Flags().StringVar(&glossaryPath, "glossary", "", "YAML glossary for term references (default: from .lokstudio.yaml)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().StringVar(&subtitleKind, "subtitle", "", "Convert subtitles to srt or vtt")
	registerFormatCompletion(cmd)
	_ = cmd.RegisterFlagCompletionFunc("subtitle", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{string(subtitle.SRT), string(subtitle.VTT)}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

// replayEvents applies every entry-translated event of an event stream to
// a and returns how many were applied.
func replayEvents(a adapter.Adapter, r io.Reader) (int, error) {
	rd := sse.NewReader(r)
	applied := 0
	for {
		e, err := rd.NextEvent()
		if errors.Is(err, sse.ErrDone) || errors.Is(err, io.EOF) {
			return applied, nil
		}
		if err != nil {
			return applied, err
		}
		changed, err := translate.Apply(a, e)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				logWarning("%v", err)
				continue
			}
			return applied, err
		}
		if changed {
			applied++
		}
	}
}

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

// openInput loads path, detecting the format unless one is given.
func openInput(path, format string) (adapter.Adapter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(path)
	if format == "" {
		return adapter.Open(name, data)
	}
	f, err := adapter.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	a, err := adapter.New(f)
	if err != nil {
		return nil, err
	}
	if err := a.Load(data, name); err != nil {
		return nil, err
	}
	return a, nil
}

// loadGlossary reads path, falling back to the glossary named in
// .lokstudio.yaml.
func loadGlossary(path string) ([]model.Term, error) {
	if path == "" {
		f, err := config.LoadFile(rootDir)
		if err != nil {
			return nil, err
		}
		if f == nil || f.Glossary == "" {
			return nil, nil
		}
		path = f.Glossary
	}
	return config.LoadGlossary(path)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func registerFormatCompletion(cmd *cobra.Command) {
	_ = cmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		var out []string
		for _, f := range adapter.Formats {
			out = append(out, string(f))
		}
		return out, cobra.ShellCompDirectiveNoFileComp
	})
}
