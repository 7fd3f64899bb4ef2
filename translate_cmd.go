package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/minios-linux/lokstudio/adapter"
	"github.com/minios-linux/lokstudio/checkpoint"
	"github.com/minios-linux/lokstudio/config"
	"github.com/minios-linux/lokstudio/i18n"
	"github.com/minios-linux/lokstudio/model"
	"github.com/minios-linux/lokstudio/settings"
	"github.com/minios-linux/lokstudio/sse"
	"github.com/minios-linux/lokstudio/translate"
)

// ---------------------------------------------------------------------------
// Provider flags (shared by translate and serve)
// ---------------------------------------------------------------------------

func addProviderFlags(fs *pflag.FlagSet, f *config.Flags) {
	fs.StringVar(&f.Provider, "provider", "", "AI provider: "+strings.Join(translate.ProviderIDs(), ", ")+" (default from .lokstudio.yaml or openai)")
	fs.StringVar(&f.Model, "model", "", "Model name (default depends on the provider)")
	fs.StringVar(&f.APIKey, "api-key", "", "API key (or "+settings.EnvAPIKey+" env var)")
	fs.StringVar(&f.BaseURL, "base-url", "", "Custom API base URL")
	fs.DurationVar(&f.Timeout, "timeout", 0, "Request timeout (0 = provider default)")
	fs.IntVar(&f.MaxRetries, "max-retries", 0, "Maximum retries on 429 and server errors (0 = provider default)")
	fs.IntVar(&f.BatchSize, "batch-size", 0, fmt.Sprintf("Entries per request (default %d)", translate.DefaultBatchSize))
	fs.StringVar(&f.Prompt, "prompt", "", "Custom system prompt (use {{targetLang}} and {{sourceLang}} placeholders)")
}

func registerProviderCompletion(cmd *cobra.Command) {
	_ = cmd.RegisterFlagCompletionFunc("provider", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{
			"openai\tOpenAI, API key required",
			"groq\tGroq, API key required",
			"openrouter\tOpenRouter, API key required",
			"custom-openai\tCustom OpenAI-compatible endpoint",
			"ollama\tOllama local server",
		}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = cmd.RegisterFlagCompletionFunc("model", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		p, _ := cmd.Flags().GetString("provider")
		switch p {
		case "", translate.ProviderOpenAI:
			return []string{"gpt-4o-mini", "gpt-4o", "gpt-4.1"}, cobra.ShellCompDirectiveNoFileComp
		case translate.ProviderGroq:
			return []string{"llama-3.3-70b-versatile", "mixtral-8x7b-32768"}, cobra.ShellCompDirectiveNoFileComp
		case translate.ProviderOllama:
			return []string{"llama3.2", "qwen2.5", "mistral"}, cobra.ShellCompDirectiveNoFileComp
		}
		return nil, cobra.ShellCompDirectiveNoFileComp
	})
}

// validateProvider explains how to fix a provider that cannot run.
func validateProvider(prov translate.Provider) error {
	switch {
	case prov.ID == translate.ProviderCustomOpenAI && prov.BaseURL == "":
		return fmt.Errorf("provider 'custom-openai' requires an endpoint URL\n\n" +
			"Option 1: Configure via auth:\n" +
			"  lokstudio auth login --provider custom-openai --base-url https://api.example.com/v1\n\n" +
			"Option 2: Pass directly:\n" +
			"  --base-url https://api.example.com/v1")
	case translate.NeedsAPIKey(prov.ID) && prov.APIKey == "":
		env := settings.EnvVarForProvider(prov.ID)
		if env == "" {
			env = settings.EnvAPIKey
		}
		return fmt.Errorf("provider '%s' requires an API key\n\n"+
			"Option 1: Store your API key:\n"+
			"  lokstudio auth login --provider %s\n\n"+
			"Option 2: Pass key directly:\n"+
			"  --api-key YOUR_KEY or export %s=YOUR_KEY", prov.ID, prov.ID, env)
	case prov.ID == translate.ProviderOpenRouter && prov.Model == "":
		return errors.New("provider 'openrouter' requires --model (for example anthropic/claude-3.5-sonnet)")
	}
	return nil
}

// ---------------------------------------------------------------------------
// translate
// ---------------------------------------------------------------------------

type translateArgs struct {
	input        string
	format       string
	output       string
	glossaryPath string
	eventsPath   string
	flags        config.Flags
	retranslate  bool
	skipScan     bool
	dryRun       bool
	verbose      bool
	noProgress   bool
}

func newTranslateCmd() *cobra.Command {
	var a translateArgs

	cmd := &cobra.Command{
		Use:   "translate FILE",
		Short: "Translate a file with AI",
		Long: `Translate the untranslated entries of FILE and write the result in place
(or to --output).

Before translating, the model scans the texts for product terminology; new
terms are added to the glossary and referenced from translations as ${{slug}}.
Progress is saved after every batch, so an interrupted run keeps the
finished batches. When translating in place, the next run continues where
the last one stopped. Entries translated earlier are translated again only
when their source text changed (see lokstudio.lock).

Examples:
  lokstudio translate po/de.po --provider groq
  lokstudio translate site/index.html --to fr -o site/index.fr.html
  lokstudio translate movie.srt --to es --events run.sse`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.input = args[0]
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runTranslate(ctx, a)
		},
	}

	fs := cmd.Flags()
	addProviderFlags(fs, &a.flags)
	fs.StringVar(&a.flags.TargetLang, "to", "", "Target language (default: the file's language or target_lang)")
	fs.StringVar(&a.flags.SourceLang, "from", "", "Source language (default: the file's language or source_lang)")
	fs.StringVar(&a.format, "format", "", "Force the input format")
	fs.StringVarP(&a.output, "output", "o", "", "Output file (default: overwrite FILE)")
	fs.StringVar(&a.glossaryPath, "glossary", "", "YAML glossary file; new terms are saved into it")
	fs.StringVar(&a.eventsPath, "events", "", "Also write the event stream to this file")
	fs.BoolVar(&a.retranslate, "retranslate", false, "Re-translate already translated entries")
	fs.BoolVar(&a.skipScan, "skip-scan", false, "Skip the terminology scan")
	fs.BoolVar(&a.dryRun, "dry-run", false, "Show what would be translated without calling AI")
	fs.BoolVar(&a.verbose, "verbose", false, "Enable detailed logging")
	fs.BoolVar(&a.noProgress, "no-progress", false, "Disable the progress bar")
	registerProviderCompletion(cmd)
	registerFormatCompletion(cmd)

	return cmd
}

// selectEntries picks untranslated entries, plus translated ones whose
// source changed since the checkpoint recorded it.
func selectEntries(cp *checkpoint.File, target string, retranslate bool) func(model.FlatEntry) bool {
	return func(fe model.FlatEntry) bool {
		if retranslate || !fe.Entry.IsTranslated() {
			return true
		}
		key := checkpoint.EntryKey(fe.ResourceID, fe.Entry.ID)
		return cp.Has(target, key) && cp.IsChanged(target, key, fe.Entry.SourceText)
	}
}

func runTranslate(ctx context.Context, a translateArgs) error {
	file, err := config.LoadFile(rootDir)
	if err != nil {
		return err
	}
	res := config.Resolve(file, a.flags)
	if a.glossaryPath != "" {
		res.Glossary = a.glossaryPath
	}
	if a.skipScan {
		res.SkipScan = true
	}

	ad, err := openInput(a.input, a.format)
	if err != nil {
		return err
	}
	proj := ad.Project()

	var fileTarget string
	if len(proj.TargetLanguages) > 0 {
		fileTarget = proj.TargetLanguages[0]
	}
	req := translate.Request{
		SourceLang: firstNonEmpty(a.flags.SourceLang, proj.SourceLanguage, res.SourceLang),
		TargetLang: firstNonEmpty(a.flags.TargetLang, fileTarget, res.TargetLang),
		Format:     string(ad.Format()),
		Context:    proj.Flatten(),
	}
	if req.TargetLang == "" {
		return errors.New("target language unknown: pass --to or set target_lang in " + config.FileName)
	}

	output := a.output
	if output == "" {
		output = a.input
	}
	cp, err := checkpoint.Load(rootDir)
	if err != nil {
		return err
	}
	target := checkpointTarget(output)
	var keys []string
	for _, fe := range req.Context {
		keys = append(keys, checkpoint.EntryKey(fe.ResourceID, fe.Entry.ID))
	}
	if n := cp.Clean(target, keys); n > 0 && a.verbose {
		logInfo("Dropped %d stale checkpoint entries", n)
	}
	if a.verbose {
		logInfo("Checkpoint %s: %s", cp.Path(), cp.Summary())
	}

	req.Entries = translate.ItemsFromProject(proj, selectEntries(cp, target, a.retranslate))
	total, translated := proj.Stats()
	logInfo(i18n.T("%s: %d entries, %d translated, %d to translate (%s → %s)"),
		a.input, total, translated, len(req.Entries), req.SourceLang, req.TargetLang)

	if a.dryRun {
		for _, it := range req.Entries {
			fmt.Printf("  %s/%s: %s\n", it.ResourceID, it.EntryID, truncateText(it.SourceText, 70))
		}
		return nil
	}
	if len(req.Entries) == 0 {
		logSuccess(i18n.T("Nothing to translate"))
		return nil
	}

	if res.Glossary != "" {
		if req.Glossary, err = config.LoadGlossary(res.Glossary); err != nil {
			return err
		}
	}

	if path, err := translate.LoadPromptsFromDefaultLocations(); err != nil {
		logWarning("Could not load prompts: %v", err)
	} else if a.verbose && path != "" {
		logInfo("Prompts: %s", path)
	}

	prov := res.ProviderConfig()
	prov.Verbose = a.verbose
	prov.OnLog = logWarning
	if err := validateProvider(prov); err != nil {
		return err
	}
	gen, err := translate.NewGenerator(prov)
	if err != nil {
		return err
	}
	logInfo(i18n.T("Provider: %s, model: %s"), prov.Name, firstNonEmpty(prov.Model, "default"))

	opts := translate.Options{
		BatchSize:    res.BatchSize,
		SystemPrompt: res.Prompt,
		SkipScan:     res.SkipScan,
		OnError:      logWarning,
		Verbose:      a.verbose,
	}
	if a.verbose {
		opts.OnLog = logInfo
	}

	var events *sse.Writer
	if a.eventsPath != "" {
		f, err := os.Create(a.eventsPath)
		if err != nil {
			return err
		}
		defer f.Close()
		events = sse.NewWriter(f)
	}

	r := &translateRun{
		args:    a,
		adapter: ad,
		req:     req,
		cp:      cp,
		target:  target,
		output:  output,
		res:     res,
		events:  events,
		batch:   opts.BatchSize,
	}
	return r.run(ctx, translate.New(gen, opts))
}

// translateRun applies the events of one orchestrator run to the file.
type translateRun struct {
	args    translateArgs
	adapter adapter.Adapter
	req     translate.Request
	cp      *checkpoint.File
	target  string
	output  string
	res     config.Resolved
	events  *sse.Writer
	batch   int

	bar     *progressbar.ProgressBar
	sources map[string]string
	pending []string
	terms   []model.Term
}

func (r *translateRun) run(ctx context.Context, orch *translate.Orchestrator) error {
	r.sources = make(map[string]string, len(r.req.Entries))
	for _, it := range r.req.Entries {
		r.sources[checkpoint.EntryKey(it.ResourceID, it.EntryID)] = it.SourceText
	}
	r.terms = append(r.terms, r.req.Glossary...)
	if !r.args.noProgress {
		r.bar = progressbar.NewOptions(len(r.req.Entries),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription(fmt.Sprintf("[cyan]%s[reset]", filepath.Base(r.args.input))),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
			progressbar.OptionClearOnFinish())
	}

	start := time.Now()
	var done *translate.Complete
	for e := range orch.Run(ctx, r.req) {
		if r.events != nil {
			if err := r.events.WriteEvent(e); err != nil {
				logWarning("Writing event stream: %v", err)
				r.events = nil
			}
		}
		if err := r.handle(e); err != nil {
			return err
		}
		if c, ok := e.(translate.Complete); ok {
			done = &c
		}
	}
	if r.bar != nil {
		_ = r.bar.Finish()
	}
	if err := r.flush(); err != nil {
		return err
	}

	if done == nil {
		state, batch := orch.State()
		logWarning(i18n.T("Interrupted (%s, batch %d); finished batches were saved"), state, batch+1)
		return ctx.Err()
	}
	if r.events != nil {
		_ = r.events.Done()
	}
	logSuccess(i18n.T("Translated %d entries in %s (%d failed)"), done.Translated, time.Since(start).Round(time.Second), done.Failed)
	if r.output != r.args.input {
		logSuccess(i18n.T("Wrote %s"), r.output)
	}
	return nil
}

func (r *translateRun) handle(e translate.Event) error {
	switch ev := e.(type) {
	case translate.TerminologyFound:
		if len(ev.Terms) == 0 {
			return nil
		}
		r.terms = append(r.terms, ev.Terms...)
		r.logf(i18n.N("Found %d new term", "Found %d new terms", len(ev.Terms)), len(ev.Terms))
		if r.res.Glossary != "" {
			if err := config.SaveGlossary(r.res.Glossary, r.terms); err != nil {
				return err
			}
		}

	case translate.EntryTranslated:
		if _, err := translate.Apply(r.adapter, ev); err != nil {
			return err
		}
		r.pending = append(r.pending, checkpoint.EntryKey(ev.ResourceID, ev.EntryID))
		if r.bar != nil {
			_ = r.bar.Add(1)
		}

	case translate.ErrorEvent:
		r.warnf("%s", ev.Message)

	case translate.BatchComplete:
		if r.bar != nil {
			_ = r.bar.Set(min((ev.BatchIndex+1)*r.batchSize(), len(r.req.Entries)))
		}
		return r.flush()

	case translate.TermResolutionComplete:
		if len(ev.Unresolved) > 0 {
			r.warnf(i18n.T("Unknown term references left as text: %s"), strings.Join(ev.Unresolved, ", "))
		}
	}
	return nil
}

func (r *translateRun) batchSize() int {
	if r.batch > 0 {
		return r.batch
	}
	return translate.DefaultBatchSize
}

// flush writes the output file and records the translated entries in the
// checkpoint.
func (r *translateRun) flush() error {
	if len(r.pending) == 0 {
		return nil
	}
	exp, err := r.adapter.Export(r.terms)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(r.output, exp.Data); err != nil {
		return err
	}
	for _, key := range r.pending {
		r.cp.Update(r.target, key, r.sources[key])
	}
	r.pending = r.pending[:0]
	return r.cp.Save()
}

func (r *translateRun) logf(format string, args ...any) {
	if r.bar != nil {
		_ = r.bar.Clear()
	}
	logInfo(format, args...)
}

func (r *translateRun) warnf(format string, args ...any) {
	if r.bar != nil {
		_ = r.bar.Clear()
	}
	logWarning(format, args...)
}

// checkpointTarget is the output path relative to the project root.
func checkpointTarget(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return checkpoint.TargetKey(path)
	}
	root, err := filepath.Abs(rootDir)
	if err != nil {
		return checkpoint.TargetKey(path)
	}
	if rel, err := filepath.Rel(root, abs); err == nil && !strings.HasPrefix(rel, "..") {
		return checkpoint.TargetKey(rel)
	}
	return checkpoint.TargetKey(abs)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
