// Package translate drives AI-assisted batch translation: a terminology
// scan over the whole entry set followed by sequential batches of
// streamed translations, reported as an ordered sequence of events.
//
// Generators talk to OpenAI-compatible APIs (OpenAI, Groq, OpenRouter,
// custom endpoints) and to Ollama.
package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"
	"sync"

	"github.com/minios-linux/lokstudio/glossary"
	"github.com/minios-linux/lokstudio/model"
	"github.com/minios-linux/lokstudio/tools"
)

// DefaultBatchSize is the number of entries per generation call.
const DefaultBatchSize = 20

// ---------------------------------------------------------------------------
// Request
// ---------------------------------------------------------------------------

// Item is one entry to translate.
type Item struct {
	ResourceID string
	EntryID    string
	// Index is the entry's position in the flattened project, used by the
	// neighbour lookups.
	Index      int
	SourceText string
	Context    string
	Comment    string
	MaxLength  int
}

// Request describes one translation run.
type Request struct {
	Entries    []Item
	SourceLang string
	TargetLang string
	// Format is the adapter format name; it selects the batch prompt.
	Format   string
	Glossary []model.Term
	// Context is the whole flattened project, offered to the generator
	// through the lookup tools.
	Context []model.FlatEntry
}

// ItemsFromProject builds items for every entry of p accepted by keep.
// A nil keep selects untranslated entries.
func ItemsFromProject(p *model.TranslationProject, keep func(model.FlatEntry) bool) []Item {
	if keep == nil {
		keep = func(fe model.FlatEntry) bool { return !fe.Entry.IsTranslated() }
	}
	var items []Item
	for _, fe := range p.Flatten() {
		if !keep(fe) {
			continue
		}
		items = append(items, Item{
			ResourceID: fe.ResourceID,
			EntryID:    fe.Entry.ID,
			Index:      fe.Index,
			SourceText: fe.Entry.SourceText,
			Context:    fe.Entry.Context,
			Comment:    fe.Entry.Comment,
			MaxLength:  fe.Entry.MaxLength,
		})
	}
	return items
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Options controls the orchestrator.
type Options struct {
	// BatchSize is how many entries go into one generation call. Default: 20.
	BatchSize int
	// SystemPrompt overrides the batch system prompt.
	SystemPrompt string
	// PromptType selects a loaded prompt; empty derives it from the format.
	// If SystemPrompt is set, this is ignored.
	PromptType string
	// SkipScan disables the terminology scan.
	SkipScan bool
	// OnLog emits log messages during translation.
	OnLog func(format string, args ...any)
	// OnError emits error messages during translation.
	OnError func(format string, args ...any)
	// Verbose enables detailed logging.
	Verbose bool
}

func (o *Options) log(format string, args ...any) {
	if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) logError(format string, args ...any) {
	if o.OnError != nil {
		o.OnError(format, args...)
	} else if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) effectiveBatchSize() int {
	if o.BatchSize > 0 {
		return o.BatchSize
	}
	return DefaultBatchSize
}

// resolvedPrompt returns the batch system prompt with languages filled in.
func (o *Options) resolvedPrompt(req Request) string {
	prompt := o.SystemPrompt
	if prompt == "" {
		promptType := o.PromptType
		if promptType == "" {
			promptType = PromptTypeForFormat(req.Format)
		}
		prompt = getPrompt(promptType)
	}
	return fillPrompt(prompt, req.SourceLang, req.TargetLang)
}

// ---------------------------------------------------------------------------
// State
// ---------------------------------------------------------------------------

// State is the phase of the current run.
type State string

const (
	StateIdle           State = "idle"
	StateScanning       State = "scanning"
	StateTranslating    State = "translating"
	StateResolvingTerms State = "resolving-terms"
	StateComplete       State = "complete"
	StateCancelled      State = "cancelled"
)

// ---------------------------------------------------------------------------
// Orchestrator
// ---------------------------------------------------------------------------

// Orchestrator runs translation requests against a generator. Runs on the
// same orchestrator must not overlap.
type Orchestrator struct {
	Generator Generator
	Options   Options

	mu    sync.Mutex
	state State
	batch int
}

// New creates an orchestrator.
func New(gen Generator, opts Options) *Orchestrator {
	return &Orchestrator{Generator: gen, Options: opts, state: StateIdle}
}

// State returns the current phase and, while translating, the batch index.
func (o *Orchestrator) State() (State, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == "" {
		return StateIdle, 0
	}
	return o.state, o.batch
}

func (o *Orchestrator) setState(s State, batch int) {
	o.mu.Lock()
	o.state, o.batch = s, batch
	o.mu.Unlock()
}

// Run returns the event sequence of one translation run. Nothing happens
// until the sequence is iterated. The sequence ends with Complete unless
// ctx is cancelled or the consumer stops early, in which case the state
// becomes cancelled and the in-flight generation call is aborted.
func (o *Orchestrator) Run(ctx context.Context, req Request) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		r := &run{o: o, ctx: ctx, req: req, yield: yield}
		if !r.execute() {
			o.setState(StateCancelled, r.batch)
			o.Options.log("Translation cancelled after %d entries", r.translated)
		}
	}
}

// run is the state of one Run invocation.
type run struct {
	o     *Orchestrator
	ctx   context.Context
	req   Request
	yield func(Event) bool

	terms      []model.Term
	batch      int
	translated int
	failed     int
	texts      []string
}

// emit forwards e and reports whether the run may continue.
func (r *run) emit(e Event) bool {
	if r.ctx.Err() != nil {
		return false
	}
	return r.yield(e)
}

func (r *run) execute() bool {
	if !r.scan() {
		return false
	}
	if !r.translate() {
		return false
	}
	r.o.setState(StateResolvingTerms, r.batch)
	if !r.emit(r.resolveTerms()) {
		return false
	}
	r.o.setState(StateComplete, r.batch)
	r.o.Options.log("Translated %d entries, %d failed", r.translated, r.failed)
	r.yield(Complete{Translated: r.translated, Failed: r.failed})
	return true
}

// ---------------------------------------------------------------------------
// Phase 1: terminology scan
// ---------------------------------------------------------------------------

type scanInput struct {
	Texts    []string       `json:"texts"`
	Glossary []glossaryLine `json:"glossary"`
}

type glossaryLine struct {
	ID          string `json:"id"`
	Original    string `json:"original"`
	Translation string `json:"translation"`
}

func glossaryLines(terms []model.Term) []glossaryLine {
	out := make([]glossaryLine, 0, len(terms))
	for _, t := range terms {
		out = append(out, glossaryLine{ID: t.ID, Original: t.OriginalText, Translation: t.Translation})
	}
	return out
}

func (r *run) scan() bool {
	r.o.setState(StateScanning, 0)
	r.terms = append([]model.Term(nil), r.req.Glossary...)
	if !r.emit(TerminologyScanStart{}) {
		return false
	}
	if r.o.Options.SkipScan || len(r.req.Entries) == 0 {
		return r.emit(TerminologyFound{Terms: []model.Term{}})
	}

	input := scanInput{Glossary: glossaryLines(r.terms)}
	seen := make(map[string]bool)
	for _, it := range r.req.Entries {
		if !seen[it.SourceText] {
			seen[it.SourceText] = true
			input.Texts = append(input.Texts, it.SourceText)
		}
	}
	user, _ := json.Marshal(input)

	r.o.Options.log("Scanning %d texts for terminology...", len(input.Texts))
	text, err := r.o.Generator.Generate(r.ctx, Prompt{
		System: fillPrompt(getPrompt(PromptTerminology), r.req.SourceLang, r.req.TargetLang),
		User:   string(user),
		JSON:   true,
	})
	var found []model.Term
	if err == nil {
		found, err = parseTerms(text)
	}
	if err != nil {
		if r.ctx.Err() != nil {
			return false
		}
		r.o.Options.logError("Terminology scan failed: %v", err)
		if !r.emit(ErrorEvent{Message: fmt.Sprintf("terminology scan: %v", err)}) {
			return false
		}
		found = nil
	}

	var added []model.Term
	r.terms, added = glossary.Merge(r.terms, found)
	if added == nil {
		added = []model.Term{}
	}
	r.o.Options.log("Found %d new terms", len(added))
	return r.emit(TerminologyFound{Terms: added})
}

// ---------------------------------------------------------------------------
// Phase 2: batches
// ---------------------------------------------------------------------------

type batchEntry struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Context   string `json:"context,omitempty"`
	Comment   string `json:"comment,omitempty"`
	MaxLength int    `json:"maxLength,omitempty"`
	Index     int    `json:"index"`
}

type batchInput struct {
	Entries  []batchEntry   `json:"entries"`
	Glossary []glossaryLine `json:"glossary"`
}

// splitBatches cuts items into consecutive slices of at most size.
func splitBatches(items []Item, size int) [][]Item {
	var out [][]Item
	for i := 0; i < len(items); i += size {
		out = append(out, items[i:min(i+size, len(items))])
	}
	return out
}

func (r *run) translate() bool {
	batches := splitBatches(r.req.Entries, r.o.Options.effectiveBatchSize())
	r.o.setState(StateTranslating, 0)
	if !r.emit(TranslateStart{Total: len(r.req.Entries), Batches: len(batches)}) {
		return false
	}

	system := r.o.Options.resolvedPrompt(r.req)
	var tb *tools.Toolbox
	if len(r.req.Context) > 0 || len(r.terms) > 0 {
		tb = tools.New(r.terms, r.req.Context)
	}

	for i, batch := range batches {
		if r.ctx.Err() != nil {
			return false
		}
		r.batch = i
		r.o.setState(StateTranslating, i)
		r.o.Options.log("Translating batch %d/%d (%d entries)...", i+1, len(batches), len(batch))

		results, err := r.translateBatch(system, batch, tb)
		if r.ctx.Err() != nil {
			return false
		}
		applied := 0
		if err != nil {
			r.o.Options.logError("Batch %d failed: %v", i+1, err)
			idx := i
			if !r.emit(ErrorEvent{Message: fmt.Sprintf("batch %d: %v", i+1, err), BatchIndex: &idx}) {
				return false
			}
		} else {
			for k, it := range batch {
				text, ok := results[strconv.Itoa(k+1)]
				if !ok || text == "" {
					continue
				}
				applied++
				r.translated++
				r.texts = append(r.texts, text)
				if !r.emit(EntryTranslated{
					ResourceID: it.ResourceID,
					EntryID:    it.EntryID,
					TargetText: text,
					Current:    r.translated,
					Total:      len(r.req.Entries),
				}) {
					return false
				}
			}
		}
		r.failed += len(batch) - applied
		if !r.emit(BatchComplete{BatchIndex: i, Translated: applied}) {
			return false
		}
	}
	return true
}

// translateBatch streams one batch and returns target texts keyed by the
// batch-local ids "1".."n". Output is parsed only after the stream ends.
func (r *run) translateBatch(system string, batch []Item, tb *tools.Toolbox) (map[string]string, error) {
	input := batchInput{Glossary: glossaryLines(r.terms)}
	for k, it := range batch {
		input.Entries = append(input.Entries, batchEntry{
			ID:        strconv.Itoa(k + 1),
			Text:      it.SourceText,
			Context:   it.Context,
			Comment:   it.Comment,
			MaxLength: it.MaxLength,
			Index:     it.Index,
		})
	}
	user, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encoding batch: %w", err)
	}

	stream, err := r.o.Generator.Stream(r.ctx, Prompt{System: system, User: string(user), JSON: true, Tools: tb})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var buf strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		buf.WriteString(chunk)
	}
	if r.o.Options.Verbose {
		r.o.Options.log("[DEBUG] batch response: %s", truncate(buf.String(), 500))
	}

	parsed, err := parseTranslations(buf.String())
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(parsed))
	for _, t := range parsed {
		out[t.ID] = t.TargetText
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Phase 3: term resolution
// ---------------------------------------------------------------------------

func (r *run) resolveTerms() TermResolutionComplete {
	known := glossary.Index(r.terms)
	res := TermResolutionComplete{Referenced: []string{}, Unresolved: []string{}}
	seen := make(map[string]bool)
	for _, text := range r.texts {
		for _, slug := range glossary.Parse(text).Slugs() {
			if seen[slug] {
				continue
			}
			seen[slug] = true
			res.Referenced = append(res.Referenced, slug)
			if _, ok := known[slug]; !ok {
				res.Unresolved = append(res.Unresolved, slug)
			}
		}
	}
	return res
}
