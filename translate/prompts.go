package translate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/minios-linux/lokstudio/settings"
)

// ---------------------------------------------------------------------------
// System Prompts Configuration
// ---------------------------------------------------------------------------

// Prompt types. The batch prompt follows the request's format hint.
const (
	PromptDefault     = "default"
	PromptTerminology = "terminology"
	PromptSubtitle    = "subtitle"
	PromptHTML        = "html"
	PromptDocument    = "document"
)

// PromptsConfig holds all system prompts loaded from prompts.json
type PromptsConfig struct {
	Prompts map[string]string `json:"prompts"`
}

// globalPrompts holds the loaded prompts configuration
var globalPrompts *PromptsConfig

// LoadPromptsFromFile loads system prompts from a JSON file.
// A missing file is not an error; the built-in prompts stay in effect.
func LoadPromptsFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read prompts file: %w", err)
	}

	var config PromptsConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse prompts file: %w", err)
	}

	globalPrompts = &config
	return nil
}

// defaultPromptsMap returns all built-in system prompts as a map.
func defaultPromptsMap() map[string]string {
	return map[string]string{
		PromptDefault:     DefaultSystemPrompt,
		PromptTerminology: TerminologySystemPrompt,
		PromptSubtitle:    SubtitleSystemPrompt,
		PromptHTML:        HTMLSystemPrompt,
		PromptDocument:    DocumentSystemPrompt,
	}
}

// createDefaultPromptsFile writes the built-in prompts to path as a formatted JSON file.
func createDefaultPromptsFile(path string) error {
	config := PromptsConfig{
		Prompts: defaultPromptsMap(),
	}
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling default prompts: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating prompts directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing default prompts file: %w", err)
	}
	return nil
}

// LoadPromptsFromDefaultLocations loads prompts.json from the user data
// directory, creating it with the built-in prompts first if it does not
// exist. It returns the path of the loaded file.
func LoadPromptsFromDefaultLocations() (string, error) {
	path, err := settings.PromptsFilePath()
	if err != nil {
		return "", fmt.Errorf("cannot determine prompts file path: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createDefaultPromptsFile(path); err != nil {
			return "", fmt.Errorf("creating default prompts file: %w", err)
		}
	}

	if err := LoadPromptsFromFile(path); err != nil {
		return "", err
	}
	if globalPrompts != nil {
		return path, nil
	}
	return "", nil
}

// getPrompt returns the system prompt for a type, preferring loaded
// prompts over the built-in ones.
func getPrompt(promptType string) string {
	if globalPrompts != nil {
		if prompt, ok := globalPrompts.Prompts[promptType]; ok && prompt != "" {
			return prompt
		}
	}
	if prompt, ok := defaultPromptsMap()[promptType]; ok {
		return prompt
	}
	return DefaultSystemPrompt
}

// PromptTypeForFormat maps an adapter format name to its batch prompt.
func PromptTypeForFormat(format string) string {
	switch format {
	case "subtitle":
		return PromptSubtitle
	case "html":
		return PromptHTML
	case "document":
		return PromptDocument
	}
	return PromptDefault
}

// fillPrompt substitutes the language placeholders.
func fillPrompt(prompt, sourceLang, targetLang string) string {
	return strings.NewReplacer(
		"{{targetLang}}", LanguageName(targetLang),
		"{{sourceLang}}", LanguageName(sourceLang),
	).Replace(prompt)
}

// LanguageName returns "English name (native name)" for a BCP 47 code,
// or the code itself when it cannot be parsed.
func LanguageName(code string) string {
	if code == "" {
		return "the source language"
	}
	tag, err := language.Parse(strings.ReplaceAll(code, "_", "-"))
	if err != nil {
		return code
	}
	en := display.English.Tags().Name(tag)
	self := display.Self.Name(tag)
	switch {
	case en == "":
		return code
	case self == "" || self == en:
		return en
	}
	return en + " (" + self + ")"
}

// ---------------------------------------------------------------------------
// Built-in prompts
// ---------------------------------------------------------------------------

const jsonContract = `
TECHNICAL REQUIREMENTS:
- The user message is a JSON object with "entries": [{"id", "text", "context"?, "comment"?, "maxLength"?, "index"}] and "glossary": [{"id", "original", "translation"}].
- Return ONLY a JSON object of the form {"translations": [{"id": "<entry id>", "targetText": "<translation>"}]}, one item per entry, using the ids exactly as given.
- When a glossary term occurs, write ${{term-id}} in place of its translation instead of translating it yourself.
- Respect maxLength when present.
- Preserve all format specifiers exactly as-is (%s, %d, %@, %1$s, {name}, etc.).
- Preserve leading/trailing whitespace, newlines, and punctuation patterns.
- Keep brand names and proper nouns unchanged.
- The lookup functions, when available, return neighbouring entries (by "index") and glossary terms; use them only when the context is unclear.
- Return ONLY the JSON object, no explanations or markdown code blocks.`

// DefaultSystemPrompt is used for software UI strings (XLIFF, PO).
const DefaultSystemPrompt = `You are a professional translator specializing in software and product localization. You are translating UI strings from {{sourceLang}} into {{targetLang}}.

CONTEXT AWARENESS:
- The audience is software users
- Tone: professional yet approachable, clear and concise
- Use IT/software terminology that is standard in {{targetLang}} tech community

IMPORTANT TRANSLATION PRINCIPLES:
- Translate for NATURALNESS and FLUENCY in the target language, not word-for-word
- Use idiomatic expressions natural to {{targetLang}}, not literal translations
- Maintain the original tone and intent, but express it naturally in {{targetLang}}
` + jsonContract

// SubtitleSystemPrompt is used for timed text.
const SubtitleSystemPrompt = `You are a professional subtitle translator. You are translating subtitle cues from {{sourceLang}} into {{targetLang}}.

SUBTITLE RULES:
- Each entry is one cue; its context is the cue timing
- Keep lines short and readable at speaking speed
- Keep the number of lines of a cue where possible
- Preserve inline tags such as <i>, <b> and {\an8} exactly
- Use natural spoken {{targetLang}}, not written register
` + jsonContract

// HTMLSystemPrompt is used for HTML pages.
const HTMLSystemPrompt = `You are a professional web content translator. You are translating text extracted from an HTML page from {{sourceLang}} into {{targetLang}}.

HTML RULES:
- Each entry is the text of one element or one attribute (alt, title, placeholder, aria-label)
- Return plain text only; never add markup
- Keep URLs, e-mail addresses and code unchanged
` + jsonContract

// DocumentSystemPrompt is used for Markdown and plain text documents.
const DocumentSystemPrompt = `You are a professional translator of technical documentation. You are translating Markdown paragraphs and headings from {{sourceLang}} into {{targetLang}}.

DOCUMENT RULES:
- Preserve Markdown inline markup (links, emphasis, inline code) exactly; translate only the visible text
- Do NOT translate inline code, URLs, file paths, command names or option flags
- Use the formal register typical of technical documentation
` + jsonContract

// TerminologySystemPrompt drives the glossary scan.
const TerminologySystemPrompt = `You are a terminology specialist preparing a glossary for translating a software product from {{sourceLang}} into {{targetLang}}.

TASK:
- Read the source texts in the user message and pick the product names, domain terms and recurring phrases that must be translated consistently.
- Skip terms already listed under "glossary".
- Skip common words that need no glossary entry.
- For each term give a short lowercase id made of words joined by hyphens, the original text exactly as it appears, the recommended {{targetLang}} translation (or the original for names that stay untranslated) and an optional comment.

Return ONLY a JSON object of the form {"terms": [{"id": "...", "originalText": "...", "translation": "...", "comment": "..."}]}, no explanations or markdown code blocks.`
