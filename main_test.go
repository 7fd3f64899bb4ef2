package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/minios-linux/lokstudio/checkpoint"
	"github.com/minios-linux/lokstudio/model"
	"github.com/minios-linux/lokstudio/settings"
	"github.com/minios-linux/lokstudio/sse"
	"github.com/minios-linux/lokstudio/translate"
)

const samplePO = `msgid ""
msgstr ""
"Language: de\n"

msgid "Open"
msgstr ""

msgid "Save"
msgstr "Speichern"
`

func setRootDir(t *testing.T, dir string) {
	t.Helper()
	prev := rootDir
	rootDir = dir
	t.Cleanup(func() { rootDir = prev })
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}

func runCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestProgressBar(t *testing.T) {
	tests := []struct {
		name    string
		percent int
		width   int
		want    string
	}{
		{
			name:    "clamps below zero",
			percent: -10,
			width:   4,
			want:    barLow("░░░░") + "   0%",
		},
		{
			name:    "mid range",
			percent: 50,
			width:   4,
			want:    barPartial("██░░") + "  50%",
		},
		{
			name:    "clamps above hundred",
			percent: 120,
			width:   4,
			want:    barGood("████") + " 100%",
		},
	}

	for _, tc := range tests {
		if got := progressBar(tc.percent, tc.width); got != tc.want {
			t.Fatalf("%s: progressBar() = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestPercentAndTruncate(t *testing.T) {
	if got := percent(0, 0); got != 100 {
		t.Errorf("percent(0, 0) = %d, want 100", got)
	}
	if got := percent(1, 3); got != 33 {
		t.Errorf("percent(1, 3) = %d, want 33", got)
	}
	if got := truncateText("short", 10); got != "short" {
		t.Errorf("truncateText(short) = %q", got)
	}
	if got := truncateText("Grüße aus Köln", 6); got != "Grüße…" {
		t.Errorf("truncateText() = %q, want %q", got, "Grüße…")
	}
	if got := truncateText("a\nb", 10); got != "a⏎b" {
		t.Errorf("truncateText() = %q, want newline marker", got)
	}
}

func TestSelectEntries(t *testing.T) {
	cp, err := checkpoint.Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	const target = "po/de.po"
	cp.Update(target, checkpoint.EntryKey("de.po", "Save"), "Save")
	cp.Update(target, checkpoint.EntryKey("de.po", "Close"), "Close window")

	entry := func(id, source, translation string) model.FlatEntry {
		return model.FlatEntry{
			ResourceID: "de.po",
			Entry:      &model.TranslationEntry{ID: id, SourceText: source, TargetText: translation},
		}
	}

	tests := []struct {
		name        string
		entry       model.FlatEntry
		retranslate bool
		want        bool
	}{
		{"untranslated", entry("Open", "Open", ""), false, true},
		{"unchanged source", entry("Save", "Save", "Speichern"), false, false},
		{"changed source", entry("Close", "Close", "Schließen"), false, true},
		{"human translation without fingerprint", entry("Quit", "Quit", "Beenden"), false, false},
		{"retranslate", entry("Save", "Save", "Speichern"), true, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := selectEntries(cp, target, tc.retranslate)(tc.entry); got != tc.want {
				t.Fatalf("selectEntries() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestReplayEvents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "de.po")
	writeFile(t, path, samplePO)
	a, err := openInput(path, "")
	if err != nil {
		t.Fatalf("openInput: %v", err)
	}

	var buf bytes.Buffer
	w := sse.NewWriter(&buf)
	for _, e := range []translate.Event{
		translate.TranslateStart{Total: 2, Batches: 1},
		translate.EntryTranslated{ResourceID: "de.po", EntryID: "Open", TargetText: "Öffnen", Current: 1, Total: 2},
		translate.EntryTranslated{ResourceID: "de.po", EntryID: "Gone", TargetText: "Weg", Current: 2, Total: 2},
		translate.BatchComplete{BatchIndex: 0, Translated: 1},
		translate.Complete{Translated: 1},
	} {
		if err := w.WriteEvent(e); err != nil {
			t.Fatalf("WriteEvent: %v", err)
		}
	}
	if err := w.Done(); err != nil {
		t.Fatalf("Done: %v", err)
	}

	n, err := replayEvents(a, &buf)
	if err != nil {
		t.Fatalf("replayEvents: %v", err)
	}
	if n != 1 {
		t.Fatalf("applied = %d, want 1", n)
	}
	if got := a.Project().Resources[0].Entries[0].TargetText; got != "Öffnen" {
		t.Fatalf("target = %q, want Öffnen", got)
	}
}

func TestInspectJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "de.po")
	writeFile(t, path, samplePO)

	out, err := runCmd(t, "", "--root", dir, "inspect", "--json", path)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	var proj model.TranslationProject
	if err := json.Unmarshal([]byte(out), &proj); err != nil {
		t.Fatalf("output is not a project: %v\n%s", err, out)
	}
	total, translated := proj.Stats()
	if total != 2 || translated != 1 {
		t.Fatalf("stats = %d/%d, want 1/2", translated, total)
	}
	if len(proj.TargetLanguages) != 1 || proj.TargetLanguages[0] != "de" {
		t.Fatalf("target languages = %v", proj.TargetLanguages)
	}
}

func TestExportEvents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "de.po")
	writeFile(t, path, samplePO)

	var events bytes.Buffer
	w := sse.NewWriter(&events)
	if err := w.WriteEvent(translate.EntryTranslated{ResourceID: "de.po", EntryID: "Open", TargetText: "${{acme}} öffnen"}); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	eventsPath := filepath.Join(dir, "run.sse")
	writeFile(t, eventsPath, events.String())
	writeFile(t, filepath.Join(dir, "glossary.yaml"), "- id: acme\n  original: Acme\n  translation: Acme\n")

	outPath := filepath.Join(dir, "out", "de.po")
	if _, err := runCmd(t, "", "--root", dir, "export", path,
		"--events", eventsPath,
		"--glossary", filepath.Join(dir, "glossary.yaml"),
		"-o", outPath); err != nil {
		t.Fatalf("export: %v", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if !strings.Contains(string(data), `msgstr "Acme öffnen"`) {
		t.Fatalf("output lacks resolved translation:\n%s", data)
	}
	if !strings.Contains(string(data), `msgstr "Speichern"`) {
		t.Fatalf("output lost existing translation:\n%s", data)
	}
}

func TestExportSubtitleFlagRejectsOtherFormats(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "de.po")
	writeFile(t, path, samplePO)

	_, err := runCmd(t, "", "--root", dir, "export", path, "--subtitle", "vtt")
	if err == nil || !strings.Contains(err.Error(), "subtitle") {
		t.Fatalf("export --subtitle on PO: err = %v", err)
	}
}

func TestAuthLoginAndList(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv(settings.EnvAPIKey, "")
	t.Setenv("GROQ_API_KEY", "")

	if _, err := runCmd(t, "gsk_test_key_123456\n", "auth", "login", "--provider", "groq"); err != nil {
		t.Fatalf("auth login: %v", err)
	}
	if got := settings.GetAPIKey("groq"); got != "gsk_test_key_123456" {
		t.Fatalf("stored key = %q", got)
	}

	out, err := runCmd(t, "", "auth", "list")
	if err != nil {
		t.Fatalf("auth list: %v", err)
	}
	if !strings.Contains(out, settings.MaskKey("gsk_test_key_123456")) {
		t.Fatalf("list does not show the masked key:\n%s", out)
	}
	if strings.Contains(out, "gsk_test_key_123456") {
		t.Fatalf("list leaks the full key:\n%s", out)
	}

	if _, err := runCmd(t, "", "auth", "logout", "--provider", "groq"); err != nil {
		t.Fatalf("auth logout: %v", err)
	}
	if got := settings.GetAPIKey("groq"); got != "" {
		t.Fatalf("key after logout = %q", got)
	}
}

func TestAuthLoginErrors(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	if _, err := runCmd(t, "", "auth", "login", "--provider", "nope"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if _, err := runCmd(t, "\n", "auth", "login", "--provider", "openai"); err == nil {
		t.Fatal("expected error for empty key")
	}
	if _, err := runCmd(t, "", "auth", "login", "--provider", "ollama"); err != nil {
		t.Fatalf("ollama login: %v", err)
	}
}

func TestValidateProvider(t *testing.T) {
	tests := []struct {
		name    string
		prov    translate.Provider
		wantErr string
	}{
		{"ollama", translate.Provider{ID: translate.ProviderOllama}, ""},
		{"missing key", translate.Provider{ID: translate.ProviderGroq}, "GROQ_API_KEY"},
		{"custom without url", translate.Provider{ID: translate.ProviderCustomOpenAI}, "endpoint URL"},
		{"openrouter without model", translate.Provider{ID: translate.ProviderOpenRouter, APIKey: "k"}, "--model"},
		{"configured", translate.Provider{ID: translate.ProviderOpenAI, APIKey: "k"}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validateProvider(tc.prov)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestCheckpointTarget(t *testing.T) {
	dir := t.TempDir()
	setRootDir(t, dir)

	if got := checkpointTarget(filepath.Join(dir, "po", "de.po")); got != "po/de.po" {
		t.Fatalf("checkpointTarget(inside) = %q, want po/de.po", got)
	}
	outside := filepath.Join(filepath.Dir(dir), "elsewhere.po")
	if got := checkpointTarget(outside); got != filepath.ToSlash(outside) {
		t.Fatalf("checkpointTarget(outside) = %q, want %q", got, filepath.ToSlash(outside))
	}
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.txt")
	if err := writeFileAtomic(path, []byte("one")); err != nil {
		t.Fatalf("writeFileAtomic: %v", err)
	}
	if err := writeFileAtomic(path, []byte("two")); err != nil {
		t.Fatalf("writeFileAtomic (overwrite): %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "two" {
		t.Fatalf("content = %q, %v", data, err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temporary file left behind: %v", err)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "b", "c"); got != "b" {
		t.Fatalf("firstNonEmpty() = %q, want b", got)
	}
	if got := firstNonEmpty(); got != "" {
		t.Fatalf("firstNonEmpty() = %q, want empty", got)
	}
}
