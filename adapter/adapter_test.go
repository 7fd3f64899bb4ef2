package adapter

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/minios-linux/lokstudio/model"
	"github.com/minios-linux/lokstudio/pofile"
	"github.com/minios-linux/lokstudio/subtitle"
	"github.com/minios-linux/lokstudio/xliff"
)

const hashPO = `msgid ""
msgstr ""
"Language: de\n"

msgid "hzSNj4"
msgstr ""

msgid "tWcRaD"
msgstr ""

msgid "Qm3xPz"
msgstr ""

msgid "bK9fLe"
msgstr ""
`

const referencePO = `msgid ""
msgstr ""
"Language: en\n"

msgid "hzSNj4"
msgstr "Welcome back"

msgid "tWcRaD"
msgstr "Sign in"

msgid "Qm3xPz"
msgstr "Forgot password?"

msgid "bK9fLe"
msgstr "Create account"
`

const pluralPO = `msgid ""
msgstr ""
"Language: de\n"
"Plural-Forms: nplurals=2; plural=(n != 1);\n"

# Toolbar
#: src/main.c:10
msgid "Open"
msgstr ""

msgctxt "menu"
msgid "Open"
msgstr "Öffnen"

msgid "One file"
msgid_plural "%d files"
msgstr[0] ""
msgstr[1] ""
`

const sampleXLIFF = `<?xml version="1.0" encoding="UTF-8"?>
<xliff xmlns="urn:oasis:names:tc:xliff:document:1.2" version="1.2">
  <file original="App/en.lproj/Localizable.strings" source-language="en" target-language="fr" datatype="plaintext">
    <header>
      <tool tool-id="com.apple.dt.xcode" tool-name="Xcode" tool-version="15.0" build-num="15A240d"/>
    </header>
    <body>
      <trans-unit id="greeting %@" xml:space="preserve">
        <source>Hello, %@!</source>
        <target state="translated">Bonjour, %@ !</target>
      </trans-unit>
      <trans-unit id="quit" xml:space="preserve">
        <source>Quit &amp; Save</source>
        <note>Menu item</note>
      </trans-unit>
    </body>
  </file>
</xliff>
`

const sampleVTT = "WEBVTT\n\nintro\n00:00:01.000 --> 00:00:03.500 align:start\nHello there\n\n00:00:04.000 --> 00:00:06.000\nGeneral Kenobi\nYou are a bold one\n"

const sampleHTML = `<!DOCTYPE html>
<html><head><title>Demo</title></head>
<body>
<h1>Welcome</h1>
<p>Read the <a href="/docs">docs</a> first.</p>
<img src="logo.png" alt="Company logo">
<script>var x = "<p>not text</p>";</script>
</body></html>
`

const sampleMD = `---
title: Guide
---

# Install

Run the installer.
`

func zipBundle(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, m := range []struct{ name, body string }{
		{"fr.xcloc/contents.json", `{"developmentRegion":"en","targetLocale":"fr","version":"1.0"}`},
		{"fr.xcloc/Localized Contents/fr.xliff", sampleXLIFF},
	} {
		w, err := zw.Create(m.name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(m.body))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func mustOpen(t *testing.T, name string, payload []byte) Adapter {
	t.Helper()
	a, err := Open(name, payload)
	if err != nil {
		t.Fatalf("Open(%s): %v", name, err)
	}
	return a
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Format
	}{
		{"a.po", "x", PO},
		{"a.XLF", "x", XLIFF},
		{"a.srt", "x", Subtitle},
		{"a.htm", "x", HTML},
		{"a.md", "x", Document},
		{"upload", sampleXLIFF, XLIFF},
		{"upload", sampleVTT, Subtitle},
		{"upload", "1\n00:00:01,000 --> 00:00:02,000\nHi\n", Subtitle},
		{"upload", hashPO, PO},
		{"upload", "<div><p>Hi</p></div>", HTML},
		{"upload", "Just some words.", Document},
		{"upload", string(zipBundle(t)), XLIFF},
	}
	for _, tt := range tests {
		got, err := Detect(tt.name, []byte(tt.payload))
		if err != nil {
			t.Fatalf("Detect(%s): %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("Detect(%s, %.20q) = %s, want %s", tt.name, tt.payload, got, tt.want)
		}
	}
	if _, err := Detect("a.po", []byte("  \n")); err == nil {
		t.Error("empty payload should fail detection")
	}
}

func TestRoundTripIdentity(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"messages.po", pluralPO},
		{"hash.po", hashPO},
		{"bare-comment.po", "msgid \"\"\nmsgstr \"\"\n\"Language: de\\n\"\n\n#\nmsgid \"Hello\"\nmsgstr \"\"\n\n# \n#\n# keep\nmsgid \"Bye\"\nmsgstr \"Tschüss\"\n"},
		{"Localizable.xliff", sampleXLIFF},
		{"talk.vtt", sampleVTT},
		{"talk.srt", "1\r\n00:00:01,000 --> 00:00:02,000\r\nHi\r\n\r\n2\r\n00:00:03,000 --> 00:00:04,000\r\nBye\r\n"},
		{"index.html", "\ufeff" + sampleHTML},
		{"guide.md", sampleMD},
	}
	for _, tt := range tests {
		a := mustOpen(t, tt.name, []byte(tt.payload))
		out, err := a.Export(nil)
		if err != nil {
			t.Fatalf("%s: Export: %v", tt.name, err)
		}
		if string(out.Data) != tt.payload {
			t.Errorf("%s: round trip changed the file:\n%q", tt.name, out.Data)
		}
		if out.FileName != tt.name {
			t.Errorf("%s: FileName = %q", tt.name, out.FileName)
		}
	}
}

func TestBundleRoundTrip(t *testing.T) {
	a := mustOpen(t, "fr.xcloc.zip", zipBundle(t))
	p := a.Project()
	if p.SourceLanguage != "en" || len(p.TargetLanguages) != 1 || p.TargetLanguages[0] != "fr" {
		t.Fatalf("languages = %q %q", p.SourceLanguage, p.TargetLanguages)
	}
	out, err := a.Export(nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := xliff.ReadBundle(out.Data)
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Members) != 2 || b.Members[0].Name != "fr.xcloc/contents.json" {
		t.Fatalf("members = %+v", b.Members)
	}
	if got := string(b.Members[1].Data); got != sampleXLIFF {
		t.Fatalf("xliff member changed:\n%s", got)
	}
	if out.FileName != "fr.xcloc.zip" {
		t.Errorf("FileName = %q", out.FileName)
	}
}

func TestXLIFFUpdates(t *testing.T) {
	a := mustOpen(t, "Localizable.xliff", []byte(sampleXLIFF))
	res := a.Project().Resources[0]
	if res.ID != "App/en.lproj/Localizable.strings" || res.Label != "Localizable.strings" {
		t.Fatalf("resource = %q %q", res.ID, res.Label)
	}
	if e, _ := res.Entry("greeting %@"); e == nil || e.TargetText != "Bonjour, %@ !" || e.Metadata["state"] != "translated" {
		t.Fatalf("greeting entry = %+v", e)
	}

	if err := a.UpdateEntry(model.SetTarget(res.ID, "quit", "Quitter & enregistrer")); err != nil {
		t.Fatal(err)
	}
	if err := a.UpdateEntry(model.SetTarget(res.ID, "greeting %@", "")); err != nil {
		t.Fatal(err)
	}
	out, err := a.Export(nil)
	if err != nil {
		t.Fatal(err)
	}
	got := string(out.Data)
	if strings.Contains(got, "Bonjour") || strings.Contains(got, "<target></target>") {
		t.Errorf("emptied target still emitted:\n%s", got)
	}
	if !strings.Contains(got, `<target state="translated">Quitter &amp; enregistrer</target>`) {
		t.Errorf("new target missing:\n%s", got)
	}
	if !strings.Contains(got, `<trans-unit id="greeting %@" xml:space="preserve">`) {
		t.Errorf("format specifier in id altered:\n%s", got)
	}
}

func TestPOProjection(t *testing.T) {
	a := mustOpen(t, "messages.po", []byte(pluralPO))
	res := a.Project().Resources[0]
	if res.TargetLanguage != "de" {
		t.Errorf("TargetLanguage = %q", res.TargetLanguage)
	}
	var ids []string
	for _, e := range res.Entries {
		ids = append(ids, e.ID)
	}
	want := []string{"Open", "menu\x04Open", "One file[0]", "One file[1]"}
	if strings.Join(ids, "|") != strings.Join(want, "|") {
		t.Fatalf("ids = %q, want %q", ids, want)
	}
	if res.Entries[0].Comment != "Toolbar" || res.Entries[1].Context != "menu" || res.Entries[1].TargetText != "Öffnen" {
		t.Errorf("entries = %+v %+v", res.Entries[0], res.Entries[1])
	}
	if res.Entries[2].PluralForm != model.PluralOne || res.Entries[3].PluralForm != model.PluralOther {
		t.Errorf("plural forms = %q %q", res.Entries[2].PluralForm, res.Entries[3].PluralForm)
	}
	if res.Entries[3].SourceText != "%d files" {
		t.Errorf("plural source = %q", res.Entries[3].SourceText)
	}

	err := a.UpdateEntries([]model.EntryUpdate{
		model.SetTarget(res.ID, "Open", "Öffnen"),
		model.SetTarget(res.ID, "One file[0]", "Eine Datei"),
		model.SetTarget(res.ID, "One file[1]", "%d Dateien"),
	})
	if err != nil {
		t.Fatal(err)
	}
	out, _ := a.Export(nil)
	f, err := pofile.ParseBytes(out.Data)
	if err != nil {
		t.Fatalf("exported catalog does not parse: %v\n%s", err, out.Data)
	}
	if e := f.EntryByKey("Open"); e == nil || e.MsgStr != "Öffnen" || len(e.References) != 1 {
		t.Errorf("Open = %+v", e)
	}
	if e := f.EntryByKey("One file"); e == nil || e.MsgStrPlural[0] != "Eine Datei" || e.MsgStrPlural[1] != "%d Dateien" {
		t.Errorf("plural = %+v", e)
	}
}

func TestUpdateNotFound(t *testing.T) {
	a := mustOpen(t, "messages.po", []byte(pluralPO))
	err := a.UpdateEntry(model.SetTarget("nope.po", "Open", "x"))
	var nf *model.NotFoundError
	if !errors.As(err, &nf) || nf.Kind != "resource" {
		t.Fatalf("unknown resource: err = %v", err)
	}
	err = a.UpdateEntry(model.SetTarget("messages.po", "Close", "x"))
	if !errors.As(err, &nf) || nf.Kind != "entry" || !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("unknown entry: err = %v", err)
	}
}

func TestUpdateEntriesAtomic(t *testing.T) {
	a := mustOpen(t, "messages.po", []byte(pluralPO))
	err := a.UpdateEntries([]model.EntryUpdate{
		model.SetTarget("messages.po", "Open", "Öffnen"),
		model.SetTarget("messages.po", "missing", "x"),
	})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if e, _ := a.Project().Resources[0].Entry("Open"); e.TargetText != "" {
		t.Fatalf("partial batch applied: %q", e.TargetText)
	}
}

func TestNotLoaded(t *testing.T) {
	for _, f := range Formats {
		a, err := New(f)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := a.Export(nil); !errors.Is(err, model.ErrNotLoaded) {
			t.Errorf("%s: Export before Load: %v", f, err)
		}
		if _, err := a.Resource("x"); !errors.Is(err, model.ErrNotLoaded) {
			t.Errorf("%s: Resource before Load: %v", f, err)
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		format  Format
		name    string
		payload string
	}{
		{PO, "bad.po", "msgid \"unterminated\nmsgstr \"\"\n"},
		{XLIFF, "bad.xliff", "<notxliff/>"},
		{Subtitle, "bad.vtt", "00:00:01.000 --> 00:00:02.000\nNo signature\n"},
		{Subtitle, "bad.srt", "1\n00:00:xx,000 --> 00:00:02,000\nHi\n"},
	}
	for _, tt := range tests {
		a, _ := New(tt.format)
		err := a.Load([]byte(tt.payload), tt.name)
		var pe *model.ParseError
		if !errors.As(err, &pe) {
			t.Errorf("%s: err = %v, want *model.ParseError", tt.name, err)
			continue
		}
		if a.Project() != nil {
			t.Errorf("%s: project left after failed load", tt.name)
		}
	}
}

func TestReferenceRemap(t *testing.T) {
	a := mustOpen(t, "app.po", []byte(hashPO))
	po := a.(*POAdapter)
	if !po.HashBased() {
		t.Fatal("hash catalog not detected")
	}
	if err := a.UpdateEntry(model.SetTarget("app.po", "tWcRaD", "Anmelden")); err != nil {
		t.Fatal(err)
	}
	if err := po.ApplyReference([]byte(referencePO)); err != nil {
		t.Fatalf("ApplyReference: %v", err)
	}

	entries := a.Project().Resources[0].Entries
	if entries[0].SourceText != "Welcome back" {
		t.Errorf("entry 0 source = %q", entries[0].SourceText)
	}
	if entries[1].TargetText != "Anmelden" {
		t.Errorf("existing target lost: %q", entries[1].TargetText)
	}
	out, err := a.Export(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out.Data), `msgid "hzSNj4"`) {
		t.Errorf("hash msgid lost in export:\n%s", out.Data)
	}

	if err := po.ApplyReference([]byte(hashPO)); !errors.Is(err, pofile.ErrReferenceIdentical) {
		t.Errorf("identical reference: err = %v", err)
	}

	partial := "msgid \"\"\nmsgstr \"\"\n\"Language: en\\n\"\n\nmsgid \"hzSNj4\"\nmsgstr \"Hello again\"\n\nmsgid \"tWcRaD\"\nmsgstr \"Log in\"\n"
	if err := po.ApplyReference([]byte(partial)); err != nil {
		t.Fatalf("ApplyReference(partial): %v", err)
	}
	wantSources := []string{"Hello again", "Log in", "Qm3xPz", "bK9fLe"}
	for i, want := range wantSources {
		if got := entries[i].SourceText; got != want {
			t.Errorf("after second reference, entry %d source = %q, want %q", i, got, want)
		}
	}
	if entries[1].TargetText != "Anmelden" {
		t.Errorf("second reference touched target: %q", entries[1].TargetText)
	}
}

func TestExportResolvesTerms(t *testing.T) {
	terms := []model.Term{{ID: "acme-cloud", OriginalText: "Acme Cloud", Translation: "Acme Nuage"}}

	a := mustOpen(t, "index.html", []byte(sampleHTML))
	res := a.Project().Resources[0]
	if len(res.Entries) != 3 {
		t.Fatalf("html entries = %+v", res.Entries)
	}
	if res.Entries[2].Context != "img@alt" || res.Entries[2].SourceText != "Company logo" {
		t.Fatalf("attr entry = %+v", res.Entries[2])
	}
	a.UpdateEntry(model.SetTarget(res.ID, "1", "Bienvenue sur ${{acme-cloud}}"))
	a.UpdateEntry(model.SetTarget(res.ID, "3", `Logo "${{unknown}}"`))
	out, _ := a.Export(terms)
	got := string(out.Data)
	if !strings.Contains(got, "<h1>Bienvenue sur Acme Nuage</h1>") {
		t.Errorf("term not resolved:\n%s", got)
	}
	if !strings.Contains(got, `alt="Logo &quot;${{unknown}}&quot;"`) {
		t.Errorf("unknown reference not kept verbatim:\n%s", got)
	}
	if e, _ := res.Entry("1"); e.TargetText != "Bienvenue sur ${{acme-cloud}}" {
		t.Errorf("stored target resolved: %q", e.TargetText)
	}
}

func TestSubtitleExport(t *testing.T) {
	a := mustOpen(t, "talk.vtt", []byte(sampleVTT))
	res := a.Project().Resources[0]
	if res.Entries[0].ID != "intro" || res.Entries[1].ID != "2" {
		t.Fatalf("ids = %q %q", res.Entries[0].ID, res.Entries[1].ID)
	}
	if res.Entries[0].Metadata["start"] != "1000" || res.Entries[0].Metadata["settings"] != "align:start" {
		t.Errorf("metadata = %v", res.Entries[0].Metadata)
	}
	a.UpdateEntry(model.SetTarget(res.ID, "intro", "Bonjour"))
	out, _ := a.Export(nil)
	want := strings.Replace(sampleVTT, "Hello there", "Bonjour", 1)
	if string(out.Data) != want {
		t.Errorf("export = %q", out.Data)
	}

	srt, err := a.(*SubtitleAdapter).ExportAs(subtitle.SRT, nil)
	if err != nil {
		t.Fatal(err)
	}
	if srt.FileName != "talk.srt" || !strings.HasPrefix(string(srt.Data), "1\n00:00:01,000 --> 00:00:03,500\nBonjour\n") {
		t.Errorf("srt export = %s %q", srt.FileName, srt.Data)
	}
}

func TestDocumentExport(t *testing.T) {
	a := mustOpen(t, "guide.md", []byte(sampleMD))
	res := a.Project().Resources[0]
	a.UpdateEntry(model.SetTarget(res.ID, "sec:0", "Installation"))
	a.UpdateEntry(model.SetTarget(res.ID, "fm:title", "Anleitung"))
	out, _ := a.Export(nil)
	want := "---\ntitle: Anleitung\n---\n\n# Installation\n\nRun the installer.\n"
	if string(out.Data) != want {
		t.Errorf("export = %q", out.Data)
	}
}

func TestRestore(t *testing.T) {
	a := mustOpen(t, "app.po", []byte(hashPO))
	po := a.(*POAdapter)
	if err := po.ApplyReference([]byte(referencePO)); err != nil {
		t.Fatal(err)
	}
	comment := "checked"
	a.UpdateEntry(model.EntryUpdate{ResourceID: "app.po", EntryID: "hzSNj4", TargetText: ptr("Willkommen zurück"), Comment: &comment})

	projectJSON, err := json.Marshal(a.Project())
	if err != nil {
		t.Fatal(err)
	}
	meta, err := a.Metadata()
	if err != nil {
		t.Fatal(err)
	}

	b, err := Restore(PO, projectJSON, meta)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	e, _ := b.Project().Resources[0].Entry("hzSNj4")
	if e.TargetText != "Willkommen zurück" || e.Comment != "checked" || e.SourceText != "Welcome back" {
		t.Fatalf("restored entry = %+v", e)
	}
	first, _ := a.Export(nil)
	second, _ := b.Export(nil)
	if !bytes.Equal(first.Data, second.Data) {
		t.Errorf("restored export differs:\n%s\n---\n%s", first.Data, second.Data)
	}

	if _, err := Restore(HTML, projectJSON, meta); err == nil {
		t.Error("Restore with the wrong format should fail")
	}
}

func ptr(s string) *string { return &s }
