package pofile

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/minios-linux/lokstudio/model"
)

const samplePO = `# Translation of demo.
# Copyright (C) 2024
msgid ""
msgstr ""
"Project-Id-Version: demo 1.0\n"
"Language: ru\n"
"Plural-Forms: nplurals=3; plural=(n%10==1 && n%100!=11 ? 0 : 1);\n"

#. extracted comment
#: app.go:12
msgid "hello"
msgstr "privet"

#, fuzzy
#| msgid "old count"
msgid "count"
msgid_plural "counts"
msgstr[0] "odin"
msgstr[1] "mnogo"
msgstr[2] ""

msgctxt "menu"
msgid "Open"
msgstr ""

#~ msgid "gone"
#~ msgstr "ushel"
`

func TestParseWriteIdentity(t *testing.T) {
	inputs := map[string]string{
		"lf":         samplePO,
		"crlf":       strings.ReplaceAll(samplePO, "\n", "\r\n"),
		"bom":        "\ufeff" + samplePO,
		"no final":   strings.TrimSuffix(samplePO, "\n"),
		"extra gaps": strings.ReplaceAll(samplePO, "\n\n", "\n\n\n  \n"),
		"empty":      "",
	}
	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			f, err := ParseBytes([]byte(input))
			if err != nil {
				t.Fatalf("Parse error: %v", err)
			}
			if got := string(f.Bytes()); got != input {
				t.Fatalf("round trip mismatch:\n--- got\n%q\n--- want\n%q", got, input)
			}
		})
	}
}

func TestParseFields(t *testing.T) {
	f, err := Parse(strings.NewReader(samplePO))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if got := f.HeaderField("language"); got != "ru" {
		t.Fatalf("HeaderField(language) = %q, want ru", got)
	}
	if f.NPlurals() != 3 {
		t.Fatalf("NPlurals = %d", f.NPlurals())
	}
	if len(f.Entries) != 4 || len(f.ActiveEntries()) != 3 {
		t.Fatalf("entries = %d, active = %d", len(f.Entries), len(f.ActiveEntries()))
	}
	plural := f.EntryByKey("count")
	if plural == nil {
		t.Fatal("count entry not found")
	}
	if plural.PreviousMsgID != "old count" || !plural.IsFuzzy() {
		t.Fatalf("plural entry = %#v", plural)
	}
	if !reflect.DeepEqual(plural.MsgStrPlural, map[int]string{0: "odin", 1: "mnogo", 2: ""}) {
		t.Fatalf("plural forms = %v", plural.MsgStrPlural)
	}
	if e := f.EntryByKey("menu\x04Open"); e == nil || e.MsgCtxt != "menu" {
		t.Fatalf("context entry = %#v", e)
	}
	if f.Header.TranslatorComments[0] != "Translation of demo." {
		t.Fatalf("header comments = %v", f.Header.TranslatorComments)
	}
}

func TestWriteOnlyTouchesChangedEntries(t *testing.T) {
	input := strings.ReplaceAll(samplePO, "\n", "\r\n")
	f, err := ParseBytes([]byte(input))
	if err != nil {
		t.Fatal(err)
	}
	f.EntryByKey("menu\x04Open").MsgStr = "Открыть"
	f.EntryByKey("count").MsgStrPlural[2] = "mnogo \"raz\""

	want := strings.Replace(input, "msgctxt \"menu\"\r\nmsgid \"Open\"\r\nmsgstr \"\"", "msgctxt \"menu\"\r\nmsgid \"Open\"\r\nmsgstr \"Открыть\"", 1)
	want = strings.Replace(want, "msgstr[2] \"\"", `msgstr[2] "mnogo \"raz\""`, 1)
	if got := string(f.Bytes()); got != want {
		t.Fatalf("unexpected output:\n%q\nwant\n%q", got, want)
	}
}

func TestWriteMultilineAndComment(t *testing.T) {
	f, err := ParseBytes([]byte("msgid \"a\"\nmsgstr \"\"\n\"x\"\n\"y\""))
	if err != nil {
		t.Fatal(err)
	}
	e := f.EntryByKey("a")
	if e.MsgStr != "xy" {
		t.Fatalf("MsgStr = %q", e.MsgStr)
	}
	e.MsgStr = "line1\nline2"
	e.TranslatorComments = []string{"checked"}

	want := "# checked\nmsgid \"a\"\nmsgstr \"\"\n\"line1\\n\"\n\"line2\""
	if got := string(f.Bytes()); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestParseEntriesWithoutBlankLine(t *testing.T) {
	f, err := ParseBytes([]byte("msgid \"a\"\nmsgstr \"A\"\nmsgid \"b\"\nmsgstr \"B\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Entries) != 2 || f.EntryByKey("b").MsgStr != "B" {
		t.Fatalf("entries = %d", len(f.Entries))
	}
}

func TestParseSyntaxErrors(t *testing.T) {
	bad := []string{
		"msgid \"a\"\nmsgstr[x] \"b\"\n",
		"msgid \"a\"\nmsgstr \"b\"\ngarbage\n",
		"msgid \"a\"\nmsgstr \"b\n",
	}
	for _, input := range bad {
		_, err := ParseBytes([]byte(input))
		var se *SyntaxError
		if !errors.As(err, &se) {
			t.Errorf("ParseBytes(%q) error = %v, want SyntaxError", input, err)
		}
	}
}

func TestNewFileCanonicalWrite(t *testing.T) {
	f := NewFile()
	f.SetHeaderField("Language", "de")
	f.Entries = append(f.Entries, &Entry{MsgID: "Save", MsgStr: "Speichern", References: []string{"ui.go:3"}})

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatal(err)
	}
	round, err := ParseBytes(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if round.Language() != "de" || round.EntryByKey("Save").MsgStr != "Speichern" {
		t.Fatalf("canonical output did not round trip:\n%s", buf.String())
	}
}

func TestStatsFuzzyAndUntranslated(t *testing.T) {
	f := NewFile()
	f.Entries = []*Entry{
		{MsgID: "t1", MsgStr: "translated"},
		{MsgID: "f1", MsgStr: "draft", Flags: []string{"fuzzy"}},
		{MsgID: "u1", MsgStr: ""},
		{MsgID: "p1", MsgIDPlural: "p1s", MsgStrPlural: map[int]string{0: "one", 1: "many"}},
		{MsgID: "p2", MsgIDPlural: "p2s", MsgStrPlural: map[int]string{0: "only one", 1: ""}},
		{MsgID: "old", MsgStr: "x", Obsolete: true},
	}

	total, translated, fuzzy, untranslated := f.Stats()
	if total != 5 || translated != 2 || fuzzy != 1 || untranslated != 2 {
		t.Fatalf("Stats = total=%d translated=%d fuzzy=%d untranslated=%d", total, translated, fuzzy, untranslated)
	}
}

func TestPluralHelpers(t *testing.T) {
	pluralCases := []struct {
		lang string
		want string
	}{
		{lang: "ru", want: "nplurals=3; plural=(n%10==1 && n%100!=11 ? 0 : n%10>=2 && n%10<=4 && (n%100<10 || n%100>=20) ? 1 : 2);"},
		{lang: "pt-BR", want: "nplurals=2; plural=(n > 1);"},
		{lang: "ja", want: "nplurals=1; plural=0;"},
		{lang: "zz", want: "nplurals=2; plural=(n != 1);"},
	}
	for _, tc := range pluralCases {
		if got := PluralFormsForLang(tc.lang); got != tc.want {
			t.Fatalf("PluralFormsForLang(%q) = %q, want %q", tc.lang, got, tc.want)
		}
	}

	if PluralCategory(2, 0) != model.PluralOne || PluralCategory(2, 1) != model.PluralOther {
		t.Fatal("two-form mapping")
	}
	if PluralCategory(3, 2) != model.PluralMany || PluralCategory(1, 0) != model.PluralOther {
		t.Fatal("three/one-form mapping")
	}
	if PluralCategory(2, 7) != model.PluralOther {
		t.Fatal("out of range index should fall back to other")
	}
}
