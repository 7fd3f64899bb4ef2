package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/minios-linux/lokstudio/model"
	"github.com/minios-linux/lokstudio/sse"
	"github.com/minios-linux/lokstudio/store"
	"github.com/minios-linux/lokstudio/translate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const samplePO = `msgid ""
msgstr ""
"Language: de\n"

msgid "Open"
msgstr ""

msgid "Save"
msgstr ""
`

const hashPO = `msgid ""
msgstr ""
"Language: de\n"

msgid "hzSNj4"
msgstr ""

msgid "tWcRaD"
msgstr ""
`

const referencePO = `msgid ""
msgstr ""
"Language: en\n"

msgid "hzSNj4"
msgstr "Welcome back"

msgid "tWcRaD"
msgstr "Sign in"
`

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// echoGenerator translates every batch entry to "T:<text>".
type echoGenerator struct {
	terms string
}

func (g echoGenerator) Generate(ctx context.Context, p translate.Prompt) (string, error) {
	if g.terms == "" {
		return `{"terms": []}`, nil
	}
	return g.terms, nil
}

func (g echoGenerator) Stream(ctx context.Context, p translate.Prompt) (translate.Stream, error) {
	var in struct {
		Entries []struct {
			ID   string `json:"id"`
			Text string `json:"text"`
		} `json:"entries"`
	}
	if err := json.Unmarshal([]byte(p.User), &in); err != nil {
		return nil, err
	}
	type item struct {
		ID         string `json:"id"`
		TargetText string `json:"targetText"`
	}
	var out struct {
		Translations []item `json:"translations"`
	}
	for _, e := range in.Entries {
		out.Translations = append(out.Translations, item{ID: e.ID, TargetText: "T:" + e.Text})
	}
	data, _ := json.Marshal(out)
	return &onceStream{text: string(data)}, nil
}

type onceStream struct {
	text string
	done bool
}

func (s *onceStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	s.done = true
	return s.text, nil
}

func (s *onceStream) Close() error { return nil }

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestServer(t *testing.T, gen translate.Generator) (*Server, http.Handler) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	s := New(Options{Store: st, Generator: gen, Translate: translate.Options{SkipScan: false}})
	return s, s.Handler()
}

func do(t *testing.T, h http.Handler, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func doJSON(t *testing.T, h http.Handler, method, target string, v any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return do(t, h, method, target, bytes.NewReader(data), "application/json")
}

func multipartBody(t *testing.T, fileName, content string, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(content))
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) model.Result[T] {
	t.Helper()
	var res model.Result[T]
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return res
}

func upload(t *testing.T, h http.Handler, fileName, content string) store.Project {
	t.Helper()
	body, ct := multipartBody(t, fileName, content, nil)
	rec := do(t, h, http.MethodPost, "/api/projects", body, ct)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body = %s", rec.Code, rec.Body)
	}
	res := decode[store.Project](t, rec)
	if !res.Success || res.Data.ID == "" {
		t.Fatalf("upload result = %+v", res)
	}
	return res.Data
}

func getProject(t *testing.T, h http.Handler, id string) *model.TranslationProject {
	t.Helper()
	rec := do(t, h, http.MethodGet, "/api/projects/"+id, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, body = %s", rec.Code, rec.Body)
	}
	return decode[store.Project](t, rec).Data.Project
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestServer_Healthz(t *testing.T) {
	_, h := newTestServer(t, nil)
	rec := do(t, h, http.MethodGet, "/healthz", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("healthz = %d %s", rec.Code, rec.Body)
	}
}

func TestServer_ProjectLifecycle(t *testing.T) {
	_, h := newTestServer(t, nil)
	p := upload(t, h, "app.po", samplePO)
	if p.Format != "po" || p.Name != "app" || p.FileName != "app.po" {
		t.Fatalf("unexpected project: %+v", p)
	}
	if got := len(p.Project.Resources[0].Entries); got != 2 {
		t.Fatalf("entries = %d, want 2", got)
	}

	rec := do(t, h, http.MethodGet, "/api/projects", nil, "")
	list := decode[[]store.Summary](t, rec).Data
	if len(list) != 1 || list[0].Total != 2 || list[0].Translated != 0 {
		t.Fatalf("list = %+v", list)
	}

	rec = do(t, h, http.MethodDelete, "/api/projects/"+p.ID, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/api/projects/"+p.ID, nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete = %d, want 404", rec.Code)
	}
	if res := decode[any](t, rec); res.Success || res.Error == "" {
		t.Fatalf("error envelope = %+v", res)
	}
}

func TestServer_UploadErrors(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec := do(t, h, http.MethodPost, "/api/projects", strings.NewReader("{}"), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing file = %d, want 400", rec.Code)
	}

	body, ct := multipartBody(t, "app.po", samplePO, map[string]string{"format": "docx"})
	if rec := do(t, h, http.MethodPost, "/api/projects", body, ct); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown format = %d, want 400", rec.Code)
	}

	body, ct = multipartBody(t, "bad.po", "msgid \"unterminated\nmsgstr \"\"\n", nil)
	if rec := do(t, h, http.MethodPost, "/api/projects", body, ct); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("parse error = %d, want 422, body = %s", rec.Code, rec.Body)
	}
}

func TestServer_UpdateEntries(t *testing.T) {
	_, h := newTestServer(t, nil)
	p := upload(t, h, "app.po", samplePO)

	bad := []model.EntryUpdate{
		model.SetTarget("app.po", "Open", "Öffnen"),
		model.SetTarget("app.po", "Missing", "x"),
	}
	rec := doJSON(t, h, http.MethodPatch, "/api/projects/"+p.ID+"/entries", bad)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("batch with unknown entry = %d, want 404", rec.Code)
	}
	if e, _ := getProject(t, h, p.ID).Resources[0].Entry("Open"); e.TargetText != "" {
		t.Fatalf("failed batch was partially applied: %q", e.TargetText)
	}

	good := []model.EntryUpdate{
		model.SetTarget("app.po", "Open", "Öffnen"),
		model.SetTarget("app.po", "Save", "Speichern"),
	}
	rec = doJSON(t, h, http.MethodPatch, "/api/projects/"+p.ID+"/entries", good)
	if rec.Code != http.StatusOK {
		t.Fatalf("batch = %d, body = %s", rec.Code, rec.Body)
	}
	proj := getProject(t, h, p.ID)
	if e, _ := proj.Resources[0].Entry("Save"); e.TargetText != "Speichern" {
		t.Fatalf("Save target = %q", e.TargetText)
	}

	comment := "toolbar"
	rec = doJSON(t, h, http.MethodPatch, "/api/projects/"+p.ID+"/resources/app.po/entries/Open", entryPatch{Comment: &comment})
	if rec.Code != http.StatusOK {
		t.Fatalf("single update = %d, body = %s", rec.Code, rec.Body)
	}
	entry := decode[model.TranslationEntry](t, rec).Data
	if entry.Comment != "toolbar" || entry.TargetText != "Öffnen" {
		t.Fatalf("entry = %+v", entry)
	}

	rec = doJSON(t, h, http.MethodPatch, "/api/projects/"+p.ID+"/resources/nope.po/entries/Open", entryPatch{Comment: &comment})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown resource = %d, want 404", rec.Code)
	}
}

func TestServer_Export(t *testing.T) {
	_, h := newTestServer(t, nil)
	p := upload(t, h, "app.po", samplePO)

	doJSON(t, h, http.MethodPut, "/api/projects/"+p.ID+"/terms", []model.Term{{OriginalText: "Open", Translation: "Öffnen"}})
	doJSON(t, h, http.MethodPatch, "/api/projects/"+p.ID+"/entries", []model.EntryUpdate{
		model.SetTarget("app.po", "Open", "${{open}}"),
	})

	rec := do(t, h, http.MethodGet, "/api/projects/"+p.ID+"/export", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("export = %d, body = %s", rec.Code, rec.Body)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, `filename=app.po`) {
		t.Fatalf("Content-Disposition = %q", cd)
	}
	if !strings.Contains(rec.Body.String(), "msgid \"Open\"\nmsgstr \"Öffnen\"") {
		t.Fatalf("export did not resolve term:\n%s", rec.Body)
	}
}

func TestServer_Reference(t *testing.T) {
	_, h := newTestServer(t, nil)
	p := upload(t, h, "app.po", hashPO)

	body, ct := multipartBody(t, "en.po", referencePO, nil)
	rec := do(t, h, http.MethodPost, "/api/projects/"+p.ID+"/reference", body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("reference = %d, body = %s", rec.Code, rec.Body)
	}
	proj := getProject(t, h, p.ID)
	if e, _ := proj.Resources[0].Entry("hzSNj4"); e.SourceText != "Welcome back" {
		t.Fatalf("source after remap = %q", e.SourceText)
	}

	doc := upload(t, h, "notes.md", "# Title\n\nBody text.\n")
	body, ct = multipartBody(t, "en.po", referencePO, nil)
	rec = do(t, h, http.MethodPost, "/api/projects/"+doc.ID+"/reference", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("reference on document = %d, want 400", rec.Code)
	}
}

func TestServer_Terms(t *testing.T) {
	_, h := newTestServer(t, nil)
	p := upload(t, h, "app.po", samplePO)

	rec := do(t, h, http.MethodGet, "/api/projects/"+p.ID+"/terms", nil, "")
	if terms := decode[[]model.Term](t, rec).Data; len(terms) != 0 {
		t.Fatalf("initial terms = %+v", terms)
	}

	rec = doJSON(t, h, http.MethodPut, "/api/projects/"+p.ID+"/terms", []model.Term{
		{OriginalText: "Acme Cloud", Translation: "Acme Cloud"},
		{ID: "acme-cloud", OriginalText: "ACME cloud storage"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put terms = %d, body = %s", rec.Code, rec.Body)
	}
	rec = do(t, h, http.MethodGet, "/api/projects/"+p.ID+"/terms", nil, "")
	terms := decode[[]model.Term](t, rec).Data
	if len(terms) != 2 || terms[0].ID != "acme-cloud" || terms[1].ID != "acme-cloud-2" {
		t.Fatalf("terms = %+v", terms)
	}

	rec = doJSON(t, h, http.MethodPut, "/api/projects/"+p.ID+"/terms", []model.Term{{Translation: "x"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("term without original = %d, want 400", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPut, "/api/projects/missing/terms", []model.Term{})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("terms of unknown project = %d, want 404", rec.Code)
	}
}

func readEvents(t *testing.T, body io.Reader) ([]translate.Event, bool) {
	t.Helper()
	r := sse.NewReader(body)
	var events []translate.Event
	for {
		e, err := r.NextEvent()
		if errors.Is(err, sse.ErrDone) {
			return events, true
		}
		if errors.Is(err, io.EOF) {
			return events, false
		}
		if err != nil {
			t.Fatalf("reading stream: %v", err)
		}
		events = append(events, e)
	}
}

func TestServer_Translate(t *testing.T) {
	gen := echoGenerator{terms: `{"terms": [{"originalText": "Open", "translation": "Öffnen"}]}`}
	_, h := newTestServer(t, gen)
	p := upload(t, h, "app.po", samplePO)

	rec := doJSON(t, h, http.MethodPost, "/api/projects/"+p.ID+"/translate", TranslateRequest{BatchSize: 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("translate = %d, body = %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != sse.ContentType {
		t.Fatalf("Content-Type = %q", ct)
	}

	events, done := readEvents(t, rec.Body)
	if !done {
		t.Fatalf("stream not terminated with [DONE]")
	}
	var types []string
	for _, e := range events {
		types = append(types, string(e.Type()))
	}
	want := "terminology-scan-start,terminology-found,translate-start,entry-translated,batch-complete,entry-translated,batch-complete,term-resolution-complete,complete"
	if got := strings.Join(types, ","); got != want {
		t.Fatalf("events = %s\nwant     %s", got, want)
	}

	proj := getProject(t, h, p.ID)
	if e, _ := proj.Resources[0].Entry("Save"); e.TargetText != "T:Save" {
		t.Fatalf("Save target = %q, want persisted translation", e.TargetText)
	}

	rec = do(t, h, http.MethodGet, "/api/projects/"+p.ID+"/terms", nil, "")
	terms := decode[[]model.Term](t, rec).Data
	if len(terms) != 1 || terms[0].ID != "open" {
		t.Fatalf("terms after scan = %+v", terms)
	}

	// A second run finds nothing left to translate.
	rec = doJSON(t, h, http.MethodPost, "/api/projects/"+p.ID+"/translate", TranslateRequest{SkipScan: true})
	events, _ = readEvents(t, rec.Body)
	last, ok := events[len(events)-1].(translate.Complete)
	if !ok || last.Translated != 0 {
		t.Fatalf("second run last event = %#v", events[len(events)-1])
	}
}

func TestServer_TranslateSelection(t *testing.T) {
	_, h := newTestServer(t, echoGenerator{})
	p := upload(t, h, "app.po", samplePO)

	rec := doJSON(t, h, http.MethodPost, "/api/projects/"+p.ID+"/translate", TranslateRequest{
		SkipScan: true,
		Entries:  []EntryRef{{ResourceID: "app.po", EntryID: "Save"}},
	})
	events, _ := readEvents(t, rec.Body)
	start, ok := events[2].(translate.TranslateStart)
	if !ok || start.Total != 1 {
		t.Fatalf("translate-start = %#v", events[2])
	}
	proj := getProject(t, h, p.ID)
	if e, _ := proj.Resources[0].Entry("Open"); e.TargetText != "" {
		t.Fatalf("unselected entry translated: %q", e.TargetText)
	}
}

func TestServer_TranslateErrors(t *testing.T) {
	_, h := newTestServer(t, nil)
	p := upload(t, h, "app.po", samplePO)
	rec := doJSON(t, h, http.MethodPost, "/api/projects/"+p.ID+"/translate", TranslateRequest{})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("no generator = %d, want 503", rec.Code)
	}

	_, h = newTestServer(t, echoGenerator{})
	rec = doJSON(t, h, http.MethodPost, "/api/projects/missing/translate", TranslateRequest{})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown project = %d, want 404", rec.Code)
	}

	p = upload(t, h, "notes.md", "# Title\n")
	rec = doJSON(t, h, http.MethodPost, "/api/projects/"+p.ID+"/translate", TranslateRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("no target language = %d, want 400", rec.Code)
	}

	rec = do(t, h, http.MethodDelete, "/api/projects/"+p.ID+"/translate", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cancel without run = %d, want 404", rec.Code)
	}
}

func TestServer_BusyProject(t *testing.T) {
	s, h := newTestServer(t, echoGenerator{})
	p := upload(t, h, "app.po", samplePO)

	cancelled := false
	if !s.acquire(p.ID, func() { cancelled = true }) {
		t.Fatal("acquire failed")
	}
	rec := doJSON(t, h, http.MethodPatch, "/api/projects/"+p.ID+"/entries", []model.EntryUpdate{})
	if rec.Code != http.StatusConflict {
		t.Fatalf("update while busy = %d, want 409", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/projects/"+p.ID+"/translate", TranslateRequest{})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second run = %d, want 409", rec.Code)
	}
	rec = do(t, h, http.MethodDelete, "/api/projects/"+p.ID+"/translate", nil, "")
	if rec.Code != http.StatusOK || !cancelled {
		t.Fatalf("cancel = %d, cancelled = %v", rec.Code, cancelled)
	}
	s.release(p.ID)
}
