package xliff

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// LocalizedContents is the folder of a localization catalog that holds
// the XLIFF files.
const LocalizedContents = "Localized Contents"

// Contents is the contents.json metadata of a .xcloc catalog.
type Contents struct {
	DevelopmentRegion string         `json:"developmentRegion"`
	TargetLocale      string         `json:"targetLocale"`
	ToolInfo          map[string]any `json:"toolInfo,omitempty"`
	Version           string         `json:"version,omitempty"`
}

// Member is one file of a bundle archive.
type Member struct {
	Name   string
	Data   []byte
	header zip.FileHeader
}

// IsXLIFF reports whether the member is a localized-content XLIFF file.
func (m *Member) IsXLIFF() bool {
	dir, file := path.Split(m.Name)
	return strings.HasSuffix(strings.ToLower(file), ".xliff") &&
		path.Base(strings.TrimSuffix(dir, "/")) == LocalizedContents
}

// Bundle is a zipped localization catalog, e.g. fr.xcloc/ with a
// contents.json and Localized Contents/fr.xliff.
type Bundle struct {
	// Members keep the archive order.
	Members []*Member
	// Root is the catalog folder, e.g. "fr.xcloc". Empty when the archive
	// has no contents.json.
	Root     string
	Contents *Contents
	Comment  string
}

// IsZip reports whether data starts with a zip local file header.
func IsZip(data []byte) bool {
	return bytes.HasPrefix(data, []byte("PK\x03\x04"))
}

// ReadBundle reads a zipped catalog.
func ReadBundle(data []byte) (*Bundle, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}
	b := &Bundle{Comment: zr.Comment}
	for _, zf := range zr.File {
		m := &Member{Name: zf.Name, header: zf.FileHeader}
		if !zf.FileInfo().IsDir() {
			rc, err := zf.Open()
			if err != nil {
				return nil, fmt.Errorf("opening %s: %w", zf.Name, err)
			}
			m.Data, err = io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", zf.Name, err)
			}
		}
		b.Members = append(b.Members, m)

		if path.Base(zf.Name) == "contents.json" && b.Contents == nil && !strings.HasPrefix(zf.Name, "__MACOSX/") {
			var c Contents
			if err := json.Unmarshal(m.Data, &c); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", zf.Name, err)
			}
			b.Contents = &c
			b.Root = path.Dir(zf.Name)
			if b.Root == "." {
				b.Root = ""
			}
		}
	}
	if len(b.XLIFFMembers()) == 0 {
		return nil, errors.New("archive contains no XLIFF files under " + LocalizedContents)
	}
	return b, nil
}

// XLIFFMembers returns the localized-content files in archive order.
func (b *Bundle) XLIFFMembers() []*Member {
	var out []*Member
	for _, m := range b.Members {
		if m.IsXLIFF() && !strings.HasPrefix(m.Name, "__MACOSX/") {
			out = append(out, m)
		}
	}
	return out
}

// Member finds a member by name.
func (b *Bundle) Member(name string) *Member {
	for _, m := range b.Members {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Bytes writes the archive with the same member names, order and headers.
func (b *Bundle) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, m := range b.Members {
		h := m.header
		if h.Name == "" {
			h = zip.FileHeader{Name: m.Name, Method: zip.Deflate}
		}
		// Sizes and checksums are recomputed by the writer.
		h.CompressedSize64, h.UncompressedSize64, h.CRC32 = 0, 0, 0
		h.CompressedSize, h.UncompressedSize = 0, 0
		w, err := zw.CreateHeader(&h)
		if err != nil {
			return nil, fmt.Errorf("writing %s: %w", m.Name, err)
		}
		if len(m.Data) > 0 {
			if _, err := w.Write(m.Data); err != nil {
				return nil, fmt.Errorf("writing %s: %w", m.Name, err)
			}
		}
	}
	if b.Comment != "" {
		if err := zw.SetComment(b.Comment); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FileName is the export name of the bundle archive.
func (b *Bundle) FileName() string {
	if b.Root != "" {
		return path.Base(b.Root) + ".zip"
	}
	if b.Contents != nil && b.Contents.TargetLocale != "" {
		return b.Contents.TargetLocale + ".xcloc.zip"
	}
	return "translations.zip"
}
