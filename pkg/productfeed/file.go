package productfeed

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
)

// FileSource reads an uploaded catalog file. The format follows the file
// extension: .json, .yaml/.yml or .csv. CSV files need a header row; the
// default mapping reads the id, name, price and image_url columns.
type FileSource struct {
	Path string

	// Mapping defaults to FileMapping.
	Mapping *Mapping
}

var defaultFileMapping = MustParseMapping(FileMapping)

func (s *FileSource) Products(ctx context.Context) ([]Product, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("productfeed: %w", err)
	}
	doc, err := Decode(filepath.Ext(s.Path), data)
	if err != nil {
		return nil, fmt.Errorf("productfeed: %s: %w", s.Path, err)
	}
	m := s.Mapping
	if m == nil {
		m = defaultFileMapping
	}
	return m.Apply(ctx, doc)
}

// Decode parses a catalog document into JSON-compatible values. ext
// selects the format and includes the leading dot.
func Decode(ext string, data []byte) (any, error) {
	switch strings.ToLower(ext) {
	case ".json":
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		return doc, nil
	case ".yaml", ".yml":
		// Round-trip through JSON so numbers become float64 as jq expects.
		js, err := yaml.YAMLToJSON(data)
		if err != nil {
			return nil, err
		}
		var doc any
		if err := json.Unmarshal(js, &doc); err != nil {
			return nil, err
		}
		return doc, nil
	case ".csv":
		return decodeCSV(data)
	}
	return nil, fmt.Errorf("unsupported catalog format %q", ext)
}

// decodeCSV returns one object per data row keyed by the trimmed header.
func decodeCSV(data []byte) ([]any, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return []any{}, nil
	}
	if err != nil {
		return nil, err
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	rows := []any{}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(header))
		for i, col := range header {
			if i >= len(rec) || col == "" {
				continue
			}
			// Blank cells stay absent so jq fallbacks like .id // .name apply.
			if v := strings.TrimSpace(rec[i]); v != "" {
				row[col] = v
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
