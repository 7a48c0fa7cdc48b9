package report

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"pcappuller/internal/bounds"
	"pcappuller/internal/errors"
)

// UTCLayout formats report timestamps.
const UTCLayout = "2006-01-02 15:04:05.000000Z"

// csvHeader is the column set of CSV reports.
var csvHeader = []string{"path", "size_bytes", "mtime_epoch", "mtime_utc", "first_epoch", "last_epoch", "first_utc", "last_utc"}

// Meta identifies the run that produced a report.
type Meta struct {
	RunID     string
	Generated time.Time
}

// Document is the structured form written for .json, .yaml and .toml reports.
type Document struct {
	RunID     string       `json:"runId" yaml:"runId" toml:"runId"`
	Generated string       `json:"generated" yaml:"generated" toml:"generated"`
	Files     []FileRecord `json:"files" yaml:"files" toml:"files"`
}

// FileRecord is a Record flattened for serialization.
type FileRecord struct {
	Path       string  `json:"path" yaml:"path" toml:"path"`
	SizeBytes  int64   `json:"sizeBytes" yaml:"sizeBytes" toml:"sizeBytes"`
	MtimeEpoch float64 `json:"mtimeEpoch" yaml:"mtimeEpoch" toml:"mtimeEpoch"`
	MtimeUTC   string  `json:"mtimeUtc" yaml:"mtimeUtc" toml:"mtimeUtc"`
	Resolved   bool    `json:"resolved" yaml:"resolved" toml:"resolved"`
	FirstEpoch float64 `json:"firstEpoch,omitempty" yaml:"firstEpoch,omitempty" toml:"firstEpoch,omitempty"`
	LastEpoch  float64 `json:"lastEpoch,omitempty" yaml:"lastEpoch,omitempty" toml:"lastEpoch,omitempty"`
	FirstUTC   string  `json:"firstUtc,omitempty" yaml:"firstUtc,omitempty" toml:"firstUtc,omitempty"`
	LastUTC    string  `json:"lastUtc,omitempty" yaml:"lastUtc,omitempty" toml:"lastUtc,omitempty"`
}

// NewDocument flattens records.
func NewDocument(meta Meta, records []Record) Document {
	doc := Document{
		RunID:     meta.RunID,
		Generated: meta.Generated.UTC().Format(time.RFC3339),
		Files:     make([]FileRecord, 0, len(records)),
	}
	for _, r := range records {
		fr := FileRecord{
			Path:       r.Path,
			SizeBytes:  r.Size,
			MtimeEpoch: epoch(r.ModTime),
			MtimeUTC:   r.ModTime.UTC().Format(UTCLayout),
		}
		if r.First != nil && r.Last != nil {
			fr.Resolved = true
			fr.FirstEpoch, fr.LastEpoch = *r.First, *r.Last
			fr.FirstUTC = bounds.EpochTime(*r.First).Format(UTCLayout)
			fr.LastUTC = bounds.EpochTime(*r.Last).Format(UTCLayout)
		}
		doc.Files = append(doc.Files, fr)
	}
	return doc
}

// WriteRecords writes a report in the format named by path's extension:
// .csv, .json, .yaml/.yml or .toml. Anything else is an ArgumentError.
func WriteRecords(path string, meta Meta, records []Record) error {
	ext := strings.ToLower(filepath.Ext(path))
	var encode func(io.Writer) error

	switch ext {
	case ".csv":
		encode = func(w io.Writer) error { return writeCSV(w, records) }
	case ".json":
		encode = func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(NewDocument(meta, records))
		}
	case ".yaml", ".yml":
		encode = func(w io.Writer) error {
			enc := yaml.NewEncoder(w)
			enc.SetIndent(2)
			if err := enc.Encode(NewDocument(meta, records)); err != nil {
				return err
			}
			return enc.Close()
		}
	case ".toml":
		encode = func(w io.Writer) error {
			return toml.NewEncoder(w).Encode(NewDocument(meta, records))
		}
	default:
		return errors.Argument("unsupported report format %q (use .csv, .json, .yaml or .toml)", ext)
	}

	return writeFile(path, encode)
}

// WriteList writes one path per line; a .csv path gets a "path" header and
// CSV quoting.
func WriteList(path string, paths []string) error {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return writeFile(path, func(w io.Writer) error {
			cw := csv.NewWriter(w)
			if err := cw.Write([]string{"path"}); err != nil {
				return err
			}
			for _, p := range paths {
				if err := cw.Write([]string{p}); err != nil {
					return err
				}
			}
			cw.Flush()
			return cw.Error()
		})
	}
	return writeFile(path, func(w io.Writer) error {
		for _, p := range paths {
			if _, err := io.WriteString(w, p+"\n"); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.Path,
			strconv.FormatInt(r.Size, 10),
			formatFloat(epoch(r.ModTime)),
			r.ModTime.UTC().Format(UTCLayout),
			"", "", "", "",
		}
		if r.First != nil && r.Last != nil {
			row[4] = formatFloat(*r.First)
			row[5] = formatFloat(*r.Last)
			row[6] = bounds.EpochTime(*r.First).Format(UTCLayout)
			row[7] = bounds.EpochTime(*r.Last).Format(UTCLayout)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeFile(path string, encode func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Filesystem("create report directory", err, true)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Filesystem("create "+path, err, true)
	}
	bw := bufio.NewWriter(f)
	if err := encode(bw); err != nil {
		f.Close()
		return errors.Filesystem(fmt.Sprintf("write %s", path), err, true)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return errors.Filesystem(fmt.Sprintf("write %s", path), err, true)
	}
	if err := f.Close(); err != nil {
		return errors.Filesystem(fmt.Sprintf("close %s", path), err, true)
	}
	return nil
}

func epoch(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
