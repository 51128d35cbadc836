package gallery

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// writeCSV writes the table with a header row, every field quoted.
func writeCSV(w io.Writer, t *Table) error {
	bw := bufio.NewWriter(w)
	if err := writeRecord(bw, t.Columns()); err != nil {
		return err
	}
	for i := 0; i < t.Rows(); i++ {
		if err := writeRecord(bw, t.Row(i)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeRecord(w *bufio.Writer, fields []string) error {
	for i, f := range fields {
		if i > 0 {
			if err := w.WriteByte(','); err != nil {
				return err
			}
		}
		if _, err := w.WriteString(`"` + strings.ReplaceAll(f, `"`, `""`) + `"`); err != nil {
			return err
		}
	}
	_, err := w.WriteString("\n")
	return err
}

// readCSV parses a file written by writeCSV into a table bound to schema.
// Quoted fields keep their bytes exactly, so "\r\n" inside a cell survives
// a round trip. Unquoted fields are accepted for hand-edited files.
func readCSV(r io.Reader, schema []string) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	records, err := parseRecords(data)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("read csv: missing header row")
	}
	width := len(records[0])
	for i, rec := range records[1:] {
		if len(rec) != width {
			return nil, fmt.Errorf("read csv: record %d has %d fields, want %d", i+1, len(rec), width)
		}
	}
	return fromRows(schema, records[0], records[1:])
}

// parseRecords splits data into records. Records end at "\n" or "\r\n"
// outside quotes; blank lines are skipped.
func parseRecords(data []byte) ([][]string, error) {
	var (
		records [][]string
		record  []string
		line    = 1
	)
	for i := 0; i < len(data); {
		if len(record) == 0 {
			if data[i] == '\n' {
				i++
				line++
				continue
			}
			if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
				i += 2
				line++
				continue
			}
		}

		var field string
		if data[i] == '"' {
			var b strings.Builder
			j := i + 1
			for {
				if j >= len(data) {
					return nil, fmt.Errorf("line %d: unterminated quoted field", line)
				}
				c := data[j]
				if c == '"' {
					if j+1 < len(data) && data[j+1] == '"' {
						b.WriteByte('"')
						j += 2
						continue
					}
					j++
					break
				}
				if c == '\n' {
					line++
				}
				b.WriteByte(c)
				j++
			}
			field, i = b.String(), j
		} else {
			j := i
			for j < len(data) && data[j] != ',' && data[j] != '\n' {
				if data[j] == '"' {
					return nil, fmt.Errorf("line %d: bare quote in unquoted field", line)
				}
				j++
			}
			field = strings.TrimSuffix(string(data[i:j]), "\r")
			i = j
		}
		record = append(record, field)

		switch {
		case i >= len(data):
			records = append(records, record)
			record = nil
		case data[i] == ',':
			i++
			if i >= len(data) {
				records = append(records, append(record, ""))
				record = nil
			}
		case data[i] == '\n':
			records = append(records, record)
			record = nil
			i++
			line++
		case data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n':
			records = append(records, record)
			record = nil
			i += 2
			line++
		default:
			return nil, fmt.Errorf("line %d: unexpected %q after quoted field", line, data[i])
		}
	}
	return records, nil
}

// writeFileAtomic writes the table to a temporary file next to path and
// renames it into place, so readers see either the old or the new file.
func writeFileAtomic(path string, t *Table) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".gallery-*.csv")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	defer os.Remove(tmp.Name())

	if err := writeCSV(tmp, t); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}
