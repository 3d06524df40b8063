package dataset

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/okian/cgmrisk/internal/domain/model"
	"github.com/vmihailenco/msgpack/v5"
)

// Export formats.
const (
	FormatCSV     = "csv"
	FormatMsgpack = "msgpack"
	FormatSQLite  = "sqlite"
)

// WriteCSV writes rows with a header line. Undefined values are empty cells.
func WriteCSV(w io.Writer, rows []model.TrainingRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range rows {
		rec := NewRecord(r)
		if err := cw.Write([]string{
			rec.SessionID,
			rec.Partition,
			rec.GridTime.Format(time.RFC3339),
			formatCell(rec.Glucose),
			formatCell(rec.Carbs),
			formatCell(rec.Slope15),
			formatCell(rec.Slope60),
			formatCell(rec.Cob2h),
			formatCell(rec.FutureMax),
			strconv.Itoa(rec.Target),
		}); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatCell(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}

// WriteMsgpack writes rows as a MessagePack array of records keyed by column name.
func WriteMsgpack(w io.Writer, rows []model.TrainingRow) error {
	recs := make([]Record, len(rows))
	for i, r := range rows {
		recs[i] = NewRecord(r)
	}
	enc := msgpack.NewEncoder(w)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(recs); err != nil {
		return fmt.Errorf("encode msgpack: %w", err)
	}
	return nil
}

// ReadMsgpack decodes records written by WriteMsgpack.
func ReadMsgpack(r io.Reader) ([]model.TrainingRow, error) {
	dec := msgpack.NewDecoder(r)
	dec.SetCustomStructTag("json")
	var recs []Record
	if err := dec.Decode(&recs); err != nil {
		return nil, fmt.Errorf("decode msgpack: %w", err)
	}
	out := make([]model.TrainingRow, len(recs))
	for i, rec := range recs {
		out[i] = rec.Row()
	}
	return out, nil
}

// ParseFormats splits a comma separated format list and validates each entry.
func ParseFormats(s string) ([]string, error) {
	var out []string
	for _, f := range strings.Split(s, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		switch f {
		case "":
			continue
		case FormatCSV, FormatMsgpack, FormatSQLite:
			out = append(out, f)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
		}
	}
	return out, nil
}

// Export writes each partition in every requested format into dir and returns
// the written paths. Files are named <partition>.<ext>; sqlite writes one
// dataset.db holding all partitions.
func Export(ctx context.Context, dir string, formats []string, partitions map[string][]model.TrainingRow) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // output directory is operator chosen
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	names := make([]string, 0, len(partitions))
	for name := range partitions {
		names = append(names, name)
	}
	sort.Strings(names)

	var written []string
	for _, format := range formats {
		switch format {
		case FormatCSV, FormatMsgpack:
			for _, name := range names {
				path := filepath.Join(dir, name+"."+format)
				if err := writeFile(path, format, partitions[name]); err != nil {
					return written, err
				}
				written = append(written, path)
			}
		case FormatSQLite:
			path := filepath.Join(dir, "dataset.db")
			store, err := OpenSQLite(ctx, path)
			if err != nil {
				return written, err
			}
			for _, name := range names {
				if err := store.Save(ctx, partitions[name]); err != nil {
					_ = store.Close()
					return written, err
				}
			}
			if err := store.Close(); err != nil {
				return written, fmt.Errorf("close sqlite: %w", err)
			}
			written = append(written, path)
		default:
			return written, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
		}
	}
	return written, nil
}

func writeFile(path, format string, rows []model.TrainingRow) error {
	f, err := os.Create(path) //nolint:gosec // output path is operator chosen
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	switch format {
	case FormatCSV:
		err = WriteCSV(f, rows)
	default:
		err = WriteMsgpack(f, rows)
	}
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %w", path, cerr)
	}
	return err
}
