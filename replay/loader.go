package replay

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/robsok/dt-replay-demo/config"
	"github.com/robsok/dt-replay-demo/errors"
	"github.com/robsok/dt-replay-demo/metric"
)

// Recognized coercion targets. The label sets match what stream configs in
// the wild actually use.
const (
	coerceFloat  = "float"
	coerceInt    = "int"
	coerceString = "string"
)

var coercionKinds = map[string]string{
	"float": coerceFloat, "number": coerceFloat, "float64": coerceFloat,
	"int": coerceInt, "int64": coerceInt, "integer": coerceInt,
	"str": coerceString, "string": coerceString,
}

// LoadResult is one stream's loaded rows plus loading counters. Records
// are sorted ascending by timestamp; rows retained with an unparseable
// timestamp carry the zero instant and therefore sort first.
type LoadResult struct {
	Stream  string
	Subject string
	Records []EventRecord

	RowsRead        int
	DroppedNoTime   int
	RetainedNoTime  int
	DroppedFiltered int
}

// Schedulable returns how many records can participate in the merge.
func (r LoadResult) Schedulable() int {
	n := 0
	for _, rec := range r.Records {
		if rec.Schedulable() {
			n++
		}
	}
	return n
}

// Loader reads stream sources into sorted EventRecords.
//
// Loading applies, in order: column renames, type coercions, the optional
// row filter, column projection, and timestamp parsing. Rows whose
// timestamp cannot be parsed are dropped or retained per the descriptor;
// retained rows are excluded from scheduling because the merge needs a
// concrete instant to order by.
type Loader struct {
	logger  *slog.Logger
	metrics *metric.Metrics
}

// NewLoader creates a loader. A nil logger falls back to slog.Default;
// nil metrics disable instrumentation.
func NewLoader(logger *slog.Logger, metrics *metric.Metrics) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		logger:  logger.With("component", "loader"),
		metrics: metrics,
	}
}

// Load reads one stream's CSV source into a sorted LoadResult. A missing
// source or timestamp column is a configuration error; per-row problems
// only reduce the record count.
func (l *Loader) Load(ctx context.Context, desc config.StreamDescriptor) (LoadResult, error) {
	res := LoadResult{Stream: desc.ID, Subject: desc.Subject}

	parser, err := NewTimestampParser(desc.TimeFmt, desc.TZ)
	if err != nil {
		return res, err
	}
	filter, err := newRowFilter(desc.ID, desc.Filter)
	if err != nil {
		return res, err
	}

	f, err := os.Open(desc.Source)
	if err != nil {
		if os.IsNotExist(err) {
			return res, errors.WrapInvalid(errors.ErrSourceNotFound, "StreamLoader", "Load",
				fmt.Sprintf("stream %s: %s", desc.ID, desc.Source))
		}
		return res, errors.WrapFatal(err, "StreamLoader", "Load",
			fmt.Sprintf("stream %s: open %s", desc.ID, desc.Source))
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return res, errors.WrapInvalid(errors.ErrSourceEmpty, "StreamLoader", "Load",
			fmt.Sprintf("stream %s: %s", desc.ID, desc.Source))
	}
	if err != nil {
		return res, errors.WrapFatal(err, "StreamLoader", "Load",
			fmt.Sprintf("stream %s: read header of %s", desc.ID, desc.Source))
	}

	columns := renameColumns(header, desc.Schema.Rename)

	timeIdx := -1
	for i, col := range columns {
		if col == desc.TimeCol {
			timeIdx = i
			break
		}
	}
	if timeIdx < 0 {
		return res, errors.WrapInvalid(errors.ErrTimeColumnMissing, "StreamLoader", "Load",
			fmt.Sprintf("stream %s: column %q not in %s (available: %s)",
				desc.ID, desc.TimeCol, desc.Source, strings.Join(columns, ", ")))
	}

	coercions := l.resolveCoercions(desc, columns)
	keep := projectionSet(desc, columns)
	recordColumns := projectColumns(columns, keep)

	for {
		if err := ctx.Err(); err != nil {
			return res, errors.WrapTransient(err, "StreamLoader", "Load",
				fmt.Sprintf("stream %s: load canceled", desc.ID))
		}

		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, errors.WrapFatal(err, "StreamLoader", "Load",
				fmt.Sprintf("stream %s: read row %d of %s", desc.ID, res.RowsRead+2, desc.Source))
		}
		res.RowsRead++

		fields := make(map[string]any, len(columns))
		for i, col := range columns {
			if i >= len(row) {
				break
			}
			fields[col] = row[i]
		}

		rawTS, _ := fields[desc.TimeCol].(string)

		for _, c := range coercions {
			if v, ok := fields[c.col]; ok {
				fields[c.col] = coerceValue(v, c.kind)
			}
		}

		if !filter.Eval(desc.ID, fields) {
			res.DroppedFiltered++
			continue
		}

		if keep != nil {
			for col := range fields {
				if !keep[col] {
					delete(fields, col)
				}
			}
		}

		ts, ok := parser.Parse(rawTS)
		if !ok {
			if desc.DropUnparseable() {
				res.DroppedNoTime++
				continue
			}
			res.RetainedNoTime++
		}

		res.Records = append(res.Records, EventRecord{
			Stream:  desc.ID,
			TS:      ts,
			Fields:  fields,
			Columns: recordColumns,
		})
	}

	sort.SliceStable(res.Records, func(i, j int) bool {
		return res.Records[i].TS.Before(res.Records[j].TS)
	})

	if l.metrics != nil {
		l.metrics.RecordRowsLoaded(desc.ID, len(res.Records))
		if res.DroppedNoTime > 0 {
			l.metrics.RecordRowsDropped(desc.ID, "no_time", res.DroppedNoTime)
		}
		if res.DroppedFiltered > 0 {
			l.metrics.RecordRowsDropped(desc.ID, "filtered", res.DroppedFiltered)
		}
	}

	l.logger.Info("Stream loaded",
		"stream", desc.ID,
		"source", desc.Source,
		"rows", res.RowsRead,
		"records", len(res.Records),
		"dropped_no_time", res.DroppedNoTime,
		"retained_no_time", res.RetainedNoTime,
		"filtered", res.DroppedFiltered)

	return res, nil
}

// LoadAll loads every descriptor concurrently, one goroutine per stream.
// Results come back in descriptor order; the first error cancels the rest.
func (l *Loader) LoadAll(ctx context.Context, descs []config.StreamDescriptor) ([]LoadResult, error) {
	results := make([]LoadResult, len(descs))

	g, gctx := errgroup.WithContext(ctx)
	for i, desc := range descs {
		i, desc := i, desc
		g.Go(func() error {
			res, err := l.Load(gctx, desc)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

type coercion struct {
	col  string
	kind string
}

// resolveCoercions maps the descriptor's type labels onto source columns.
// A label for a missing column or an unrecognized label is logged and
// skipped, never fatal.
func (l *Loader) resolveCoercions(desc config.StreamDescriptor, columns []string) []coercion {
	if len(desc.Schema.Types) == 0 {
		return nil
	}

	present := make(map[string]bool, len(columns))
	for _, col := range columns {
		present[col] = true
	}

	cols := make([]string, 0, len(desc.Schema.Types))
	for col := range desc.Schema.Types {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var coercions []coercion
	for _, col := range cols {
		label := desc.Schema.Types[col]
		kind, ok := coercionKinds[strings.ToLower(label)]
		if !ok {
			l.logger.Warn("Unknown type label, coercion skipped",
				"stream", desc.ID, "column", col, "type", label)
			continue
		}
		if !present[col] {
			l.logger.Warn("Column not in source, cannot coerce",
				"stream", desc.ID, "column", col, "source", desc.Source, "type", label)
			continue
		}
		coercions = append(coercions, coercion{col: col, kind: kind})
	}
	return coercions
}

// coerceValue converts a raw cell to the target type. Values that do not
// parse keep their raw form; coercion is best effort.
func coerceValue(v any, kind string) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch kind {
	case coerceFloat:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case coerceInt:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		// Fractional values stay numeric rather than falling back to text.
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case coerceString:
		return s
	}
	return v
}

func renameColumns(header []string, renames map[string]string) []string {
	if len(renames) == 0 {
		return header
	}
	columns := make([]string, len(header))
	for i, col := range header {
		if renamed, ok := renames[col]; ok {
			columns[i] = renamed
		} else {
			columns[i] = col
		}
	}
	return columns
}

// projectionSet returns the set of columns to keep, or nil for all.
// KeepCols wins over DropCols; the time column is always kept.
func projectionSet(desc config.StreamDescriptor, columns []string) map[string]bool {
	switch {
	case len(desc.KeepCols) > 0:
		keep := make(map[string]bool, len(desc.KeepCols)+1)
		for _, col := range desc.KeepCols {
			keep[col] = true
		}
		keep[desc.TimeCol] = true
		return keep
	case len(desc.DropCols) > 0:
		keep := make(map[string]bool, len(columns))
		for _, col := range columns {
			keep[col] = true
		}
		for _, col := range desc.DropCols {
			delete(keep, col)
		}
		keep[desc.TimeCol] = true
		return keep
	default:
		return nil
	}
}

func projectColumns(columns []string, keep map[string]bool) []string {
	if keep == nil {
		return columns
	}
	projected := make([]string, 0, len(columns))
	for _, col := range columns {
		if keep[col] {
			projected = append(projected, col)
		}
	}
	return projected
}
