// Package reftable assembles the three reftable sections (refs, an
// optional object index, logs) behind a single header/footer-framed file,
// composing the table package's per-section block writer with the object
// index builder and the fixed-width, CRC32-checked header/footer framing
// defined in header.go.
package reftable

import (
	"strings"

	"github.com/nrednav/reftable/internal/options"
	"github.com/nrednav/reftable/record"
	"github.com/nrednav/reftable/rterrs"
	"github.com/nrednav/reftable/rtio"
	"github.com/nrednav/reftable/table"
)

type writerState int

const (
	stateOpenRefs writerState = iota
	stateOpenLogs
	stateClosed
)

// WriterStats reports per-section statistics for a closed Writer.
type WriterStats struct {
	Ref table.Stats
	Obj table.Stats
	Log table.Stats
}

// Writer builds one reftable file on an rtio.Writer sink. Records must be
// added in two ascending-key phases: all refs (AddRef), then all logs
// (AddLog); the first AddLog call closes the ref phase (flushing the ref
// section, its index, and the object index) and opens the log phase.
// SetLimits must be called exactly once before the first Add call.
type Writer struct {
	sink rtio.Writer
	cfg  writerConfig

	state          writerState
	limitsSet      bool
	minUpdateIndex uint64
	maxUpdateIndex uint64

	pos uint64

	refWriter *table.SectionWriter
	objWriter *table.SectionWriter
	logWriter *table.SectionWriter
	objIdx    *table.ObjectIndexBuilder

	refStart, refIndexRoot uint64
	objStart, objIndexRoot uint64
	logStart, logIndexRoot uint64

	refsFinished bool

	failed  bool
	lastErr error
}

// NewWriter constructs a Writer over sink. No bytes are written until
// SetLimits is called, since the file header embeds the update-index
// range.
func NewWriter(sink rtio.Writer, opts ...WriterOption) (*Writer, error) {
	cfg := defaultWriterConfig()
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}
	return &Writer{sink: sink, cfg: *cfg}, nil
}

// SetLimits records the [min, max] update_index range every AddRef's
// UpdateIndex must fall within, and writes the file header. It must be
// called exactly once, before the first AddRef or AddLog.
func (w *Writer) SetLimits(min, max uint64) error {
	if w.failed {
		return w.lastErr
	}
	if w.limitsSet {
		return rterrs.ErrLimitsAlreadySet
	}

	version, err := versionForHashSize(w.cfg.HashSize)
	if err != nil {
		return err
	}

	h := header{version: version, blockSize: w.cfg.BlockSize, minUpdateIndex: min, maxUpdateIndex: max}
	buf := encodeHeader(h)
	if _, err := w.sink.Write(buf); err != nil {
		return w.fail(err)
	}

	w.pos = uint64(len(buf))
	w.minUpdateIndex = min
	w.maxUpdateIndex = max
	w.limitsSet = true

	ctx := record.Context{HashSize: w.cfg.HashSize, BaseUpdateIndex: min}
	w.refWriter = table.NewSectionWriter(record.KindRef, w.sink, w.pos, w.cfg.BlockSize, w.cfg.RestartInterval, ctx, HeaderSize)
	w.objIdx = table.NewObjectIndexBuilder()

	w.cfg.Logger.Debugw("reftable: header written", "block_size", w.cfg.BlockSize, "hash_size", w.cfg.HashSize, "min_update_index", min, "max_update_index", max)

	return nil
}

func (w *Writer) fail(err error) error {
	w.failed = true
	w.lastErr = err
	return err
}

// AddRef appends a ref record. Refs must be added in strictly ascending
// name order, each with an UpdateIndex within [min, max] from SetLimits.
func (w *Writer) AddRef(r *record.Ref) error {
	if w.failed {
		return w.lastErr
	}
	if !w.limitsSet {
		return rterrs.ErrLimitsNotSet
	}
	if w.state == stateClosed {
		return rterrs.ErrWriterClosed
	}
	if w.state != stateOpenRefs {
		return rterrs.ErrBackwardsTransition
	}
	if r.UpdateIndex < w.minUpdateIndex || r.UpdateIndex > w.maxUpdateIndex {
		return rterrs.ErrUpdateIndexOutOfRange
	}

	if err := w.refWriter.Add(r); err != nil {
		return w.fail(err)
	}

	if !w.cfg.SkipIndexObjects {
		offset := w.refWriter.CurrentBlockOffset()
		if len(r.Value) > 0 {
			w.objIdx.Observe(r.Value, offset)
		}
		if len(r.TargetValue) > 0 {
			w.objIdx.Observe(r.TargetValue, offset)
		}
	}

	return nil
}

// AddLog appends a log record. The first call closes the ref phase (and,
// unless skipped, writes the object index) before opening the log section.
// Log keys (ref_name || ^update_index) must be strictly ascending.
func (w *Writer) AddLog(l *record.Log) error {
	if w.failed {
		return w.lastErr
	}
	if !w.limitsSet {
		return rterrs.ErrLimitsNotSet
	}
	if w.state == stateClosed {
		return rterrs.ErrWriterClosed
	}

	if w.state == stateOpenRefs {
		if err := w.finishRefsAndObj(); err != nil {
			return w.fail(err)
		}
		w.state = stateOpenLogs
		w.logWriter = table.NewSectionWriter(record.KindLog, w.sink, w.pos, w.cfg.BlockSize, w.cfg.RestartInterval, record.Context{HashSize: w.cfg.HashSize}, 0)
		w.cfg.Logger.Debugw("reftable: log section opened", "offset", w.pos)
	}

	if !w.cfg.ExactLogMessage {
		l.Message = strings.TrimSuffix(l.Message, "\n")
	}

	if err := w.logWriter.Add(l); err != nil {
		return w.fail(err)
	}
	return nil
}

// finishRefsAndObj closes the ref section writer and, unless object
// indexing was skipped or nothing was observed, writes the obj section
// immediately after it. It advances w.pos to the next section's start.
func (w *Writer) finishRefsAndObj() error {
	if w.refsFinished {
		return nil
	}

	refStart, refIndexRoot, err := w.refWriter.Close()
	if err != nil {
		return err
	}
	w.refStart, w.refIndexRoot = refStart, refIndexRoot
	w.pos = w.refWriter.CurrentBlockOffset()
	w.cfg.Logger.Debugw("reftable: ref section closed", "start", w.refStart, "index_root", w.refIndexRoot, "records", w.refWriter.Stats().RecordCount)

	if !w.cfg.SkipIndexObjects && w.objIdx.Len() > 0 {
		w.objWriter = table.NewSectionWriter(record.KindObj, w.sink, w.pos, w.cfg.BlockSize, w.cfg.RestartInterval, record.Context{HashSize: w.cfg.HashSize}, 0)
		if err := w.objIdx.Flush(w.objWriter); err != nil {
			return err
		}
		objStart, objIndexRoot, err := w.objWriter.Close()
		if err != nil {
			return err
		}
		w.objStart, w.objIndexRoot = objStart, objIndexRoot
		w.pos = w.objWriter.CurrentBlockOffset()
		w.cfg.Logger.Debugw("reftable: obj section closed", "start", w.objStart, "index_root", w.objIndexRoot, "distinct_objects", w.objIdx.Len())
	}

	w.refsFinished = true
	return nil
}

// Close finalizes whichever sections have not yet been flushed, writes the
// footer, and returns per-section statistics. After Close, the Writer
// rejects any further Add* calls.
func (w *Writer) Close() (WriterStats, error) {
	if w.failed {
		return WriterStats{}, w.lastErr
	}
	if w.state == stateClosed {
		return WriterStats{}, rterrs.ErrWriterClosed
	}
	if !w.limitsSet {
		return WriterStats{}, rterrs.ErrLimitsNotSet
	}

	if w.state == stateOpenRefs {
		if err := w.finishRefsAndObj(); err != nil {
			return WriterStats{}, w.fail(err)
		}
	}

	if w.logWriter == nil {
		w.logWriter = table.NewSectionWriter(record.KindLog, w.sink, w.pos, w.cfg.BlockSize, w.cfg.RestartInterval, record.Context{HashSize: w.cfg.HashSize}, 0)
	}

	logStart, logIndexRoot, err := w.logWriter.Close()
	if err != nil {
		return WriterStats{}, w.fail(err)
	}
	w.logStart, w.logIndexRoot = logStart, logIndexRoot
	w.cfg.Logger.Debugw("reftable: log section closed", "start", w.logStart, "index_root", w.logIndexRoot, "records", w.logWriter.Stats().RecordCount)

	version, err := versionForHashSize(w.cfg.HashSize)
	if err != nil {
		return WriterStats{}, w.fail(err)
	}

	f := footer{
		header:       header{version: version, blockSize: w.cfg.BlockSize, minUpdateIndex: w.minUpdateIndex, maxUpdateIndex: w.maxUpdateIndex},
		refStart:     w.refStart,
		refIndexRoot: w.refIndexRoot,
		objStart:     w.objStart,
		objIndexRoot: w.objIndexRoot,
		logStart:     w.logStart,
		logIndexRoot: w.logIndexRoot,
	}
	if _, err := w.sink.Write(encodeFooter(f)); err != nil {
		return WriterStats{}, w.fail(err)
	}

	w.state = stateClosed

	stats := WriterStats{Ref: w.refWriter.Stats(), Log: w.logWriter.Stats()}
	if w.objWriter != nil {
		stats.Obj = w.objWriter.Stats()
	}
	w.cfg.Logger.Debugw("reftable: writer closed", "ref_blocks", stats.Ref.BlockCount, "obj_blocks", stats.Obj.BlockCount, "log_blocks", stats.Log.BlockCount)
	return stats, nil
}
