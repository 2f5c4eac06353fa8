package recompress

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"jpegsweep/internal/database"
	"jpegsweep/internal/exifcheck"
	"jpegsweep/internal/fsops"
	"jpegsweep/internal/metrics"
	"jpegsweep/internal/safety"
	"jpegsweep/internal/scan"
	"jpegsweep/internal/tools"
)

const jpegSuffix = ".jpg"

var errNoIdentifier = errors.New("no format identifier configured")

// Processor applies the JPEG and mislabeled-PNG operations to scanned candidates,
// one file at a time
type Processor struct {
	logger      *zap.SugaredLogger
	transformer tools.Transformer
	identifier  tools.Identifier
	deleter     fsops.Deleter
	validator   *safety.Validator
	db          *database.HistoryDB
	dryRun      bool

	verifyMetadata bool
	hasExif        func(path string) bool
}

// NewProcessor creates a Processor deleting through the real filesystem.
// db may be nil to disable the audit history.
func NewProcessor(logger *zap.SugaredLogger, transformer tools.Transformer, identifier tools.Identifier, dryRun bool, db *database.HistoryDB) *Processor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	metrics.Init()
	return &Processor{
		logger:      logger,
		transformer: transformer,
		identifier:  identifier,
		deleter:     fsops.OSDeleter{},
		dryRun:      dryRun,
		db:          db,
		hasExif:     exifcheck.HasExif,
	}
}

// SetDeleter replaces the deleter used for originals
func (p *Processor) SetDeleter(d fsops.Deleter) {
	p.deleter = d
}

// SetValidator installs the safety validator consulted before every write and delete
func (p *Processor) SetValidator(v *safety.Validator) {
	p.validator = v
}

// SetVerifyMetadata turns the EXIF survival check on or off
func (p *Processor) SetVerifyMetadata(on bool) {
	p.verifyMetadata = on
}

// SetIdentifier replaces the format identifier used for PNG candidates
func (p *Processor) SetIdentifier(id tools.Identifier) {
	p.identifier = id
}

// Run processes every JPEG candidate, then every PNG candidate. Per-file failures are
// recorded in the summary and do not stop the run; only cancellation does.
func (p *Processor) Run(ctx context.Context, jpegs, pngs []scan.Candidate) (Summary, error) {
	var summary Summary

	p.logger.Infow("starting run",
		"jpeg_candidates", len(jpegs),
		"png_candidates", len(pngs),
		"dry_run", p.dryRun,
	)

	if err := p.NormalizeAll(ctx, jpegs, &summary); err != nil {
		return summary, err
	}
	if err := p.ConvertAll(ctx, pngs, &summary); err != nil {
		return summary, err
	}

	p.Report(summary)
	return summary, nil
}

// NormalizeAll runs NormalizeJPEG over cands, adding each result to summary
func (p *Processor) NormalizeAll(ctx context.Context, cands []scan.Candidate, summary *Summary) error {
	for _, cand := range cands {
		if err := ctx.Err(); err != nil {
			return err
		}
		summary.add(p.NormalizeJPEG(ctx, cand))
	}
	return nil
}

// ConvertAll runs ConvertPNG over cands, adding each result to summary
func (p *Processor) ConvertAll(ctx context.Context, cands []scan.Candidate, summary *Summary) error {
	if len(cands) > 0 && p.identifier == nil {
		return errNoIdentifier
	}
	for _, cand := range cands {
		if err := ctx.Err(); err != nil {
			return err
		}
		summary.add(p.ConvertPNG(ctx, cand))
	}
	return nil
}

// Report logs the totals of a run
func (p *Processor) Report(summary Summary) {
	p.logger.Infow("run complete",
		"recompressed", summary.Recompressed,
		"converted", summary.Converted,
		"deleted", summary.Deleted,
		"skipped", summary.Skipped,
		"dry_run", summary.DryRun,
		"failed", summary.Failed,
		"bytes_saved", summary.BytesSaved,
	)
}

// NormalizeJPEG rewrites cand losslessly with all metadata kept. The output lands in a
// sibling temp file and replaces the original only when the transform succeeded.
func (p *Processor) NormalizeJPEG(ctx context.Context, cand scan.Candidate) Result {
	res := Result{Path: cand.Path, Kind: scan.KindJPEG, OutputPath: cand.Path}

	info, err := os.Stat(cand.Path)
	if err != nil {
		return p.fail(res, fmt.Errorf("stat: %w", err))
	}
	res.SizeBefore = info.Size()

	if p.validator != nil {
		if err := p.validator.ValidateOutputTarget(cand.Path); err != nil {
			return p.block(res, "output", err)
		}
	}

	if p.dryRun {
		res.Action = database.ActionDryRun
		res.Reason = "would recompress in place"
		p.logger.Infow("[DRY RUN] would recompress", "path", cand.Path, "size", res.SizeBefore)
		p.record(res)
		return res
	}

	srcExif := p.verifyMetadata && p.hasExif(cand.Path)

	tmp, err := p.transform(ctx, cand.Path, cand.Path)
	if err != nil {
		return p.fail(res, err)
	}
	if err := fsops.Replace(tmp, cand.Path, info.Mode().Perm()); err != nil {
		return p.fail(res, err)
	}

	res.Action = database.ActionRecompress
	res.SizeAfter = sizeOf(cand.Path)
	p.checkMetadata(&res, srcExif, cand.Path)

	metrics.FilesRecompressed.Inc()
	metrics.RecordSaved(res.SizeBefore, res.SizeAfter)
	p.logger.Infow("recompressed",
		"path", cand.Path,
		"size_before", res.SizeBefore,
		"size_after", res.SizeAfter,
	)
	p.record(res)
	return res
}

// ConvertPNG rewrites cand to cand.Path+".jpg" when its content is really a JPEG and then
// removes the original. A failed rewrite leaves the original in place and creates nothing.
func (p *Processor) ConvertPNG(ctx context.Context, cand scan.Candidate) Result {
	res := Result{Path: cand.Path, Kind: scan.KindPNG}

	info, err := os.Stat(cand.Path)
	if err != nil {
		return p.fail(res, fmt.Errorf("stat: %w", err))
	}
	res.SizeBefore = info.Size()

	start := time.Now()
	format, err := p.identifier.Identify(ctx, cand.Path)
	metrics.ObserveTool("identify", start)
	if err != nil {
		return p.fail(res, fmt.Errorf("identify: %w", err))
	}
	res.Format = format

	if format != tools.FormatJPEG {
		res.Action = database.ActionSkip
		res.Reason = "format " + formatLabel(format)
		metrics.FilesSkippedTotal.WithLabelValues("not_jpeg").Inc()
		p.logger.Debugw("not a mislabeled jpeg", "path", cand.Path, "format", format)
		p.record(res)
		return res
	}

	out := cand.Path + jpegSuffix
	res.OutputPath = out

	if p.validator != nil {
		if err := p.validator.ValidateOutputTarget(out); err != nil {
			return p.block(res, "output", err)
		}
	}

	if p.dryRun {
		res.Action = database.ActionDryRun
		res.Reason = "would convert and delete original"
		p.logger.Infow("[DRY RUN] would convert", "path", cand.Path, "output", out)
		p.record(res)
		return res
	}

	srcExif := p.verifyMetadata && p.hasExif(cand.Path)

	tmp, err := p.transform(ctx, cand.Path, out)
	if err != nil {
		return p.fail(res, err)
	}
	if _, err := os.Lstat(out); err == nil {
		p.logger.Warnw("replacing existing output", "path", out)
	}
	if err := fsops.Replace(tmp, out, info.Mode().Perm()); err != nil {
		return p.fail(res, err)
	}

	res.Action = database.ActionConvert
	res.SizeAfter = sizeOf(out)
	p.checkMetadata(&res, srcExif, out)

	metrics.PNGsConverted.Inc()
	metrics.RecordSaved(res.SizeBefore, res.SizeAfter)
	p.logger.Infow("converted",
		"path", cand.Path,
		"output", out,
		"size_before", res.SizeBefore,
		"size_after", res.SizeAfter,
	)
	p.record(res)

	p.deleteOriginal(&res)
	return res
}

// deleteOriginal removes res.Path once its conversion has been written
func (p *Processor) deleteOriginal(res *Result) {
	if p.validator != nil {
		if err := p.validator.ValidateDeleteTarget(res.Path); err != nil {
			res.Blocked = err
			metrics.SafetyBlockedTotal.Inc()
			p.logger.Warnw("delete blocked by safety validator", "path", res.Path, "error", err)
			p.recordEvent(*res, database.ActionSkip, "safety: "+err.Error(), "")
			return
		}
	}

	if err := p.deleter.Remove(res.Path); err != nil {
		res.Err = fmt.Errorf("remove original: %w", err)
		metrics.FilesFailedTotal.WithLabelValues(metrics.OpPNG).Inc()
		p.logger.Errorw("failed to delete original", "path", res.Path, "error", err)
		p.recordEvent(*res, database.ActionError, "", res.Err.Error())
		return
	}

	res.Deleted = true
	metrics.OriginalsDeleted.Inc()
	p.logger.Infow("deleted original", "path", res.Path)
	p.recordEvent(*res, database.ActionDelete, "", "")
}

// transform runs the transformer from src into a fresh temp file beside dst
func (p *Processor) transform(ctx context.Context, src, dst string) (string, error) {
	tmp, err := fsops.TempSibling(dst)
	if err != nil {
		// the directory, not the file, must be writable
		return "", fmt.Errorf("temp file: %w", err)
	}

	start := time.Now()
	err = p.transformer.Transform(ctx, src, tmp)
	metrics.ObserveTool("jpegtran", start)
	if err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("transform: %w", err)
	}
	return tmp, nil
}

func (p *Processor) checkMetadata(res *Result, srcExif bool, out string) {
	if !srcExif || p.hasExif(out) {
		return
	}
	res.MetadataLost = true
	res.Reason = "exif lost"
	metrics.MetadataLostTotal.Inc()
	p.logger.Warnw("metadata not preserved", "path", res.Path, "output", out)
}

func (p *Processor) fail(res Result, err error) Result {
	res.Action = database.ActionError
	res.Err = err

	op := metrics.OpJPEG
	if res.Kind == scan.KindPNG {
		op = metrics.OpPNG
	}
	metrics.FilesFailedTotal.WithLabelValues(op).Inc()

	fields := []interface{}{"path", res.Path, "error", err}
	var toolErr *tools.ToolError
	if errors.As(err, &toolErr) {
		fields = append(fields, "exit_code", toolErr.ExitCode)
	}
	p.logger.Errorw("failed to process", fields...)
	p.record(res)
	return res
}

func (p *Processor) block(res Result, what string, err error) Result {
	res.Action = database.ActionSkip
	res.Blocked = err
	res.Reason = "safety: " + what + ": " + err.Error()
	metrics.SafetyBlockedTotal.Inc()
	metrics.FilesSkippedTotal.WithLabelValues("safety").Inc()
	p.logger.Warnw("blocked by safety validator", "path", res.Path, "target", what, "error", err)
	p.record(res)
	return res
}

// record writes res to the audit history; history failures never fail the file
func (p *Processor) record(res Result) {
	errMsg := ""
	if res.Err != nil {
		errMsg = res.Err.Error()
	}
	p.recordEvent(res, res.Action, res.Reason, errMsg)
}

func (p *Processor) recordEvent(res Result, action, reason, errMsg string) {
	if p.db == nil {
		return
	}
	rec := database.ActionRecord{
		Action:         action,
		Operation:      res.Kind.String(),
		Path:           res.Path,
		OutputPath:     res.OutputPath,
		DetectedFormat: res.Format,
		SizeBefore:     res.SizeBefore,
		Reason:         reason,
		ErrorMessage:   errMsg,
	}
	if action == database.ActionRecompress || action == database.ActionConvert {
		rec.SizeAfter = res.SizeAfter
	}
	if err := p.db.RecordAction(rec); err != nil {
		p.logger.Errorw("failed to record to database", "path", res.Path, "error", err)
	}
}

func sizeOf(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func formatLabel(format string) string {
	if format == "" {
		return "unknown"
	}
	return format
}
