package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"jpegsweep/internal/config"
	"jpegsweep/internal/database"
	"jpegsweep/internal/metrics"
	"jpegsweep/internal/recompress"
	"jpegsweep/internal/safety"
	"jpegsweep/internal/scan"
	"jpegsweep/internal/tools"
)

// RunOnce scans cfg.Root and processes every candidate. A returned error means the run
// itself could not proceed; per-file failures are only counted in the summary.
// db may be nil.
func RunOnce(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger, db *database.HistoryDB) (recompress.Summary, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg == nil {
		return recompress.Summary{}, errors.New("nil config")
	}
	if cfg.Root == "" {
		return recompress.Summary{}, config.ErrNoRoot
	}

	select {
	case <-ctx.Done():
		return recompress.Summary{}, ctx.Err()
	default:
	}

	metrics.Init()
	start := time.Now()

	jpegs, pngs, err := scan.Scan(ctx, cfg.Root, scan.MatchMode(cfg.Match), logger)
	if err != nil {
		return recompress.Summary{}, err
	}
	metrics.FilesScannedTotal.WithLabelValues(metrics.OpJPEG).Add(float64(len(jpegs)))
	metrics.FilesScannedTotal.WithLabelValues(metrics.OpPNG).Add(float64(len(pngs)))

	if len(jpegs) == 0 && len(pngs) == 0 {
		finish(cfg, logger, start)
		return recompress.Summary{}, nil
	}

	transformer, err := buildTransformer(cfg)
	if err != nil {
		finish(cfg, logger, start)
		return recompress.Summary{}, err
	}

	processor := recompress.NewProcessor(logger, transformer, nil, cfg.DryRun, db)
	processor.SetValidator(safety.NewValidator([]string{cfg.Root}, cfg.ProtectedPaths))
	processor.SetVerifyMetadata(cfg.VerifyMetadata)

	summary, err := process(ctx, cfg, logger, processor, jpegs, pngs)
	finish(cfg, logger, start)
	return summary, err
}

// process runs the JPEG pass, then resolves the identifier and runs the PNG pass.
// A missing identifier ends the run with the JPEG results kept.
func process(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger, p *recompress.Processor, jpegs, pngs []scan.Candidate) (recompress.Summary, error) {
	var summary recompress.Summary

	logger.Infow("starting run",
		"jpeg_candidates", len(jpegs),
		"png_candidates", len(pngs),
		"dry_run", cfg.DryRun,
	)

	if err := p.NormalizeAll(ctx, jpegs, &summary); err != nil {
		return summary, err
	}

	if len(pngs) > 0 {
		identifier, err := buildIdentifier(cfg)
		if err != nil {
			p.Report(summary)
			return summary, err
		}
		p.SetIdentifier(identifier)

		if err := p.ConvertAll(ctx, pngs, &summary); err != nil {
			return summary, err
		}
	}

	p.Report(summary)
	return summary, nil
}

// buildTransformer resolves jpegtran. Dry-run never invokes it, so nothing is resolved.
func buildTransformer(cfg *config.Config) (tools.Transformer, error) {
	if cfg.DryRun {
		return nil, nil
	}
	jt, err := tools.NewJpegtran(cfg.Tools.Jpegtran)
	if err != nil {
		return nil, fmt.Errorf("jpegtran: %w", err)
	}
	return jt, nil
}

func buildIdentifier(cfg *config.Config) (tools.Identifier, error) {
	if cfg.Identifier == config.IdentifierBuiltin {
		return tools.Sniffer{}, nil
	}
	im, err := tools.NewImageMagick(cfg.Tools.Identify)
	if err != nil {
		return nil, fmt.Errorf("identify: %w", err)
	}
	return im, nil
}

func finish(cfg *config.Config, logger *zap.SugaredLogger, start time.Time) {
	elapsed := time.Since(start)
	metrics.RecordRun(elapsed)

	if cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Warnw("failed to write metrics", "path", cfg.MetricsFile, "error", err)
		}
	}
	logger.Debugw("run finished", "duration", elapsed)
}
