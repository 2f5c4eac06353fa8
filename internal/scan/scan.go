package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Kind says which operation a candidate is routed to
type Kind int

const (
	KindJPEG Kind = iota + 1
	KindPNG
)

func (k Kind) String() string {
	switch k {
	case KindJPEG:
		return "jpeg"
	case KindPNG:
		return "png"
	default:
		return "unknown"
	}
}

const (
	jpegMarker = ".jpg"
	pngMarker  = ".png"
)

// MatchMode controls how a file name is compared against the markers
type MatchMode string

const (
	// MatchSubstring matches names containing the marker anywhere, like `find -name '*.jpg*'`.
	MatchSubstring MatchMode = "substring"
	// MatchSuffix only matches names ending in the marker.
	MatchSuffix MatchMode = "suffix"
)

type Candidate struct {
	Path    string
	Size    int64
	ModTime time.Time
	Kind    Kind
}

var errNoRoot = errors.New("no root to scan")

// Classify returns every kind a base file name is routed to, JPEG first, or nil when
// the name matches neither marker. Matching is case-sensitive. In substring mode a name
// carrying both markers (x.jpg.png) goes through both operations.
func Classify(name string, mode MatchMode) []Kind {
	match := strings.Contains
	if mode == MatchSuffix {
		match = strings.HasSuffix
	}
	var kinds []Kind
	if match(name, jpegMarker) {
		kinds = append(kinds, KindJPEG)
	}
	if match(name, pngMarker) {
		kinds = append(kinds, KindPNG)
	}
	return kinds
}

// Scan walks root and returns the JPEG and PNG candidates in walk order.
// Only regular files are considered; unreadable directories are logged and skipped.
func Scan(ctx context.Context, root string, mode MatchMode, logger *zap.SugaredLogger) (jpegs, pngs []Candidate, err error) {
	if root == "" {
		return nil, nil, errNoRoot
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	var skipped int
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path != root && os.IsPermission(walkErr) {
				logger.Warnw("permission denied", "path", path)
				skipped++
				return nil
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		kinds := Classify(d.Name(), mode)
		if len(kinds) == 0 {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// removed between readdir and stat
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		for _, kind := range kinds {
			cand := Candidate{
				Path:    path,
				Size:    info.Size(),
				ModTime: info.ModTime(),
				Kind:    kind,
			}
			logger.Debugw("candidate", "path", path, "kind", kind.String(), "size", info.Size())

			if kind == KindJPEG {
				jpegs = append(jpegs, cand)
			} else {
				pngs = append(pngs, cand)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	logger.Infow("scan complete",
		"root", root,
		"jpeg_candidates", len(jpegs),
		"png_candidates", len(pngs),
		"unreadable", skipped,
	)
	return jpegs, pngs, nil
}
