package tools

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"strings"
)

const FormatJPEG = "JPEG"

// ImageMagick asks `identify` for the format of a file
type ImageMagick struct {
	Path string
}

// NewImageMagick resolves the identify binary
func NewImageMagick(name string) (*ImageMagick, error) {
	path, err := Resolve(name)
	if err != nil {
		return nil, err
	}
	return &ImageMagick{Path: path}, nil
}

func (im *ImageMagick) Identify(ctx context.Context, path string) (string, error) {
	out, err := run(ctx, im.Path, "-format", "%m", path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Magic signatures recognised by Sniffer
const (
	sigGIF  = "GIF8"
	sigJPEG = "\xff\xd8\xff"
	sigPNG  = "\x89PNG\r\n\x1a\n"
	sigRIFF = "RIFF"
	sigWEBP = "WEBP"

	headSize = 12
)

// Sniffer identifies formats from magic bytes without an external process.
// It reports the same names ImageMagick uses.
type Sniffer struct{}

func (Sniffer) Identify(_ context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	head, err := bufio.NewReaderSize(f, headSize).Peek(headSize)
	if err != nil && len(head) == 0 {
		// empty file: nothing to recognise
		return "", nil
	}
	return GuessFormat(head), nil
}

// GuessFormat maps the leading bytes of a file to a format name, or "" if unknown
func GuessFormat(head []byte) string {
	switch {
	case bytes.HasPrefix(head, []byte(sigJPEG)):
		return FormatJPEG
	case bytes.HasPrefix(head, []byte(sigPNG)):
		return "PNG"
	case bytes.HasPrefix(head, []byte(sigGIF)):
		return "GIF"
	case len(head) >= 12 && bytes.HasPrefix(head, []byte(sigRIFF)) && string(head[8:12]) == sigWEBP:
		return "WEBP"
	default:
		return ""
	}
}
