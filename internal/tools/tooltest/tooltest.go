// Package tooltest writes stand-in shell scripts for jpegtran and identify so tests can
// run without libjpeg or ImageMagick installed.
package tooltest

import (
	"os"
	"path/filepath"
	"testing"
)

// BrokenMarker makes the fake jpegtran fail when it appears in the input file.
const BrokenMarker = "BROKEN"

// Transformed is appended by the fake jpegtran once per rewrite, so tests can count
// rewrites. The JPEG signature at the front of the file is kept.
const Transformed = "+jpegtran"

// jpegtran -copy all -perfect -outfile DST SRC
const jpegtranScript = `#!/bin/sh
dst="$5"
src="$6"
if grep -q ` + BrokenMarker + ` "$src"; then
	echo "Premature end of JPEG file" >&2
	printf partial > "$dst"
	exit 1
fi
cat "$src" > "$dst"
printf '` + Transformed + `' >> "$dst"
`

// identify -format %m PATH, decided by the JPEG SOI marker
const identifyScript = `#!/bin/sh
sig=$(head -c 3 "$3" | od -An -tx1 | tr -d ' \n')
if [ "$sig" = "ffd8ff" ]; then
	echo JPEG
else
	echo PNG
fi
`

// WriteScript stores an executable script named name in dir and returns its path.
func WriteScript(tb testing.TB, dir, name, body string) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		tb.Fatalf("write %s: %v", name, err)
	}
	return path
}

// FakeJpegtran installs a jpegtran stand-in in a fresh temp dir.
func FakeJpegtran(tb testing.TB) string {
	tb.Helper()
	return WriteScript(tb, tb.TempDir(), "jpegtran", jpegtranScript)
}

// FakeIdentify installs an identify stand-in in a fresh temp dir.
func FakeIdentify(tb testing.TB) string {
	tb.Helper()
	return WriteScript(tb, tb.TempDir(), "identify", identifyScript)
}

// JPEGBytes returns a payload that starts with a JPEG SOI/APP0 marker.
func JPEGBytes(body string) []byte {
	return append([]byte{0xff, 0xd8, 0xff, 0xe0}, body...)
}

// PNGBytes returns a payload that starts with the PNG signature.
func PNGBytes(body string) []byte {
	return append([]byte("\x89PNG\r\n\x1a\n"), body...)
}
