package tools

import "context"

// Jpegtran drives libjpeg's jpegtran in perfect, copy-all mode
type Jpegtran struct {
	Path string
}

// NewJpegtran resolves the jpegtran binary
func NewJpegtran(name string) (*Jpegtran, error) {
	path, err := Resolve(name)
	if err != nil {
		return nil, err
	}
	return &Jpegtran{Path: path}, nil
}

// Args returns the argument list used to rewrite src into dst
func (j *Jpegtran) Args(src, dst string) []string {
	return []string{"-copy", "all", "-perfect", "-outfile", dst, src}
}

func (j *Jpegtran) Transform(ctx context.Context, src, dst string) error {
	_, err := run(ctx, j.Path, j.Args(src, dst)...)
	return err
}
