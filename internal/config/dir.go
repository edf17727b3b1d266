package config

import "context"

type dirKey struct{}

// WithDir stores the resolved run directory in the context.
func WithDir(ctx context.Context, dir string) context.Context {
	return context.WithValue(ctx, dirKey{}, dir)
}

// DirFrom returns the run directory from the context, if set.
func DirFrom(ctx context.Context) (string, bool) {
	v := ctx.Value(dirKey{})
	s, ok := v.(string)
	return s, ok
}

// MustDirFrom returns the run directory from the context, or panics if unset.
func MustDirFrom(ctx context.Context) string {
	if d, ok := DirFrom(ctx); ok && d != "" {
		return d
	}
	panic("run directory missing from context")
}
