package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ErrTargetNotEmpty is returned when the target holds files and the run was
// not forced.
var ErrTargetNotEmpty = errors.New("runner: target directory is not empty")

const copyWorkers = 8

// PrepareTarget checks the source tree and empties the target. A non-empty
// target is only wiped when force is set.
func PrepareTarget(source, target string, force bool) error {
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("runner: source %s: %w", source, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("runner: source %s is not a directory", source)
	}
	entries, err := os.ReadDir(target)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("runner: read target %s: %w", target, err)
	case len(entries) == 0:
		return nil
	case !force:
		return fmt.Errorf("%w: %s (use --force to replace it)", ErrTargetNotEmpty, target)
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("runner: clear target %s: %w", target, err)
	}
	return nil
}

// CopyTree copies source into target and returns the number of regular
// files copied. Symlinks are recreated; absolute links into source are
// rebased onto target.
func CopyTree(ctx context.Context, source, target string) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(copyWorkers)
	copied := 0
	walkErr := filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := gctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		dst := filepath.Join(target, rel)
		switch {
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(dst, info.Mode().Perm()|0o700)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			if filepath.IsAbs(link) && within(source, link) {
				inner, _ := filepath.Rel(source, link)
				link = filepath.Join(target, inner)
			}
			return os.Symlink(link, dst)
		case d.Type().IsRegular():
			copied++
			g.Go(func() error {
				return copyFile(path, dst)
			})
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return copied, fmt.Errorf("runner: copy: %w", err)
	}
	if walkErr != nil {
		return copied, fmt.Errorf("runner: copy %s: %w", source, walkErr)
	}
	return copied, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
