// Package archive builds zip bundles on demand from selections of
// sandboxed paths.
package archive

import (
	"archive/zip"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"airlift/internal/logger"
	"airlift/internal/sandbox"
)

// Builder assembles zip archives from request-relative selections. Every
// selection is resolved through the sandbox before use; an entry that
// fails to resolve is skipped, not fatal.
type Builder struct {
	Root *sandbox.Root
}

// Build writes a zip archive of the given selections to w. Files are
// stored under their base names; directories are walked with an explicit
// work-list (no call-stack recursion) and their contents flattened under
// slash-joined relative names. Hidden entries are skipped, and every
// visited path is re-checked against the root to defend against symlink
// swaps during the walk. Only codec or write errors are returned.
func (b *Builder) Build(w io.Writer, selections []string) error {
	zw := zip.NewWriter(w)
	for _, sel := range selections {
		p, err := sandbox.Resolve(b.Root, sel)
		if err != nil {
			logger.Warn("archive: skipping %q: %v", sel, err)
			continue
		}
		st, err := os.Stat(p.Abs())
		if err != nil {
			logger.Warn("archive: skipping %q: %v", sel, err)
			continue
		}
		if st.IsDir() {
			if err := b.addDir(zw, p); err != nil {
				zw.Close()
				return err
			}
			continue
		}
		if err := addFile(zw, p.Abs(), p.Base(), st.ModTime()); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

type workItem struct {
	dir    string // absolute directory path
	prefix string // archive name prefix, slash-separated
}

func (b *Builder) addDir(zw *zip.Writer, dir sandbox.Path) error {
	stack := []workItem{{dir: dir.Abs(), prefix: dir.Base()}}
	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		ents, err := os.ReadDir(item.dir)
		if err != nil {
			logger.Warn("archive: read %s: %v", item.dir, err)
			continue
		}
		for _, e := range ents {
			name := e.Name()
			if strings.HasPrefix(name, ".") {
				continue
			}
			abs := filepath.Join(item.dir, name)
			if !b.inRoot(abs, e) {
				continue
			}
			arcName := name
			if item.prefix != "" {
				arcName = item.prefix + "/" + name
			}
			if e.IsDir() {
				stack = append(stack, workItem{dir: abs, prefix: arcName})
				continue
			}
			if !e.Type().IsRegular() {
				continue
			}
			mod := time.Now()
			if info, err := e.Info(); err == nil {
				mod = info.ModTime()
			}
			if err := addFile(zw, abs, arcName, mod); err != nil {
				return err
			}
		}
	}
	return nil
}

// inRoot re-validates a walked path against the root. Symlinked entries
// are resolved first so a link swapped in mid-walk cannot point the
// archive outside the sandbox.
func (b *Builder) inRoot(abs string, e fs.DirEntry) bool {
	if e.Type()&fs.ModeSymlink != 0 {
		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return false
		}
		abs = resolved
	}
	return b.Root.Contains(abs)
}

func addFile(zw *zip.Writer, abs, arcName string, mod time.Time) error {
	h := &zip.FileHeader{
		Name:     arcName,
		Method:   zip.Deflate,
		Modified: mod,
	}
	wr, err := zw.CreateHeader(h)
	if err != nil {
		return err
	}
	f, err := os.Open(abs)
	if err != nil {
		logger.Warn("archive: open %s: %v", abs, err)
		return nil
	}
	defer f.Close()
	_, err = io.Copy(wr, f)
	return err
}
