// Package listing enumerates directory contents into a presentation-
// agnostic form.
package listing

import (
	"os"
	"sort"
	"strings"
	"time"

	"airlift/internal/sandbox"
)

// Entry describes one visible directory member. Entries are recomputed per
// request and never persisted.
type Entry struct {
	Name        string        `json:"name"`
	IsDir       bool          `json:"isDir"`
	Size        int64         `json:"size"`
	ModifiedAgo time.Duration `json:"modifiedAgo"`
}

// List returns the visible entries of dir, directories first, then
// case-insensitive by name. Dot entries are excluded. A metadata read
// failure degrades that entry to zero size and age instead of failing the
// whole listing.
func List(dir sandbox.Path) ([]Entry, error) {
	ents, err := os.ReadDir(dir.Abs())
	if err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]Entry, 0, len(ents))
	for _, e := range ents {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		it := Entry{Name: name, IsDir: e.IsDir()}
		if info, err := e.Info(); err == nil {
			it.Size = info.Size()
			if age := now.Sub(info.ModTime()); age > 0 {
				it.ModifiedAgo = age
			}
		}
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsDir != out[j].IsDir {
			return out[i].IsDir
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}
