package memproc

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DuplicateGroup is a set of byte-identical files within one directory.
// Exactly one survivor is kept per group.
type DuplicateGroup struct {
	Hash   string
	Keep   string
	Delete []string
}

// PrunerStats count the work of a deduplication pass.
type PrunerStats struct {
	Folders int // folders that contained at least one duplicate group
	Groups  int
	Deleted int
	Errored int
}

// Pruner removes byte-identical duplicates inside the immediate
// subdirectories of Dir, i.e. inside expanded bundle directories.
type Pruner struct {
	Dir    string
	DryRun bool
}

// Run hashes every regular file per subdirectory, groups by digest and
// deletes all but one representative per group.
func (p *Pruner) Run() (PrunerStats, error) {
	var stats PrunerStats
	entries, err := os.ReadDir(p.Dir)
	if err != nil {
		return stats, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub := filepath.Join(p.Dir, e.Name())
		groups, err := FindDuplicates(sub)
		if err != nil {
			slog.Warn("dedupe scan failed", "dir", sub, "err", err)
			stats.Errored++
			continue
		}
		if len(groups) == 0 {
			continue
		}
		stats.Folders++
		for _, group := range groups {
			stats.Groups++
			slog.Info("duplicate group",
				"dir", e.Name(),
				"keep", filepath.Base(group.Keep),
				"delete", len(group.Delete))
			for _, victim := range group.Delete {
				if p.DryRun {
					slog.Info("would delete", "file", filepath.Base(victim))
					continue
				}
				if err := os.Remove(victim); err != nil {
					slog.Warn("delete failed", "file", victim, "err", err)
					stats.Errored++
					continue
				}
				stats.Deleted++
			}
		}
	}
	slog.Info("dedupe pass done",
		"folders", stats.Folders,
		"groups", stats.Groups,
		"deleted", stats.Deleted,
		"dry_run", p.DryRun)
	return stats, nil
}

// FindDuplicates groups the regular files of one directory by content hash.
// Survivor selection prefers the file whose name starts with the identifier
// embedded in the directory name; otherwise the first file in listing order
// wins, which is a heuristic and not guaranteed stable across filesystems.
func FindDuplicates(dir string) ([]DuplicateGroup, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) < 2 {
		return nil, nil
	}
	var (
		byHash = make(map[string][]string)
		order  []string // hash first-seen order, keeps output deterministic for tests
	)
	for _, path := range files {
		digest, err := SHA256File(path)
		if err != nil {
			slog.Warn("hash failed", "file", path, "err", err)
			continue
		}
		if _, ok := byHash[digest]; !ok {
			order = append(order, digest)
		}
		byHash[digest] = append(byHash[digest], path)
	}
	dirID := embeddedID(filepath.Base(dir))
	var groups []DuplicateGroup
	for _, digest := range order {
		paths := byHash[digest]
		if len(paths) < 2 {
			continue
		}
		group := DuplicateGroup{Hash: digest}
		for _, path := range paths {
			if group.Keep == "" && strings.HasPrefix(filepath.Base(path), dirID) {
				group.Keep = path
			} else {
				group.Delete = append(group.Delete, path)
			}
		}
		if group.Keep == "" {
			group.Keep = group.Delete[0]
			group.Delete = group.Delete[1:]
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// embeddedID extracts the identifier from a bundle directory name of the
// form YYYYMMDD_HHMMSS_<id>; names without underscores are returned as-is.
func embeddedID(name string) string {
	parts := strings.SplitN(name, "_", 3)
	return parts[len(parts)-1]
}
