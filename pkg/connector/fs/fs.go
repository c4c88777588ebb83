package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shuttlehq/shuttle/pkg/connector"
	"github.com/shuttlehq/shuttle/pkg/types"
)

const (
	connectorName    = "files"
	connectorVersion = "1.0.0"
	pageSize         = 200

	// maxFileSize skips files too large to treat as documents.
	maxFileSize = 16 << 20
)

// Cursor prefixes. A settled cursor ("t:") carries the newest modification
// time the last run saw; a page cursor ("p:") additionally carries the last
// path emitted, so a walk resumes mid-partition.
const (
	cursorSettled = "t:"
	cursorPage    = "p:"
)

// Config is the files connector's per-source configuration.
type Config struct {
	Roots []string `json:"roots"`
}

// Connector syncs documents from local directory trees. Each configured root
// is one partition; the cursor tracks the newest modification time seen, so
// incremental runs only surface files written since.
type Connector struct{}

// New creates the files connector.
func New() *Connector {
	return &Connector{}
}

func (c *Connector) Manifest() types.Manifest {
	return types.Manifest{
		Name:      connectorName,
		Version:   connectorVersion,
		SyncModes: []types.SyncMode{types.SyncModeFull, types.SyncModeIncremental},
		Actions: []types.ActionSpec{
			{Name: "list_roots", Description: "List configured roots and whether they are readable"},
		},
	}
}

func (c *Connector) Sync(ctx context.Context, job connector.Job, sdk *connector.SDK) error {
	return connector.RunSync(ctx, job, sdk, c)
}

func (c *Connector) parseConfig(job connector.Job) (*Config, error) {
	var cfg Config
	if len(job.Config) > 0 {
		if err := json.Unmarshal(job.Config, &cfg); err != nil {
			return nil, fmt.Errorf("invalid files connector config: %w", err)
		}
	}
	if len(cfg.Roots) == 0 {
		return nil, fmt.Errorf("files connector config has no roots")
	}
	return &cfg, nil
}

// Partitions returns one partition per configured root.
func (c *Connector) Partitions(ctx context.Context, job connector.Job) ([]string, error) {
	cfg, err := c.parseConfig(job)
	if err != nil {
		return nil, err
	}
	return cfg.Roots, nil
}

// fileEntry is one candidate file found by a walk.
type fileEntry struct {
	relPath string
	absPath string
	size    int64
	modTime time.Time
}

// Page walks one root. The whole tree is listed and sorted on every call;
// the page cursor records where the previous call stopped.
func (c *Connector) Page(ctx context.Context, job connector.Job, partition, cursor string) ([]connector.Item, string, bool, error) {
	threshold, lastPath, err := parseCursor(cursor)
	if err != nil {
		return nil, "", false, err
	}

	entries, newest, err := walkRoot(ctx, partition, threshold)
	if err != nil {
		return nil, "", false, err
	}

	// Resume past the last emitted path.
	start := 0
	if lastPath != "" {
		start = sort.Search(len(entries), func(i int) bool {
			return entries[i].relPath > lastPath
		})
	}

	end := start + pageSize
	if end >= len(entries) {
		end = len(entries)
	}

	items := make([]connector.Item, 0, end-start)
	for _, entry := range entries[start:end] {
		data, err := os.ReadFile(entry.absPath)
		if err != nil {
			// Deleted or unreadable between walk and read; skip it, the next
			// run settles the difference.
			continue
		}
		mt := entry.modTime
		items = append(items, connector.Item{
			ExternalID:  entry.relPath,
			Content:     data,
			ContentType: contentTypeFor(entry.relPath),
			Metadata: types.DocumentMetadata{
				Title:     filepath.Base(entry.relPath),
				Path:      entry.relPath,
				Size:      entry.size,
				MimeType:  contentTypeFor(entry.relPath),
				UpdatedAt: &mt,
			},
			Permissions: types.Permissions{Public: false},
		})
	}

	if end < len(entries) {
		next := cursorPage + threshold.Format(time.RFC3339Nano) + "|" + entries[end-1].relPath
		return items, next, false, nil
	}

	// Partition exhausted; settle the cursor at the newest mtime seen.
	settled := newest
	if settled.Before(threshold) {
		settled = threshold
	}
	return items, cursorSettled + settled.Format(time.RFC3339Nano), true, nil
}

// parseCursor splits a cursor into its mtime threshold and resume path.
func parseCursor(cursor string) (time.Time, string, error) {
	switch {
	case cursor == "":
		return time.Time{}, "", nil
	case strings.HasPrefix(cursor, cursorSettled):
		ts, err := time.Parse(time.RFC3339Nano, cursor[len(cursorSettled):])
		if err != nil {
			return time.Time{}, "", fmt.Errorf("malformed cursor %q: %w", cursor, err)
		}
		return ts, "", nil
	case strings.HasPrefix(cursor, cursorPage):
		rest := cursor[len(cursorPage):]
		idx := strings.Index(rest, "|")
		if idx < 0 {
			return time.Time{}, "", fmt.Errorf("malformed page cursor %q", cursor)
		}
		ts, err := time.Parse(time.RFC3339Nano, rest[:idx])
		if err != nil {
			return time.Time{}, "", fmt.Errorf("malformed page cursor %q: %w", cursor, err)
		}
		return ts, rest[idx+1:], nil
	default:
		return time.Time{}, "", fmt.Errorf("unknown cursor format %q", cursor)
	}
}

// walkRoot lists every regular file under root newer than threshold, sorted
// by relative path, along with the newest mtime encountered.
func walkRoot(ctx context.Context, root string, threshold time.Time) ([]fileEntry, time.Time, error) {
	var entries []fileEntry
	var newest time.Time

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > maxFileSize {
			return nil
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		if !info.ModTime().After(threshold) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		entries = append(entries, fileEntry{
			relPath: rel,
			absPath: path,
			size:    info.Size(),
			modTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].relPath < entries[j].relPath })
	return entries, newest, nil
}

func contentTypeFor(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Action implements the list_roots action.
func (c *Connector) Action(ctx context.Context, req *types.ActionRequest) (*types.ActionResult, error) {
	if req.Action != "list_roots" {
		return nil, fmt.Errorf("unknown action %q", req.Action)
	}

	roots := make(map[string]bool)
	for key, value := range req.Params {
		if key == "root" {
			_, err := os.Stat(value)
			roots[value] = err == nil
		}
	}

	data, err := json.Marshal(roots)
	if err != nil {
		return nil, err
	}
	return &types.ActionResult{Status: "ok", Data: data}, nil
}
