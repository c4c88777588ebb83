package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuttlehq/shuttle/pkg/connector"
	"github.com/shuttlehq/shuttle/pkg/types"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func jobForRoot(root string) connector.Job {
	raw, _ := json.Marshal(Config{Roots: []string{root}})
	return connector.Job{
		SyncRunID: "run-1",
		Source:    types.Source{ID: "src-1", Type: types.SourceTypeFiles},
		Mode:      types.SyncModeFull,
		Config:    raw,
	}
}

func externalIDs(items []connector.Item) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.ExternalID)
	}
	return out
}

// TestPartitions tests that each root becomes one partition
func TestPartitions(t *testing.T) {
	c := New()
	parts, err := c.Partitions(context.Background(), jobForRoot("/tmp/a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/a"}, parts)

	// Missing roots are a config error.
	_, err = c.Partitions(context.Background(), connector.Job{})
	assert.Error(t, err)
}

// TestPageListsTree tests a full walk of a directory tree
func TestPageListsTree(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "readme.md", "hello")
	writeFile(t, root, "docs/guide.txt", "guide body")
	writeFile(t, root, "docs/nested/deep.txt", "deep body")
	// Hidden files and directories are skipped.
	writeFile(t, root, ".secret", "nope")
	writeFile(t, root, ".git/config", "nope")

	c := New()
	items, next, done, err := c.Page(context.Background(), jobForRoot(root), root, "")
	require.NoError(t, err)
	assert.True(t, done)
	assert.True(t, strings.HasPrefix(next, cursorSettled))

	assert.Equal(t, []string{
		filepath.Join("docs", "guide.txt"),
		filepath.Join("docs", "nested", "deep.txt"),
		"readme.md",
	}, externalIDs(items))

	for _, item := range items {
		assert.NotEmpty(t, item.Content)
		assert.NotEmpty(t, item.ContentType)
		assert.Equal(t, item.ExternalID, item.Metadata.Path)
		require.NotNil(t, item.Metadata.UpdatedAt)
	}
}

// TestSettledCursorFiltersOldFiles tests incremental mtime filtering
func TestSettledCursorFiltersOldFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "old.txt", "old")
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "old.txt"), old, old))
	writeFile(t, root, "new.txt", "new")

	c := New()
	cursor := cursorSettled + time.Now().Add(-time.Minute).Format(time.RFC3339Nano)
	items, next, done, err := c.Page(context.Background(), jobForRoot(root), root, cursor)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, []string{"new.txt"}, externalIDs(items))

	// The settled cursor never moves backwards.
	threshold, _, err := parseCursor(next)
	require.NoError(t, err)
	assert.False(t, threshold.Before(old))
}

// TestPagination tests the page cursor resume
func TestPagination(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < pageSize+5; i++ {
		writeFile(t, root, fmt.Sprintf("file-%04d.txt", i), "body")
	}

	c := New()
	ctx := context.Background()
	job := jobForRoot(root)

	first, next, done, err := c.Page(ctx, job, root, "")
	require.NoError(t, err)
	assert.False(t, done)
	assert.Len(t, first, pageSize)
	assert.True(t, strings.HasPrefix(next, cursorPage))

	second, next, done, err := c.Page(ctx, job, root, next)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Len(t, second, 5)
	assert.True(t, strings.HasPrefix(next, cursorSettled))

	// No overlap between pages.
	seen := make(map[string]struct{})
	for _, id := range append(externalIDs(first), externalIDs(second)...) {
		_, dup := seen[id]
		assert.False(t, dup, "duplicate %s", id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, pageSize+5)
}

// TestParseCursor tests the cursor grammar
func TestParseCursor(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		cursor   string
		wantTime time.Time
		wantPath string
		wantErr  bool
	}{
		{name: "empty", cursor: ""},
		{
			name:     "settled",
			cursor:   cursorSettled + ts.Format(time.RFC3339Nano),
			wantTime: ts,
		},
		{
			name:     "page",
			cursor:   cursorPage + ts.Format(time.RFC3339Nano) + "|docs/guide.txt",
			wantTime: ts,
			wantPath: "docs/guide.txt",
		},
		{name: "settled bad time", cursor: cursorSettled + "not-a-time", wantErr: true},
		{name: "page missing separator", cursor: cursorPage + ts.Format(time.RFC3339Nano), wantErr: true},
		{name: "unknown prefix", cursor: "x:whatever", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotTime, gotPath, err := parseCursor(tt.cursor)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, gotTime.Equal(tt.wantTime))
			assert.Equal(t, tt.wantPath, gotPath)
		})
	}
}

// TestManifest tests the connector self-description
func TestManifest(t *testing.T) {
	m := New().Manifest()
	assert.Equal(t, "files", m.Name)
	assert.Contains(t, m.SyncModes, types.SyncModeFull)
	assert.Contains(t, m.SyncModes, types.SyncModeIncremental)
	require.Len(t, m.Actions, 1)
	assert.Equal(t, "list_roots", m.Actions[0].Name)
}

// TestActionListRoots tests root readability reporting
func TestActionListRoots(t *testing.T) {
	root := t.TempDir()
	c := New()

	result, err := c.Action(context.Background(), &types.ActionRequest{
		Action: "list_roots",
		Params: map[string]string{"root": root},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Status)

	var roots map[string]bool
	require.NoError(t, json.Unmarshal(result.Data, &roots))
	assert.True(t, roots[root])

	_, err = c.Action(context.Background(), &types.ActionRequest{Action: "nope"})
	assert.Error(t, err)
}
