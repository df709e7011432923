package testutil

import (
	"archive/zip"
	"bytes"
	"context"
	"io/fs"
	"sort"
	"strconv"
	"testing"
	"testing/fstest"
	"time"

	"github.com/mholt/archives"
)

// Entry is one member of a fixture archive. Name is written verbatim, so
// fixtures can carry hostile paths such as "../escape".
type Entry struct {
	Name    string
	Content string
	Mode    fs.FileMode
	// Link makes the entry a symlink pointing at Link.
	Link string
	Dir  bool
}

// Files turns a name → content map into regular file entries, sorted by name.
func Files(files map[string]string) []Entry {
	entries := make([]Entry, 0, len(files))
	for name, content := range files {
		entries = append(entries, Entry{Name: name, Content: content})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// ZipArchive builds a zip archive in memory.
func ZipArchive(t *testing.T, entries []Entry) []byte {
	t.Helper()
	return buildArchive(t, archives.Zip{}, entries)
}

// TarGzArchive builds a gzip compressed tar archive in memory.
func TarGzArchive(t *testing.T, entries []Entry) []byte {
	t.Helper()
	return buildArchive(t, archives.CompressedArchive{
		Compression: archives.Gz{},
		Archival:    archives.Tar{},
	}, entries)
}

// PaddedZip builds a zip holding a single stored file whose archive is
// exactly size bytes long, padding the file content as needed.
func PaddedZip(t *testing.T, name string, size int) []byte {
	t.Helper()
	content := ""
	for {
		data := buildArchive(t, archives.Zip{Compression: zip.Store}, []Entry{{Name: name, Content: content}})
		if len(data) >= size {
			return data
		}
		content += string(bytes.Repeat([]byte("k"), size-len(data)))
	}
}

func buildArchive(t *testing.T, format archives.Archiver, entries []Entry) []byte {
	t.Helper()

	mapFS := fstest.MapFS{}
	files := make([]archives.FileInfo, 0, len(entries))
	modTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, e := range entries {
		// MapFS keys must be valid fs paths; the archive name is set separately.
		key := "entry" + strconv.Itoa(i)
		mode := e.Mode
		if mode == 0 {
			mode = 0o644
		}
		switch {
		case e.Dir:
			mode = fs.ModeDir | 0o755
		case e.Link != "":
			mode = fs.ModeSymlink | 0o777
		}
		mapFS[key] = &fstest.MapFile{Data: []byte(e.Content), Mode: mode, ModTime: modTime}

		info, err := fs.Stat(mapFS, key)
		if err != nil {
			t.Fatalf("stat fixture entry %s: %v", e.Name, err)
		}
		k := key
		files = append(files, archives.FileInfo{
			FileInfo:      info,
			NameInArchive: e.Name,
			LinkTarget:    e.Link,
			Open: func() (fs.File, error) {
				return mapFS.Open(k)
			},
		})
	}

	var buf bytes.Buffer
	if err := format.Archive(context.Background(), &buf, files); err != nil {
		t.Fatalf("build fixture archive: %v", err)
	}
	return buf.Bytes()
}
