// Package vault manages the Markdown note tree: folder structure, filename
// derivation, note I/O, frontmatter, wikilinks, and synchronization of vault
// files into the graph store.
package vault

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/scrypster/recall/pkg/types"
)

// systemFolders are created under the vault root regardless of content types.
var systemFolders = []string{
	"templates",
	"meta",
	"assets/images",
	"concepts",
	"daily",
	"topics",
	"exercises/worked_examples",
	"exercises/recall",
	"exercises/code",
	"reviews/due",
	"reviews/archive",
}

// sourceFolders maps content source types to their folder under sources/.
var sourceFolders = map[types.SourceType]string{
	types.SourcePaper:     "sources/papers",
	types.SourceArticle:   "sources/articles",
	types.SourceBook:      "sources/books",
	types.SourceCode:      "sources/code",
	types.SourceIdea:      "sources/ideas",
	types.SourceVoiceMemo: "sources/voice-memos",
	types.SourceCareer:    "sources/career",
	types.SourcePersonal:  "sources/personal",
	types.SourceProject:   "sources/projects",
	types.SourceNonTech:   "sources/non-tech",
}

// Manager owns the vault filesystem tree. All note paths it accepts and
// returns are relative to the vault root.
//
// Concurrent writes to the same file are not serialized here; the watcher's
// debounce is the coordination point.
type Manager struct {
	root string
}

// NewManager creates a manager rooted at root. The directory itself is
// created by EnsureStructure, not here.
func NewManager(root string) *Manager {
	return &Manager{root: root}
}

// Root returns the vault root path.
func (m *Manager) Root() string { return m.root }

// EnsureStructure creates every required vault folder. It is idempotent:
// missing directories are created, existing ones are never touched.
func (m *Manager) EnsureStructure() error {
	var dirs []string
	dirs = append(dirs, systemFolders...)
	for _, folder := range sourceFolders {
		dirs = append(dirs, folder)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(filepath.Join(m.root, dir), 0o755); err != nil {
			return fmt.Errorf("failed to create vault folder %s: %w", dir, err)
		}
	}
	return nil
}

// FolderFor returns the vault folder for a source type, falling back to
// sources/articles for types without a dedicated folder.
func (m *Manager) FolderFor(sourceType types.SourceType) string {
	if folder, ok := sourceFolders[sourceType]; ok {
		return folder
	}
	switch sourceType {
	case types.SourceConcept:
		return "concepts"
	case types.SourceDaily:
		return "daily"
	case types.SourceExercise:
		return "exercises"
	case types.SourceReflection:
		return "daily"
	}
	return "sources/articles"
}

// forbiddenFilenameChars are stripped from titles when deriving filenames.
const forbiddenFilenameChars = `<>:"/\|?*`

// SanitizeFilename derives a safe filename stem from a title: forbidden
// characters stripped, whitespace collapsed, truncated to 100 characters at
// the last word boundary. An empty result becomes "Untitled".
func SanitizeFilename(title string) string {
	var b strings.Builder
	for _, r := range title {
		if strings.ContainsRune(forbiddenFilenameChars, r) {
			continue
		}
		b.WriteRune(r)
	}

	name := strings.Join(strings.Fields(b.String()), " ")
	if name == "" {
		return "Untitled"
	}

	if utf8.RuneCountInString(name) > 100 {
		cut := string([]rune(name)[:100])
		if idx := strings.LastIndex(cut, " "); idx > 0 {
			cut = cut[:idx]
		}
		name = strings.TrimSpace(cut)
		if name == "" {
			return "Untitled"
		}
	}
	return name
}

// NotePath returns the default vault-relative path for a title within the
// folder of the given source type.
func (m *Manager) NotePath(sourceType types.SourceType, title string) string {
	return filepath.Join(m.FolderFor(sourceType), SanitizeFilename(title)+".md")
}

// UniquePath returns relPath if no file exists there, otherwise the first
// "_N"-suffixed variant that is free.
func (m *Manager) UniquePath(relPath string) string {
	if !m.exists(relPath) {
		return relPath
	}

	ext := filepath.Ext(relPath)
	stem := strings.TrimSuffix(relPath, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, n, ext)
		if !m.exists(candidate) {
			return candidate
		}
	}
}

// PathForUpdate prefers the known existing path (reprocessing rewrites a note
// in place) and falls back to a unique path derived from the title.
func (m *Manager) PathForUpdate(existingRelPath string, sourceType types.SourceType, title string) string {
	if existingRelPath != "" && m.exists(existingRelPath) {
		return existingRelPath
	}
	return m.UniquePath(m.NotePath(sourceType, title))
}

// WriteNote writes content at the vault-relative path, creating parent
// directories and overwriting any existing file.
func (m *Manager) WriteNote(relPath string, content []byte) error {
	abs := filepath.Join(m.root, relPath)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("failed to create note directory: %w", err)
	}
	if err := os.WriteFile(abs, content, 0o644); err != nil {
		return fmt.Errorf("failed to write note %s: %w", relPath, err)
	}
	return nil
}

// ReadNote reads a note at the vault-relative path.
func (m *Manager) ReadNote(relPath string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(m.root, relPath))
	if err != nil {
		return nil, fmt.Errorf("failed to read note %s: %w", relPath, err)
	}
	return data, nil
}

// DeleteNote removes a note file; a missing file is not an error.
func (m *Manager) DeleteNote(relPath string) error {
	err := os.Remove(filepath.Join(m.root, relPath))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete note %s: %w", relPath, err)
	}
	return nil
}

// AssetDir returns the image asset directory for a content UUID, creating it
// on first use.
func (m *Manager) AssetDir(contentUUID string) (string, error) {
	dir := filepath.Join(m.root, "assets", "images", contentUUID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create asset directory: %w", err)
	}
	return dir, nil
}

// RemoveAssets deletes the image asset directory for a content UUID.
func (m *Manager) RemoveAssets(contentUUID string) error {
	dir := filepath.Join(m.root, "assets", "images", contentUUID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove assets for %s: %w", contentUUID, err)
	}
	return nil
}

// ListNotes walks the vault and returns the absolute paths of all Markdown
// files, skipping hidden directories such as .obsidian and .git.
func (m *Manager) ListNotes() ([]string, error) {
	var files []string
	err := filepath.WalkDir(m.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != m.root {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(d.Name()), ".md") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk vault: %w", err)
	}
	return files, nil
}

func (m *Manager) exists(relPath string) bool {
	_, err := os.Stat(filepath.Join(m.root, relPath))
	if err == nil {
		return true
	}
	if !os.IsNotExist(err) {
		log.Printf("vault: stat %s: %v", relPath, err)
	}
	return false
}
