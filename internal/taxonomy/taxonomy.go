// Package taxonomy loads and caches the tag taxonomy: a hierarchical
// domains tree (ml/architecture/transformers) plus flat status/* and
// quality/* meta tags. Tags assigned to content must validate against it.
package taxonomy

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Taxonomy is the loaded tag vocabulary. Domain tags are slash-joined paths
// through the domains tree; meta tags are status/<x> and quality/<x>.
type Taxonomy struct {
	DomainTags []string
	MetaTags   []string

	domainSet map[string]bool
	metaSet   map[string]bool
}

// taxonomyFile mirrors the YAML layout.
type taxonomyFile struct {
	Domains map[string]yaml.Node `yaml:"domains"`
	Status  []string             `yaml:"status"`
	Quality []string             `yaml:"quality"`
}

// IsDomainTag reports whether tag is a valid domain tag (any depth of the
// tree is acceptable, not only leaves).
func (t *Taxonomy) IsDomainTag(tag string) bool { return t.domainSet[normalize(tag)] }

// IsMetaTag reports whether tag is a valid status/quality meta tag.
func (t *Taxonomy) IsMetaTag(tag string) bool { return t.metaSet[normalize(tag)] }

// Valid reports whether tag is anywhere in the taxonomy.
func (t *Taxonomy) Valid(tag string) bool { return t.IsDomainTag(tag) || t.IsMetaTag(tag) }

// Filter splits tags into accepted (in-taxonomy) and rejected.
func (t *Taxonomy) Filter(tags []string) (accepted, rejected []string) {
	for _, tag := range tags {
		if t.Valid(tag) {
			accepted = append(accepted, normalize(tag))
		} else {
			rejected = append(rejected, tag)
		}
	}
	return accepted, rejected
}

func normalize(tag string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(tag, "#")))
}

// Parse builds a taxonomy from raw YAML.
func Parse(raw []byte) (*Taxonomy, error) {
	var file taxonomyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("invalid taxonomy YAML: %w", err)
	}

	t := &Taxonomy{
		domainSet: make(map[string]bool),
		metaSet:   make(map[string]bool),
	}

	for root, node := range file.Domains {
		walkDomains(t, normalize(root), &node)
	}
	for _, s := range file.Status {
		tag := "status/" + normalize(s)
		t.MetaTags = append(t.MetaTags, tag)
		t.metaSet[tag] = true
	}
	for _, q := range file.Quality {
		tag := "quality/" + normalize(q)
		t.MetaTags = append(t.MetaTags, tag)
		t.metaSet[tag] = true
	}
	return t, nil
}

// walkDomains records path and recurses into child mappings and sequences.
func walkDomains(t *Taxonomy, path string, node *yaml.Node) {
	if path != "" && !t.domainSet[path] {
		t.domainSet[path] = true
		t.DomainTags = append(t.DomainTags, path)
	}
	if node == nil {
		return
	}

	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := normalize(node.Content[i].Value)
			walkDomains(t, path+"/"+key, node.Content[i+1])
		}
	case yaml.SequenceNode:
		for _, child := range node.Content {
			if child.Kind == yaml.ScalarNode {
				leaf := path + "/" + normalize(child.Value)
				if !t.domainSet[leaf] {
					t.domainSet[leaf] = true
					t.DomainTags = append(t.DomainTags, leaf)
				}
			} else {
				walkDomains(t, path, child)
			}
		}
	}
}

// Loader lazily loads the taxonomy file and caches it with a TTL. The cache
// is also invalidated when the file's mtime changes.
type Loader struct {
	path string
	ttl  time.Duration

	mu       sync.RWMutex
	cached   *Taxonomy
	loadedAt time.Time
	mtime    time.Time
}

// NewLoader creates a loader for the taxonomy at path. A non-positive TTL
// defaults to 5 minutes.
func NewLoader(path string, ttl time.Duration) *Loader {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Loader{path: path, ttl: ttl}
}

// Get returns the cached taxonomy, reloading when the TTL has expired or the
// file changed on disk.
func (l *Loader) Get() (*Taxonomy, error) {
	l.mu.RLock()
	cached, fresh := l.cached, time.Since(l.loadedAt) < l.ttl
	l.mu.RUnlock()

	if cached != nil && fresh && !l.fileChanged() {
		return cached, nil
	}
	return l.reload()
}

// Invalidate drops the cache; the next Get reloads from disk.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	l.cached = nil
	l.mu.Unlock()
}

func (l *Loader) fileChanged() bool {
	info, err := os.Stat(l.path)
	if err != nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return !info.ModTime().Equal(l.mtime)
}

func (l *Loader) reload() (*Taxonomy, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := os.ReadFile(l.path)
	if err != nil {
		// Serve stale data over failing hard when the file is briefly gone.
		if l.cached != nil {
			return l.cached, nil
		}
		return nil, fmt.Errorf("failed to read taxonomy %s: %w", l.path, err)
	}

	t, err := Parse(raw)
	if err != nil {
		if l.cached != nil {
			return l.cached, nil
		}
		return nil, err
	}

	l.cached = t
	l.loadedAt = time.Now()
	if info, err := os.Stat(l.path); err == nil {
		l.mtime = info.ModTime()
	}
	return t, nil
}
