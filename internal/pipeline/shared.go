package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/recall/internal/contentstore"
	"github.com/scrypster/recall/internal/costledger"
	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/pkg/types"
)

// Ledger is the slice of the cost ledger pipelines need. Recording never
// fails from the caller's point of view.
type Ledger = costledger.BatchRecorder

// Deps bundles the collaborators shared by every pipeline.
type Deps struct {
	Store  contentstore.Store
	LLM    llm.Client
	Ledger Ledger

	MaxFileSizeBytes int64
}

// hashFile streams the file through SHA-256 and returns the hex digest.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// validateFile checks existence, the size cap, and the extension allowlist.
func validateFile(path string, maxBytes int64, exts ...string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrInvalidInput, path)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return fmt.Errorf("%w: %s is %d bytes, cap is %d", ErrInvalidInput, path, info.Size(), maxBytes)
	}
	if len(exts) == 0 {
		return nil
	}
	got := strings.ToLower(filepath.Ext(path))
	for _, ext := range exts {
		if got == ext {
			return nil
		}
	}
	return fmt.Errorf("%w: unexpected extension %q for %s", ErrInvalidInput, got, path)
}

// newCosts starts a per-run cost batch attributed to pipeline.
func newCosts(pipeline string) *costledger.Collector {
	return costledger.NewCollector(pipeline)
}

// newRecord stamps the shared fields every pipeline sets the same way.
func newRecord(sourceType types.SourceType, title string, in Input) *types.ContentRecord {
	now := time.Now().UTC()
	meta := make(map[string]interface{}, len(in.Metadata))
	for k, v := range in.Metadata {
		meta[k] = v
	}
	return &types.ContentRecord{
		ContentUUID:      uuid.NewString(),
		SourceType:       sourceType,
		Title:            title,
		ProcessingStatus: types.StatusPending,
		Metadata:         meta,
		CreatedAt:        now,
		IngestedAt:       now,
	}
}
