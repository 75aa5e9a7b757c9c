package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AdmissionsAI/kai-engine/engine/domain"
)

// Corpus enumerates the current document set. Implementations must return
// documents in a stable order; the pipeline sorts by source id anyway as a
// belt against platform-dependent directory listings.
type Corpus interface {
	Documents(ctx context.Context) ([]domain.Document, error)
}

// DirCorpus reads a flat directory of .md and .txt files. The file name is
// the document's source id, the file contents are its text.
type DirCorpus struct {
	Dir string
}

// Documents implements Corpus.
func (d DirCorpus) Documents(ctx context.Context) ([]domain.Document, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, fmt.Errorf("ingest: read corpus dir %s: %w", d.Dir, err)
	}

	var docs []domain.Document
	for _, e := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".md", ".txt":
		default:
			continue
		}

		data, err := os.ReadFile(filepath.Join(d.Dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("ingest: read document %s: %w", e.Name(), err)
		}
		docs = append(docs, domain.Document{SourceID: e.Name(), Text: string(data)})
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].SourceID < docs[j].SourceID })
	return docs, nil
}
