package ingest

import (
	"strings"

	"github.com/AdmissionsAI/kai-engine/engine/domain"
)

// Chunks splits a document's text into consecutive overlapping windows of
// chunkSize runes, advancing chunkSize-overlap runes per step so adjacent
// chunks share overlap runes of context. The unit is runes, not bytes, so
// multi-byte text never splits mid-character.
//
// The final chunk carries the trailing remainder and may be shorter than
// chunkSize; a document shorter than chunkSize yields exactly one chunk;
// an empty document yields zero chunks and no error. Chunk indices ascend
// from 0 and equal each chunk's position in the returned slice.
func Chunks(text, sourceID string, chunkSize, overlap int) ([]domain.Chunk, error) {
	if err := domain.ValidateChunking(chunkSize, overlap); err != nil {
		return nil, err
	}

	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil, nil
	}

	step := chunkSize - overlap
	var chunks []domain.Chunk
	for start, idx := 0, 0; start < len(runes); start, idx = start+step, idx+1 {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, domain.Chunk{
			SourceID: sourceID,
			Index:    idx,
			Text:     string(runes[start:end]),
		})
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}
