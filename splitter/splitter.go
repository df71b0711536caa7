// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package splitter cuts document text into overlapping chunks.
//
// Splitting is recursive: the text is cut at the coarsest separator present
// (paragraph, line, sentence, word, character) and the pieces are merged
// greedily up to the chunk size, carrying up to the overlap from the end of
// one chunk into the start of the next. Lengths are counted in runes.
// Separators stay attached to the piece that follows them, so no text is lost
// at a chunk boundary.
//
// The underlying langchaingo splitter reports oversized chunks through the
// standard log package, not slog; those warnings ignore the configured level.
package splitter

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/chunkmap/core"
	"github.com/tmc/langchaingo/textsplitter"
)

// Separators are tried in order; the empty separator splits between runes.
var Separators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter splits text with fixed chunk parameters. It is safe for concurrent use.
type Splitter struct {
	params   core.ChunkParams
	splitter textsplitter.TextSplitter
}

// New creates a Splitter for params.
// Returns an error wrapping core.ErrInvalidParams unless size > overlap >= 0.
func New(params core.ChunkParams) (*Splitter, error) {
	if err := core.ValidateParams(params); err != nil {
		return nil, err
	}
	return &Splitter{
		params: params,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(params.Size),
			textsplitter.WithChunkOverlap(params.Overlap),
			textsplitter.WithSeparators(Separators),
			textsplitter.WithLenFunc(utf8.RuneCountInString),
			textsplitter.WithKeepSeparator(true),
		),
	}, nil
}

// Params returns the parameters the splitter was built with.
func (s *Splitter) Params() core.ChunkParams {
	return s.params
}

// Split returns the ordered chunk texts of text. Every chunk is trimmed,
// non-empty and flattened onto one line. Whitespace-only text yields no chunks.
func (s *Splitter) Split(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	pieces, err := s.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}

	chunks := make([]string, 0, len(pieces))
	for _, piece := range pieces {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		chunks = append(chunks, core.NormalizeText(piece))
	}
	return chunks, nil
}

// SplitDocument splits text and numbers the chunks for id.
func (s *Splitter) SplitDocument(id core.DocumentID, text string) ([]core.Chunk, error) {
	texts, err := s.Split(text)
	if err != nil {
		return nil, err
	}
	return core.NewChunks(id, texts), nil
}
