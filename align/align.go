// Package align maps child chunks onto the parent chunks that contain them.
//
// A child's score against a parent is the length, in runes, of the longest
// prefix of the child's text that occurs verbatim in the parent's text. Each
// child is assigned the highest-scoring parent; on a tie the earliest parent
// wins. Children that share no prefix with any parent are left unmapped.
package align

import (
	"strings"

	"github.com/poiesic/chunkmap/core"
)

// Match is the parent chosen for one child chunk.
type Match struct {
	ChildID  int
	ParentID int
	Score    int
}

// Align returns a Match for every child that overlaps some parent, in child order.
func Align(children, parents []core.Chunk) []Match {
	matches := make([]Match, 0, len(children))
	for _, child := range children {
		parentID, score, ok := BestParent(child.Text, parents)
		if !ok {
			continue
		}
		matches = append(matches, Match{
			ChildID:  child.ChunkID,
			ParentID: parentID,
			Score:    score,
		})
	}
	return matches
}

// BestParent returns the chunk id and score of the parent that contains the
// longest prefix of text. ok is false when no parent contains even the first rune.
//
// A parent is only searched when it contains a prefix one rune longer than the
// current best, so parents that cannot win cost a single substring test. The
// search itself is a binary search over prefix lengths, which is valid because
// containment of a prefix implies containment of every shorter prefix.
func BestParent(text string, parents []core.Chunk) (parentID, score int, ok bool) {
	p := newPrefixes(text)
	n := p.runes()
	if n == 0 {
		return 0, 0, false
	}

	best := 0
	for i := range parents {
		if best == n {
			break
		}
		parent := parents[i].Text
		if !strings.Contains(parent, p.prefix(best+1)) {
			continue
		}

		s := n
		if !strings.Contains(parent, text) {
			s = p.longestContained(parent, best+1, n-1)
		}
		best = s
		parentID = parents[i].ChunkID
		ok = true
	}
	return parentID, best, ok
}

// Score returns the length in runes of the longest prefix of text contained in parent.
func Score(text, parent string) int {
	p := newPrefixes(text)
	n := p.runes()
	if n == 0 || !strings.Contains(parent, p.prefix(1)) {
		return 0
	}
	if strings.Contains(parent, text) {
		return n
	}
	return p.longestContained(parent, 1, n-1)
}

// prefixes indexes the rune boundaries of a string.
type prefixes struct {
	text string
	// ends[k] is the byte length of the k-rune prefix.
	ends []int
}

func newPrefixes(text string) prefixes {
	ends := make([]int, 1, len(text)+1)
	for i := range text {
		if i > 0 {
			ends = append(ends, i)
		}
	}
	if len(text) > 0 {
		ends = append(ends, len(text))
	}
	return prefixes{text: text, ends: ends}
}

func (p prefixes) runes() int {
	return len(p.ends) - 1
}

func (p prefixes) prefix(k int) string {
	return p.text[:p.ends[k]]
}

// longestContained returns the largest k in [lo, hi] whose prefix occurs in s.
// The lo-rune prefix must be known to occur in s.
func (p prefixes) longestContained(s string, lo, hi int) int {
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if strings.Contains(s, p.prefix(mid)) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}
