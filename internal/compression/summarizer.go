// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package compression

import "strings"

// Summarizer produces the content of a consolidated node from its
// members' contents, ordered by descending gravity.
type Summarizer interface {
	Summarize(contents []string) (string, error)
}

// ExtractiveSummarizer is the default summarizer. It keeps the members'
// own words: the highest-gravity content leads and the remaining
// distinct contents follow, so consolidation never invents text.
type ExtractiveSummarizer struct{}

// NewExtractiveSummarizer creates the default summarizer
func NewExtractiveSummarizer() *ExtractiveSummarizer {
	return &ExtractiveSummarizer{}
}

// Summarize joins the distinct member contents, lead content first
func (s *ExtractiveSummarizer) Summarize(contents []string) (string, error) {
	seen := make(map[string]bool, len(contents))
	kept := make([]string, 0, len(contents))
	for _, c := range contents {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		kept = append(kept, c)
	}
	return strings.Join(kept, "\n"), nil
}
