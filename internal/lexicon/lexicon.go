// Package lexicon corrects recognized speech against a configured domain
// vocabulary.
//
// Telephony recognition routinely mangles domain terms the model has never
// seen: product names, brand names, menu keywords. The [Corrector] aligns
// final transcripts with the configured vocabulary in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each transcript window and each vocabulary term. A term becomes a
//     candidate when any code overlaps.
//
//  2. Jaro-Winkler ranking: among phonetic candidates, the term with the
//     highest Jaro-Winkler similarity wins, provided its score exceeds the
//     phonetic threshold. When no phonetic candidate exists, a pure
//     similarity pass runs against all terms with a stricter fuzzy
//     threshold.
//
// Multi-word terms are supported by sliding an n-gram window over the
// transcript, longest window first, so "tower bridge tours" beats a partial
// single-word match.
package lexicon

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option configures a [Corrector].
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) { c.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a term matched
// without phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) { c.fuzzyThreshold = threshold }
}

// Correction records one vocabulary replacement in a transcript.
type Correction struct {
	// Heard is the span as the recognizer produced it.
	Heard string

	// Term is the vocabulary term it was replaced with.
	Term string

	// Confidence is the Jaro-Winkler similarity of the accepted match.
	Confidence float64
}

// term is a prepared vocabulary entry.
type term struct {
	canonical string
	lower     string
	tokens    []string
	codes     map[string]struct{}
}

// Corrector aligns transcripts with a fixed vocabulary. It is read-only
// after construction and safe for concurrent use.
type Corrector struct {
	terms        []term
	maxTermWords int

	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New builds a [Corrector] for the given vocabulary. Blank entries are
// ignored. A nil or empty vocabulary yields a Corrector whose Correct is a
// no-op.
func New(vocabulary []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}

	for _, v := range vocabulary {
		lower := strings.ToLower(strings.TrimSpace(v))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		c.terms = append(c.terms, term{
			canonical: strings.TrimSpace(v),
			lower:     lower,
			tokens:    tokens,
			codes:     codesForTokens(tokens),
		})
		if len(tokens) > c.maxTermWords {
			c.maxTermWords = len(tokens)
		}
	}
	return c
}

// Empty reports whether the Corrector has no vocabulary.
func (c *Corrector) Empty() bool { return len(c.terms) == 0 }

// Correct replaces vocabulary-like spans in text with their canonical terms.
// It slides an n-gram window over the whitespace-separated tokens, longest
// window first, and advances past each accepted match. Returns the corrected
// text and the corrections applied; spans that already equal their term
// (ignoring case) pass through unrecorded.
func (c *Corrector) Correct(text string) (string, []Correction) {
	if c.Empty() {
		return text, nil
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	var (
		output      []string
		corrections []Correction
	)

	i := 0
	for i < len(tokens) {
		maxN := min(c.maxTermWords, len(tokens)-i)

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			t, conf, ok := c.match(window)
			if !ok {
				continue
			}

			output = append(output, strings.Fields(t.canonical)...)
			if !strings.EqualFold(window, t.canonical) {
				corrections = append(corrections, Correction{
					Heard:      window,
					Term:       t.canonical,
					Confidence: conf,
				})
			}
			i += n
			matched = true
			break
		}

		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	return strings.Join(output, " "), corrections
}

// match finds the best vocabulary term for one window.
func (c *Corrector) match(window string) (best term, confidence float64, matched bool) {
	lower := strings.ToLower(window)
	tokens := strings.Fields(lower)
	codes := codesForTokens(tokens)

	var (
		bestScore    float64
		bestPhonetic bool
		found        bool
	)

	for _, t := range c.terms {
		phonetic := codesOverlap(codes, t.codes)
		score := bestSimilarity(tokens, t.tokens, lower, t.lower)

		switch {
		case phonetic && score >= c.phoneticThreshold:
			if !bestPhonetic || score > bestScore {
				best, bestScore, bestPhonetic, found = t, score, true, true
			}
		case !phonetic && !bestPhonetic:
			if score >= c.fuzzyThreshold && score > bestScore {
				best, bestScore, found = t, score, true
			}
		}
	}

	return best, bestScore, found
}

// codesForTokens returns the union of Double Metaphone codes for the tokens.
// Empty codes (short or vowel-only words) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestSimilarity computes the highest Jaro-Winkler score between a window
// and a term using three views: full strings, space-stripped strings, and
// the best pairwise token score. The multiple views keep multi-word terms
// comparable to run-together or split recognizer output.
func bestSimilarity(windowTokens, termTokens []string, windowFull, termFull string) float64 {
	score := matchr.JaroWinkler(windowFull, termFull, false)

	if len(windowTokens) > 1 || len(termTokens) > 1 {
		joined1 := strings.Join(windowTokens, "")
		joined2 := strings.Join(termTokens, "")
		if s := matchr.JaroWinkler(joined1, joined2, false); s > score {
			score = s
		}
	}

	for _, wt := range windowTokens {
		for _, tt := range termTokens {
			if s := matchr.JaroWinkler(wt, tt, false); s > score {
				score = s
			}
		}
	}

	return score
}
