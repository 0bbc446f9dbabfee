package lexicon

import (
	"testing"
)

func TestCorrect_SingleWord(t *testing.T) {
	t.Parallel()

	c := New([]string{"Zyrtaline"})

	got, corrections := c.Correct("do you still stock zertalin today")
	want := "do you still stock Zyrtaline today"
	if got != want {
		t.Errorf("Correct() = %q, want %q", got, want)
	}
	if len(corrections) != 1 {
		t.Fatalf("got %d corrections, want 1", len(corrections))
	}
	if corrections[0].Heard != "zertalin" || corrections[0].Term != "Zyrtaline" {
		t.Errorf("correction = %+v", corrections[0])
	}
	if corrections[0].Confidence <= 0 {
		t.Errorf("confidence = %v, want > 0", corrections[0].Confidence)
	}
}

func TestCorrect_MultiWordTerm(t *testing.T) {
	t.Parallel()

	c := New([]string{"Harbor Lights Cruise"})

	got, corrections := c.Correct("harbour lights cruse for two please")
	want := "Harbor Lights Cruise for two please"
	if got != want {
		t.Errorf("Correct() = %q, want %q", got, want)
	}
	if len(corrections) != 1 {
		t.Fatalf("got %d corrections, want 1", len(corrections))
	}
	if corrections[0].Heard != "harbour lights cruse" {
		t.Errorf("heard = %q", corrections[0].Heard)
	}
}

func TestCorrect_ExactMatchNotRecorded(t *testing.T) {
	t.Parallel()

	c := New([]string{"Zyrtaline"})

	got, corrections := c.Correct("zyrtaline please")
	if got != "Zyrtaline please" {
		t.Errorf("Correct() = %q, want canonical casing", got)
	}
	if len(corrections) != 0 {
		t.Errorf("got %d corrections for an exact match, want 0", len(corrections))
	}
}

func TestCorrect_NoMatchLeavesTextAlone(t *testing.T) {
	t.Parallel()

	c := New([]string{"Zyrtaline"})

	in := "what time do you close on sunday"
	got, corrections := c.Correct(in)
	if got != in {
		t.Errorf("Correct() = %q, want unchanged", got)
	}
	if len(corrections) != 0 {
		t.Errorf("got %d corrections, want 0", len(corrections))
	}
}

func TestCorrect_EmptyVocabulary(t *testing.T) {
	t.Parallel()

	c := New(nil)
	if !c.Empty() {
		t.Error("Empty() = false for nil vocabulary")
	}

	in := "anything at all"
	if got, _ := c.Correct(in); got != in {
		t.Errorf("Correct() = %q, want unchanged", got)
	}
}

func TestCorrect_BlankTermsIgnored(t *testing.T) {
	t.Parallel()

	c := New([]string{"", "  ", "Zyrtaline"})
	if c.Empty() {
		t.Fatal("Empty() = true, want one usable term")
	}
	if c.maxTermWords != 1 {
		t.Errorf("maxTermWords = %d, want 1", c.maxTermWords)
	}
}

func TestCorrect_FuzzyThresholdRejectsWeakMatches(t *testing.T) {
	t.Parallel()

	// A high phonetic threshold forces everything through the fuzzy path.
	c := New([]string{"Meridian"}, WithPhoneticThreshold(1.01), WithFuzzyThreshold(0.99))

	in := "transfer me to meridian support"
	got, corrections := c.Correct(in)
	if len(corrections) != 0 {
		t.Errorf("got %d corrections, want 0 (thresholds reject)", len(corrections))
	}
	_ = got
}

func TestCorrect_EmptyText(t *testing.T) {
	t.Parallel()

	c := New([]string{"Zyrtaline"})
	if got, _ := c.Correct(""); got != "" {
		t.Errorf("Correct(\"\") = %q", got)
	}
	if got, _ := c.Correct("   "); got != "   " {
		t.Errorf("Correct(blank) = %q", got)
	}
}
