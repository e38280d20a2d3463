package scoring

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// WordResult is the outcome for one reference word.
type WordResult struct {
	// Reference is the normalised reference word.
	Reference string `json:"reference"`

	// Actual is the transcript word at the same position, or nil when the
	// transcript was shorter.
	Actual *string `json:"actual"`

	// Correct reports an exact match after normalisation.
	Correct bool `json:"correct"`

	// Similarity is the Jaro-Winkler similarity of Reference and Actual in
	// [0,1]. It is a display hint only and never affects Correct or the score.
	Similarity float64 `json:"similarity"`

	// SoundsAlike reports overlapping Double Metaphone codes, another
	// display hint for near misses.
	SoundsAlike bool `json:"soundsAlike"`
}

// Result is a scored transcript.
type Result struct {
	// Transcript is the raw text returned by the transcription service.
	Transcript string `json:"transcript"`

	// Score is the percentage of correct reference positions, in [0,100].
	// It is not rounded.
	Score float64 `json:"score"`

	// Words holds one entry per reference word, in reference order.
	Words []WordResult `json:"words"`
}

// Score compares transcript with reference.
//
// A reference that normalises to one character is scored in letter mode: a
// single word result, score 100 when [MatchesLetter] accepts the transcript
// and 0 otherwise. Any other reference is compared strictly by position, so
// one inserted or dropped word shifts every later position.
func Score(reference, transcript string) Result {
	ref := Normalize(reference)
	got := Normalize(transcript)
	res := Result{Transcript: transcript, Words: []WordResult{}}

	if len([]rune(ref)) == 1 {
		w := WordResult{Reference: ref}
		if matched, ok := matchLetter(ref, got); ok {
			w.Actual = &matched
			w.Correct = true
			w.Similarity = 1
			w.SoundsAlike = true
			res.Score = 100
		} else if got != "" {
			w.Actual = &got
		}
		res.Words = append(res.Words, w)
		return res
	}

	refWords := strings.Fields(ref)
	if len(refWords) == 0 {
		return res
	}
	gotWords := strings.Fields(got)

	correct := 0
	for i, rw := range refWords {
		w := WordResult{Reference: rw}
		if i < len(gotWords) {
			actual := gotWords[i]
			w.Actual = &actual
			w.Correct = actual == rw
			w.Similarity = matchr.JaroWinkler(rw, actual, false)
			w.SoundsAlike = soundsAlike(rw, actual)
		}
		if w.Correct {
			correct++
		}
		res.Words = append(res.Words, w)
	}
	res.Score = float64(correct) / float64(len(refWords)) * 100
	return res
}

// soundsAlike reports whether a and b share a Double Metaphone code.
func soundsAlike(a, b string) bool {
	if a == b {
		return true
	}
	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	for _, x := range []string{ap, as} {
		if x == "" {
			continue
		}
		if x == bp || x == bs {
			return true
		}
	}
	return false
}
