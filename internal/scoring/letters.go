package scoring

import (
	"strings"
)

// letterSpellings lists how a spoken letter may come back from transcription,
// in French and English. Entries are normalised at init.
var letterSpellings = map[string][]string{
	"a": {"a", "ah", "ay"},
	"b": {"b", "bé", "bee", "bay"},
	"c": {"c", "cé", "see", "sea", "say"},
	"d": {"d", "dé", "dee", "day"},
	"e": {"e", "euh", "eu"},
	"f": {"f", "ef", "eff", "effe"},
	"g": {"g", "gé", "gee", "jee"},
	"h": {"h", "ache", "hache", "aitch", "ash"},
	"i": {"i", "eye", "aye", "ie"},
	"j": {"j", "ji", "jay", "gi"},
	"k": {"k", "ka", "kay", "ca"},
	"l": {"l", "el", "elle", "ell"},
	"m": {"m", "em", "emme", "aime"},
	"n": {"n", "en", "enne", "haine"},
	"o": {"o", "oh", "eau", "au"},
	"p": {"p", "pé", "pee", "pay"},
	"q": {"q", "qu", "ku", "queue", "cue", "que"},
	"r": {"r", "er", "erre", "air", "are"},
	"s": {"s", "es", "esse", "ess"},
	"t": {"t", "té", "tee", "tea", "tay"},
	"u": {"u", "you", "yu", "hu"},
	"v": {"v", "vé", "vee", "vay"},
	"w": {"w", "double u", "double-u", "doubleyou", "double you", "double v", "double vé"},
	"x": {"x", "ix", "iks", "ex", "eks"},
	"y": {"y", "i grec", "igrec", "why", "wye"},
	"z": {"z", "zed", "zède", "zee"},
}

func init() {
	for letter, spellings := range letterSpellings {
		seen := make(map[string]bool, len(spellings))
		out := spellings[:0]
		for _, s := range spellings {
			n := Normalize(s)
			if n == "" || seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
		}
		letterSpellings[letter] = out
	}
}

// Spellings returns the accepted spellings of a letter, normalised. Letters
// outside the table (digits) accept only themselves.
func Spellings(letter string) []string {
	letter = Normalize(letter)
	if s, ok := letterSpellings[letter]; ok {
		return s
	}
	if letter == "" {
		return nil
	}
	return []string{letter}
}

// MatchesLetter reports whether transcript contains a spoken form of letter.
// A transcript word matches when it equals or starts with an accepted
// spelling; multi-word spellings are matched against the whole transcript.
func MatchesLetter(letter, transcript string) bool {
	_, ok := matchLetter(letter, Normalize(transcript))
	return ok
}

// matchLetter returns the transcript word (or phrase) that matched.
// normTranscript must already be normalised.
func matchLetter(letter, normTranscript string) (string, bool) {
	spellings := Spellings(letter)
	if len(spellings) == 0 || normTranscript == "" {
		return "", false
	}

	for _, word := range strings.Fields(normTranscript) {
		for _, s := range spellings {
			if strings.HasPrefix(word, s) {
				return word, true
			}
		}
	}

	padded := " " + normTranscript + " "
	for _, s := range spellings {
		if !strings.Contains(s, " ") {
			continue
		}
		if strings.HasPrefix(normTranscript, s) || strings.Contains(padded, " "+s+" ") {
			return s, true
		}
	}
	return "", false
}
