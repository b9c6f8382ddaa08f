package competitor

import (
	"bytes"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/pagelift/pagelift/internal/fault"
)

// extractPDFText pulls the plain text out of a PDF document. The parser
// panics on some malformed files, so failures of any shape surface as
// validation faults.
func extractPDFText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fault.Errorf(fault.Validation, "parsing pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fault.Wrap(fault.Validation, err, "parsing pdf")
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fault.Wrap(fault.Validation, err, "extracting pdf text")
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fault.Wrap(fault.Validation, err, "reading pdf text")
	}
	return strings.TrimSpace(buf.String()), nil
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

// readability computes the Flesch reading-ease score, clamped to [0, 100].
// Syllables are estimated from vowel groups, which is close enough to rank
// competitor pages against each other.
func readability(s string) float64 {
	words := strings.Fields(s)
	if len(words) == 0 {
		return 0
	}
	syllables := 0
	for _, w := range words {
		syllables += syllableEstimate(w)
	}
	sentences := sentenceCount(s)

	score := 206.835 -
		1.015*float64(len(words))/float64(sentences) -
		84.6*float64(syllables)/float64(len(words))
	return min(100, max(0, score))
}

// sentenceCount counts terminator runs so "?!" and "..." end one sentence,
// not several. Text without terminators counts as a single sentence.
func sentenceCount(s string) int {
	n := 0
	inTerminator := false
	for _, r := range s {
		switch r {
		case '.', '!', '?':
			if !inTerminator {
				n++
				inTerminator = true
			}
		default:
			inTerminator = false
		}
	}
	if n == 0 {
		return 1
	}
	return n
}

// syllableEstimate counts vowel groups, minimum one per word.
func syllableEstimate(word string) int {
	n := 0
	prevVowel := false
	for _, r := range strings.ToLower(word) {
		vowel := strings.ContainsRune("aeiouy", r)
		if vowel && !prevVowel {
			n++
		}
		prevVowel = vowel
	}
	if n == 0 {
		return 1
	}
	return n
}
