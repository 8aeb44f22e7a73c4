package agent

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ChunkWidth is the target width of one delivered fragment, in characters.
const ChunkWidth = 160

var blankLine = regexp.MustCompile(`\n[ \t\r]*\n`)

type fragment struct {
	text     string
	newBlock bool // starts a new line in the source
}

// ChunkReply splits text into at most max human-sized fragments. It breaks on blank
// lines, then lines, then sentence ends, packs over-wide pieces on whitespace and
// hard-cuts single tokens wider than ChunkWidth. Fragments are merged greedily while
// they fit; once max-1 chunks exist everything left goes into the last chunk, which
// may then exceed ChunkWidth.
func ChunkReply(text string, max int) []string {
	if max < 1 {
		max = 1
	}

	frags := splitFragments(text)
	if len(frags) == 0 {
		return nil
	}

	var chunks []string
	cur := ""
	for _, f := range frags {
		if cur == "" {
			cur = f.text
			continue
		}
		sep := " "
		if f.newBlock {
			sep = "\n"
		}
		if len(chunks) >= max-1 {
			cur += sep + f.text
			continue
		}
		if merged := cur + sep + f.text; utf8.RuneCountInString(merged) <= ChunkWidth {
			cur = merged
			continue
		}
		chunks = append(chunks, cur)
		cur = f.text
	}
	if cur != "" {
		chunks = append(chunks, cur)
	}
	return chunks
}

func splitFragments(text string) []fragment {
	var out []fragment
	for _, block := range blankLine.Split(text, -1) {
		for _, line := range strings.Split(block, "\n") {
			first := true
			for _, sentence := range splitSentences(line) {
				for _, piece := range packWidth(sentence) {
					out = append(out, fragment{text: piece, newBlock: first && len(out) > 0})
					first = false
				}
			}
		}
	}
	return out
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '…'
}

// splitSentences cuts after terminal punctuation that is followed by whitespace.
func splitSentences(line string) []string {
	var out []string
	runes := []rune(line)
	start := 0
	for i := 0; i < len(runes)-1; i++ {
		if isSentenceEnd(runes[i]) && unicode.IsSpace(runes[i+1]) {
			if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

// packWidth packs words of s into pieces no wider than ChunkWidth.
func packWidth(s string) []string {
	if utf8.RuneCountInString(s) <= ChunkWidth {
		return []string{s}
	}

	var out []string
	cur := ""
	for _, word := range strings.Fields(s) {
		for utf8.RuneCountInString(word) > ChunkWidth {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			out = append(out, truncateRunes(word, ChunkWidth))
			word = string([]rune(word)[ChunkWidth:])
		}
		if word == "" {
			continue
		}
		if cur == "" {
			cur = word
		} else if utf8.RuneCountInString(cur)+1+utf8.RuneCountInString(word) <= ChunkWidth {
			cur += " " + word
		} else {
			out = append(out, cur)
			cur = word
		}
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}
