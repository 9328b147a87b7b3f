package embed

import (
	"bufio"
	_ "embed"
	"strings"
	"unicode"
)

// Special token literals used by the encoder.
const (
	padToken = "[PAD]"
	unkToken = "[UNK]"
	clsToken = "[CLS]"
	sepToken = "[SEP]"
)

//go:embed assets/vocab.txt
var vocabAsset string

// Vocab is a WordPiece vocabulary: token text to id, ids are line numbers.
type Vocab struct {
	ids map[string]int64

	padID int64
	unkID int64
	clsID int64
	sepID int64
}

// LoadVocab parses a vocabulary from newline-separated token text.
func LoadVocab(text string) *Vocab {
	v := &Vocab{ids: make(map[string]int64)}

	sc := bufio.NewScanner(strings.NewReader(text))
	var id int64
	for sc.Scan() {
		token := strings.TrimRight(sc.Text(), "\r")
		if token == "" {
			continue
		}
		if _, ok := v.ids[token]; !ok {
			v.ids[token] = id
		}
		id++
	}

	v.padID = v.lookupSpecial(padToken)
	v.unkID = v.lookupSpecial(unkToken)
	v.clsID = v.lookupSpecial(clsToken)
	v.sepID = v.lookupSpecial(sepToken)
	return v
}

// DefaultVocab returns the vocabulary embedded in the binary.
func DefaultVocab() *Vocab {
	return LoadVocab(vocabAsset)
}

// Size returns the number of distinct tokens.
func (v *Vocab) Size() int {
	return len(v.ids)
}

func (v *Vocab) lookupSpecial(token string) int64 {
	if id, ok := v.ids[token]; ok {
		return id
	}
	return 0
}

// BasicTokenize lowercases, isolates punctuation and symbols, and splits
// on whitespace. This mirrors the pre-tokenization step of BERT-style
// tokenizers: every punctuation rune becomes its own token.
func BasicTokenize(text string) []string {
	var b strings.Builder
	b.Grow(len(text) * 2)

	for _, r := range strings.ToLower(text) {
		if isPunct(r) {
			b.WriteRune(' ')
			b.WriteRune(r)
			b.WriteRune(' ')
		} else {
			b.WriteRune(r)
		}
	}

	return strings.Fields(b.String())
}

// isPunct reports whether r is treated as punctuation: the ASCII symbol
// ranges 33-47, 58-64, 91-96, 123-126 plus Unicode punctuation and symbol
// categories.
func isPunct(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}

// WordPiece segments a single word with greedy longest-prefix matching.
// Continuation pieces carry the "##" prefix. A word that cannot be fully
// segmented, or that exceeds maxWordChars, yields a single [UNK].
func (v *Vocab) WordPiece(word string) []string {
	runes := []rune(word)
	if len(runes) > maxWordChars {
		return []string{unkToken}
	}

	var pieces []string
	start := 0
	for start < len(runes) {
		end := len(runes)
		var piece string
		found := false
		for end > start {
			candidate := string(runes[start:end])
			if start > 0 {
				candidate = "##" + candidate
			}
			if _, ok := v.ids[candidate]; ok {
				piece = candidate
				found = true
				break
			}
			end--
		}
		if !found {
			return []string{unkToken}
		}
		pieces = append(pieces, piece)
		start = end
	}
	return pieces
}

// Tokenize runs basic tokenization followed by WordPiece over each word.
func (v *Vocab) Tokenize(text string) []string {
	var tokens []string
	for _, word := range BasicTokenize(text) {
		tokens = append(tokens, v.WordPiece(word)...)
	}
	return tokens
}

// Encoding is the fixed-length encoder input for one text.
type Encoding struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
}

// Encode produces [CLS] subword_ids [SEP] [PAD]* arrays of length seqLen.
// Subwords beyond seqLen-2 are truncated. The attention mask covers the
// [CLS], subword, and [SEP] positions; token types are all zeros.
func (v *Vocab) Encode(text string, seqLen int) Encoding {
	tokens := v.Tokenize(text)
	if len(tokens) > seqLen-2 {
		tokens = tokens[:seqLen-2]
	}

	enc := Encoding{
		InputIDs:      make([]int64, seqLen),
		AttentionMask: make([]int64, seqLen),
		TokenTypeIDs:  make([]int64, seqLen),
	}

	pos := 0
	put := func(id int64) {
		enc.InputIDs[pos] = id
		enc.AttentionMask[pos] = 1
		pos++
	}

	put(v.clsID)
	for _, token := range tokens {
		id, ok := v.ids[token]
		if !ok {
			id = v.unkID
		}
		put(id)
	}
	put(v.sepID)

	for ; pos < seqLen; pos++ {
		enc.InputIDs[pos] = v.padID
	}
	return enc
}
