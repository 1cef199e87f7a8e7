package ner

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// Special tokens of BERT-style vocabularies.
const (
	tokenPad = "[PAD]"
	tokenUnk = "[UNK]"
	tokenCLS = "[CLS]"
	tokenSEP = "[SEP]"

	maxWordRunes = 100
)

// Tokenizer is a WordPiece tokenizer that keeps the character offsets of
// every sub-word.
type Tokenizer struct {
	vocab     map[string]int64
	unkID     int64
	clsID     int64
	sepID     int64
	padID     int64
	maxLength int
	lowercase bool
}

// Token is one sub-word. Start and End are code point offsets into the
// tokenized text; Continuation marks a "##" piece.
type Token struct {
	ID           int64
	Start        int
	End          int
	Continuation bool
}

// Encoding is one model input window, including the [CLS] and [SEP] tokens.
type Encoding struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
	// Tokens is aligned with InputIDs; special tokens have Start == End == -1.
	Tokens []Token
}

// LoadTokenizer reads a vocab.txt file with one token per line.
func LoadTokenizer(vocabPath string, maxLength int, lowercase bool) (*Tokenizer, error) {
	f, err := os.Open(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocabulary: %w", err)
	}
	defer f.Close()

	var vocab []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		vocab = append(vocab, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocabulary: %w", err)
	}
	return NewTokenizer(vocab, maxLength, lowercase)
}

// NewTokenizer builds a tokenizer from vocabulary entries in id order.
func NewTokenizer(vocab []string, maxLength int, lowercase bool) (*Tokenizer, error) {
	if maxLength < 3 {
		return nil, fmt.Errorf("max length %d too small", maxLength)
	}

	t := &Tokenizer{
		vocab:     make(map[string]int64, len(vocab)),
		maxLength: maxLength,
		lowercase: lowercase,
	}
	for i, tok := range vocab {
		if _, exists := t.vocab[tok]; !exists {
			t.vocab[tok] = int64(i)
		}
	}

	for name, dst := range map[string]*int64{tokenUnk: &t.unkID, tokenCLS: &t.clsID, tokenSEP: &t.sepID, tokenPad: &t.padID} {
		id, ok := t.vocab[name]
		if !ok {
			return nil, fmt.Errorf("vocabulary is missing %s", name)
		}
		*dst = id
	}
	return t, nil
}

// Tokenize splits text into sub-word tokens.
func (t *Tokenizer) Tokenize(text string) []Token {
	var tokens []Token
	for _, w := range splitWords(text) {
		tokens = append(tokens, t.wordPiece(w)...)
	}
	return tokens
}

// Encode tokenizes text and cuts the tokens into model windows of at most
// maxLength ids.
func (t *Tokenizer) Encode(text string) []Encoding {
	tokens := t.Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	per := t.maxLength - 2
	var windows []Encoding
	for start := 0; start < len(tokens); start += per {
		end := start + per
		if end > len(tokens) {
			end = len(tokens)
		}
		windows = append(windows, t.window(tokens[start:end]))
	}
	return windows
}

func (t *Tokenizer) window(tokens []Token) Encoding {
	n := len(tokens) + 2
	enc := Encoding{
		InputIDs:      make([]int64, 0, n),
		AttentionMask: make([]int64, n),
		TokenTypeIDs:  make([]int64, n),
		Tokens:        make([]Token, 0, n),
	}
	special := func(id int64) {
		enc.InputIDs = append(enc.InputIDs, id)
		enc.Tokens = append(enc.Tokens, Token{ID: id, Start: -1, End: -1})
	}

	special(t.clsID)
	for _, tok := range tokens {
		enc.InputIDs = append(enc.InputIDs, tok.ID)
		enc.Tokens = append(enc.Tokens, tok)
	}
	special(t.sepID)

	for i := range enc.AttentionMask {
		enc.AttentionMask[i] = 1
	}
	return enc
}

type word struct {
	text  []rune
	start int
}

// splitWords breaks text on whitespace and isolates punctuation, recording
// the code point offset of each word.
func splitWords(text string) []word {
	var (
		words   []word
		current []rune
		start   int
	)
	flush := func() {
		if len(current) > 0 {
			words = append(words, word{text: current, start: start})
			current = nil
		}
	}

	pos := 0
	for _, r := range text {
		switch {
		case unicode.IsSpace(r) || unicode.IsControl(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, word{text: []rune{r}, start: pos})
		default:
			if len(current) == 0 {
				start = pos
			}
			current = append(current, r)
		}
		pos++
	}
	flush()
	return words
}

// wordPiece applies greedy longest-match-first segmentation to one word.
func (t *Tokenizer) wordPiece(w word) []Token {
	runes := w.text
	if t.lowercase {
		runes = []rune(strings.ToLower(string(runes)))
	}
	unknown := []Token{{ID: t.unkID, Start: w.start, End: w.start + len(w.text)}}
	if len(runes) > maxWordRunes || len(runes) != len(w.text) {
		return unknown
	}

	var tokens []Token
	for start := 0; start < len(runes); {
		end := len(runes)
		found := false
		var id int64
		for end > start {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if v, ok := t.vocab[piece]; ok {
				id, found = v, true
				break
			}
			end--
		}
		if !found {
			return unknown
		}
		tokens = append(tokens, Token{
			ID:           id,
			Start:        w.start + start,
			End:          w.start + end,
			Continuation: start > 0,
		})
		start = end
	}
	return tokens
}
