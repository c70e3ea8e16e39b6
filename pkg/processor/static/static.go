// Package static implements a lexicon-backed Processor. It stands in for a
// heavyweight model-backed engine: per-language-pair resources are loaded
// lazily on first use, with thread-safe initialization, the way a real
// engine would page in a model per pair.
package static

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"github.com/lingorelay/lingorelay/pkg/processor"
)

// builtin lexicons, keyed by "src-tgt". Enough coverage for smoke traffic;
// production deployments register their own pairs via WithLexicon.
var builtinLexicons = map[string]map[string]string{
	"en-de": {
		"hello": "hallo",
		"world": "welt",
		"good":  "gut",
		"cat":   "katze",
		"dog":   "hund",
		"thank": "danke",
		"you":   "dich",
	},
	"en-fr": {
		"hello": "bonjour",
		"world": "monde",
		"good":  "bon",
		"cat":   "chat",
		"dog":   "chien",
	},
	"de-en": {
		"hallo": "hello",
		"welt":  "world",
		"gut":   "good",
	},
}

type pair struct {
	once    sync.Once
	lexicon map[string]string
	err     error
}

// Engine is a Processor backed by in-memory lexicons.
type Engine struct {
	mu       sync.Mutex
	pairs    map[string]*pair
	lexicons map[string]map[string]string
}

var _ processor.Processor = (*Engine)(nil)

type Opt func(*Engine)

// WithLexicon registers or replaces the lexicon for a language pair.
func WithLexicon(sourceLang, targetLang string, lexicon map[string]string) Opt {
	return func(e *Engine) {
		e.lexicons[pairKey(sourceLang, targetLang)] = lexicon
	}
}

func New(opts ...Opt) *Engine {
	e := &Engine{
		pairs:    map[string]*pair{},
		lexicons: map[string]map[string]string{},
	}
	for key, lexicon := range builtinLexicons {
		e.lexicons[key] = lexicon
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func pairKey(sourceLang, targetLang string) string {
	return sourceLang + "-" + targetLang
}

// loadPair resolves the resources for a language pair, initializing them at
// most once regardless of how many workers race on the first request.
func (e *Engine) loadPair(sourceLang, targetLang string) (*pair, error) {
	key := pairKey(sourceLang, targetLang)

	e.mu.Lock()
	p, ok := e.pairs[key]
	if !ok {
		p = &pair{}
		e.pairs[key] = p
	}
	lexicon := e.lexicons[key]
	e.mu.Unlock()

	p.once.Do(func() {
		if lexicon == nil {
			p.err = processor.UnsupportedPairError(sourceLang, targetLang)
			return
		}
		p.lexicon = lexicon
	})

	return p, p.err
}

func (e *Engine) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", processor.TransientError(err)
	}

	p, err := e.loadPair(sourceLang, targetLang)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for i, word := range strings.Fields(text) {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(translateWord(p.lexicon, word))
	}
	return b.String(), nil
}

// translateWord looks the word up case-insensitively, stripping trailing
// punctuation, and carries the original casing and punctuation over.
func translateWord(lexicon map[string]string, word string) string {
	trimmed := strings.TrimRightFunc(word, unicode.IsPunct)
	suffix := word[len(trimmed):]

	out, ok := lexicon[strings.ToLower(trimmed)]
	if !ok || out == "" {
		return word
	}

	if trimmed != "" && unicode.IsUpper([]rune(trimmed)[0]) {
		r := []rune(out)
		r[0] = unicode.ToUpper(r[0])
		out = string(r)
	}
	return out + suffix
}
