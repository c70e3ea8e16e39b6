// Package remote implements a Processor backed by an external translation
// API reached through the ambassador. It is the fallback path used when the
// local engine is unavailable.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/lingorelay/lingorelay/pkg/ambassador"
	"github.com/lingorelay/lingorelay/pkg/breaker"
	"github.com/lingorelay/lingorelay/pkg/processor"
)

// Engine translates through a Google-Translate-shaped JSON API:
// POST {q, source, target, format} -> {data: {translations: [{translatedText}]}}.
type Engine struct {
	client *ambassador.Client
}

var _ processor.Processor = (*Engine)(nil)

func New(client *ambassador.Client) *Engine {
	return &Engine{client: client}
}

func (e *Engine) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	payload := map[string]string{
		"q":      text,
		"source": sourceLang,
		"target": targetLang,
		"format": "text",
	}

	body, err := e.client.Post(ctx, "/", payload)
	if err != nil {
		var ambErr *ambassador.Error
		if errors.As(err, &ambErr) && !ambErr.Transient && !errors.Is(err, breaker.ErrCircuitOpen) {
			return "", processor.PermanentError(err)
		}
		return "", processor.TransientError(err)
	}

	translated := gjson.GetBytes(body, "data.translations.0.translatedText")
	if !translated.Exists() || translated.String() == "" {
		return "", processor.PermanentError(fmt.Errorf("malformed translation response"))
	}
	return translated.String(), nil
}
