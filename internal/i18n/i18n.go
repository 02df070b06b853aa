// Package i18n localizes user-visible messages: API error texts, the
// fallback hint template and quiz titles.
package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

type ctxKey struct{}

// Translator owns the message bundle.
type Translator struct {
	bundle   *i18n.Bundle
	fallback *i18n.Localizer
	log      *zap.Logger
}

// New loads every embedded locale file. defaultLang is used when a
// request names no supported language.
func New(defaultLang string, log *zap.Logger) (*Translator, error) {
	tag, err := language.Parse(defaultLang)
	if err != nil {
		return nil, fmt.Errorf("parse language %q: %w", defaultLang, err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	bundle := i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("read locales dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read locale file %s: %w", e.Name(), err)
		}
		if _, err := bundle.ParseMessageFileBytes(data, e.Name()); err != nil {
			return nil, fmt.Errorf("parse locale file %s: %w", e.Name(), err)
		}
		log.Debug("loaded locale file", zap.String("file", e.Name()))
	}

	return &Translator{
		bundle:   bundle,
		fallback: i18n.NewLocalizer(bundle, tag.String()),
		log:      log,
	}, nil
}

// Localizer returns a localizer for the given language preferences, each
// either a tag or a raw Accept-Language header value.
func (t *Translator) Localizer(langs ...string) *i18n.Localizer {
	return i18n.NewLocalizer(t.bundle, langs...)
}

// WithLocalizer stores a localizer in the context.
func WithLocalizer(ctx context.Context, loc *i18n.Localizer) context.Context {
	return context.WithValue(ctx, ctxKey{}, loc)
}

func (t *Translator) localizerFromCtx(ctx context.Context) *i18n.Localizer {
	if loc, ok := ctx.Value(ctxKey{}).(*i18n.Localizer); ok {
		return loc
	}
	return t.fallback
}

// T translates a message by ID.
func (t *Translator) T(ctx context.Context, msgID string) string {
	return t.Td(ctx, msgID, nil)
}

// Td translates a message by ID with template data.
func (t *Translator) Td(ctx context.Context, msgID string, data map[string]any) string {
	s, err := t.localizerFromCtx(ctx).Localize(&i18n.LocalizeConfig{
		MessageID:    msgID,
		TemplateData: data,
	})
	if err != nil {
		t.log.Warn("missing translation", zap.String("id", msgID), zap.Error(err))
		return msgID
	}
	return s
}
