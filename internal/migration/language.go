package migration

import (
	"context"
	"fmt"

	"github.com/shalom-calendar/upgradekit/internal/locale"
)

// SelectLanguage stores the answer to the language prompt as the primary
// display language. It returns the stored language code.
func (e *Engine) SelectLanguage(ctx context.Context, tag string) (string, error) {
	loc, err := locale.Parse(tag)
	if err != nil {
		return "", err
	}
	if err := e.prefs.SetPrimaryLocale(ctx, loc.Language); err != nil {
		return "", fmt.Errorf("store primary locale: %w", err)
	}
	e.logger.Info("primary language selected", "language", loc.Language)
	return loc.Language, nil
}
