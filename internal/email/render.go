package email

import (
	"fmt"
	"html"

	"github.com/osteele/liquid"

	"github.com/acme/outbound-survey/internal/domain"
)

// Renderer renders notification templates with liquid. Subject and text body
// receive raw variable values; the HTML body sees HTML-escaped copies so
// payload text cannot inject markup.
type Renderer struct {
	engine *liquid.Engine
}

func NewRenderer() *Renderer {
	return &Renderer{engine: liquid.NewEngine()}
}

// Render produces the outbound message content from a template and the
// event-derived variables.
func (r *Renderer) Render(tpl *domain.EmailTemplate, vars map[string]any) (subject, htmlBody, textBody string, err error) {
	subject, err = r.renderOne(tpl.Subject, vars)
	if err != nil {
		return "", "", "", fmt.Errorf("email: render subject: %w", err)
	}

	if tpl.HTMLBody != "" {
		htmlBody, err = r.renderOne(tpl.HTMLBody, escapeValues(vars))
		if err != nil {
			return "", "", "", fmt.Errorf("email: render html body: %w", err)
		}
	}

	if tpl.TextBody != "" {
		textBody, err = r.renderOne(tpl.TextBody, vars)
		if err != nil {
			return "", "", "", fmt.Errorf("email: render text body: %w", err)
		}
	}

	return subject, htmlBody, textBody, nil
}

func (r *Renderer) renderOne(src string, vars map[string]any) (string, error) {
	out, err := r.engine.ParseAndRenderString(src, vars)
	if err != nil {
		return "", err
	}
	return out, nil
}

// escapeValues HTML-escapes every string value, recursing into nested maps
// and slices from the event payload.
func escapeValues(vars map[string]any) map[string]any {
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		out[k] = escapeValue(v)
	}
	return out
}

func escapeValue(v any) any {
	switch val := v.(type) {
	case string:
		return html.EscapeString(val)
	case map[string]any:
		return escapeValues(val)
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = escapeValue(item)
		}
		return items
	default:
		return v
	}
}
