// Package personalize renders campaign content per recipient and injects
// the tracking pixel, click redirects and the unsubscribe footer.
package personalize

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/dispatch-engine/internal/domain"
	"github.com/ignite/dispatch-engine/internal/pkg/logger"
)

// LinkBuilder produces the signed tracking URLs embedded into a message.
type LinkBuilder interface {
	BaseURL() string
	OpenURL(sendRecordID string) string
	ClickURL(sendRecordID, destURL string) string
	UnsubscribeURL(recipientID, sendRecordID string) string
}

// footerMarker makes InjectUnsubscribeFooter idempotent.
const footerMarker = "<!-- unsub-footer -->"

var (
	hrefRe        = regexp.MustCompile(`href=["']([^"']+)["']`)
	placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
)

// Engine renders liquid templates against recipient attributes. Rendering
// never fails the send path: parse or render errors fall back to plain
// placeholder substitution with unknown fields resolving to empty strings.
type Engine struct {
	liquid *liquid.Engine
	links  LinkBuilder
	cache  sync.Map // template text -> *liquid.Template
	log    *logger.Logger
}

// NewEngine creates a personalization engine.
func NewEngine(links LinkBuilder) *Engine {
	e := &Engine{
		liquid: liquid.NewEngine(),
		links:  links,
		log:    logger.With("personalize"),
	}
	e.registerFilters()
	return e
}

func (e *Engine) registerFilters() {
	e.liquid.RegisterFilter("default", func(value any, defaultVal string) any {
		if value == nil {
			return defaultVal
		}
		s := fmt.Sprintf("%v", value)
		if s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})
	e.liquid.RegisterFilter("capitalize", func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
	})
	e.liquid.RegisterFilter("email_domain", func(email string) string {
		parts := strings.Split(email, "@")
		if len(parts) == 2 {
			return parts[1]
		}
		return ""
	})
}

// bindings builds the template context: built-in fields first, custom
// attributes layered on top.
func bindings(rec *domain.Recipient) map[string]any {
	ctx := map[string]any{
		"email":      rec.Email,
		"first_name": rec.FirstName,
		"last_name":  rec.LastName,
	}
	for k, v := range rec.Attributes {
		ctx[k] = v
	}
	return ctx
}

// Render substitutes recipient fields into the template. Unknown
// placeholders resolve to the empty string; a template the liquid engine
// cannot parse degrades to plain placeholder substitution.
func (e *Engine) Render(templateText string, rec *domain.Recipient) string {
	if templateText == "" {
		return ""
	}
	ctx := bindings(rec)

	tpl, err := e.template(templateText)
	if err != nil {
		e.log.Warn("template parse failed, falling back to plain substitution",
			"error", err.Error())
		return substitutePlain(templateText, ctx)
	}
	out, err := tpl.RenderString(ctx)
	if err != nil {
		e.log.Warn("template render failed, falling back to plain substitution",
			"error", err.Error())
		return substitutePlain(templateText, ctx)
	}
	return out
}

func (e *Engine) template(text string) (*liquid.Template, error) {
	if cached, ok := e.cache.Load(text); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := e.liquid.ParseString(text)
	if err != nil {
		return nil, err
	}
	e.cache.Store(text, tpl)
	return tpl, nil
}

// substitutePlain replaces {{field}} placeholders directly, with unknown
// fields becoming empty strings.
func substitutePlain(text string, ctx map[string]any) string {
	return placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		if v, ok := ctx[name]; ok && v != nil {
			return fmt.Sprintf("%v", v)
		}
		return ""
	})
}

// InjectTracking adds the 1x1 open pixel before the closing body tag (or at
// the end when there is none) and rewrites outbound links into signed click
// redirects. Links that are mailto:, tel:, in-page anchors, already on the
// tracking domain, or unsubscribe links are left alone.
func (e *Engine) InjectTracking(html, sendRecordID string, trackOpens, trackClicks bool) string {
	if trackClicks {
		html = hrefRe.ReplaceAllStringFunc(html, func(match string) string {
			dest := hrefRe.FindStringSubmatch(match)[1]
			if skipRewrite(dest, e.links.BaseURL()) {
				return match
			}
			return fmt.Sprintf(`href="%s"`, e.links.ClickURL(sendRecordID, dest))
		})
	}

	if trackOpens {
		pixel := fmt.Sprintf(
			`<img src="%s" width="1" height="1" alt="" style="display:none;width:1px;height:1px" />`,
			e.links.OpenURL(sendRecordID))
		if idx := strings.LastIndex(strings.ToLower(html), "</body>"); idx >= 0 {
			html = html[:idx] + pixel + html[idx:]
		} else {
			html += pixel
		}
	}

	return html
}

func skipRewrite(dest, trackingBase string) bool {
	lower := strings.ToLower(dest)
	switch {
	case strings.HasPrefix(lower, "mailto:"),
		strings.HasPrefix(lower, "tel:"),
		strings.HasPrefix(dest, "#"),
		trackingBase != "" && strings.HasPrefix(dest, trackingBase),
		strings.Contains(lower, "unsubscribe"):
		return true
	}
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return true
	}
	return false
}

// InjectUnsubscribeFooter appends the unsubscribe footer before the closing
// body tag. Calling it on HTML that already carries the footer is a no-op.
func (e *Engine) InjectUnsubscribeFooter(html string, rec *domain.Recipient, sendRecordID string) string {
	if strings.Contains(html, footerMarker) {
		return html
	}
	footer := fmt.Sprintf(
		`%s<div style="text-align:center;font-size:12px;color:#888;padding:16px 0;">`+
			`<a href="%s" style="color:#888;">Unsubscribe</a></div>`,
		footerMarker, e.links.UnsubscribeURL(rec.ID, sendRecordID))
	if idx := strings.LastIndex(strings.ToLower(html), "</body>"); idx >= 0 {
		return html[:idx] + footer + html[idx:]
	}
	return html + footer
}
