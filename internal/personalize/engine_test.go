package personalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ignite/dispatch-engine/internal/domain"
	"github.com/ignite/dispatch-engine/internal/tracking"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	codec := tracking.NewTokenCodec("test-secret")
	return NewEngine(tracking.NewURLBuilder(codec, "https://t.example.com"))
}

func TestRenderSubstitutesAttributes(t *testing.T) {
	e := newTestEngine(t)
	rec := &domain.Recipient{
		Email:     "jane@example.com",
		FirstName: "Jane",
		Attributes: map[string]any{
			"company": "Acme",
		},
	}

	out := e.Render("Hello {{first_name}} from {{company}}!", rec)
	assert.Equal(t, "Hello Jane from Acme!", out)
}

func TestRenderUnknownFieldIsEmpty(t *testing.T) {
	e := newTestEngine(t)
	rec := &domain.Recipient{Email: "jane@example.com"}

	out := e.Render("Hi {{nickname}}, welcome", rec)
	assert.Equal(t, "Hi , welcome", out)
}

func TestRenderParseErrorFallsBack(t *testing.T) {
	e := newTestEngine(t)
	rec := &domain.Recipient{FirstName: "Jane"}

	// Unclosed tag breaks the liquid parser; plain substitution still runs
	out := e.Render("Hi {{first_name}} {% if x", rec)
	assert.Contains(t, out, "Hi Jane")
}

func TestRenderWithFilters(t *testing.T) {
	e := newTestEngine(t)
	rec := &domain.Recipient{Email: "jane@example.com"}

	out := e.Render(`Hello {{ first_name | default: "Friend" }}`, rec)
	assert.Equal(t, "Hello Friend", out)
}

func TestInjectTrackingPixelBeforeBodyClose(t *testing.T) {
	e := newTestEngine(t)

	html := `<html><body><p>Hi</p></body></html>`
	out := e.InjectTracking(html, "sr1", true, false)

	assert.Contains(t, out, "https://t.example.com/t/open/")
	assert.Less(t, strings.Index(out, "/t/open/"), strings.Index(out, "</body>"))
}

func TestInjectTrackingPixelNoBodyTag(t *testing.T) {
	e := newTestEngine(t)

	out := e.InjectTracking("<p>Hi</p>", "sr1", true, false)
	assert.True(t, strings.HasSuffix(out, "/>"))
	assert.Contains(t, out, "/t/open/")
}

func TestInjectTrackingRewritesLinks(t *testing.T) {
	e := newTestEngine(t)

	html := `<a href="https://shop.example.com/item">Buy</a>`
	out := e.InjectTracking(html, "sr1", false, true)

	assert.NotContains(t, out, `href="https://shop.example.com/item"`)
	assert.Contains(t, out, "https://t.example.com/t/click/")
}

func TestInjectTrackingSkipRules(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name string
		html string
	}{
		{"mailto", `<a href="mailto:support@x.com">mail</a>`},
		{"tel", `<a href="tel:+123456">call</a>`},
		{"anchor", `<a href="#section">jump</a>`},
		{"already rewritten", `<a href="https://t.example.com/t/click/abc.def">x</a>`},
		{"unsubscribe link", `<a href="https://x.com/unsubscribe?u=1">unsub</a>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := e.InjectTracking(tt.html, "sr1", false, true)
			assert.Equal(t, tt.html, out)
		})
	}
}

func TestInjectTrackingDisabled(t *testing.T) {
	e := newTestEngine(t)

	html := `<body><a href="https://shop.example.com/item">Buy</a></body>`
	out := e.InjectTracking(html, "sr1", false, false)
	assert.Equal(t, html, out)
}

func TestInjectUnsubscribeFooterIdempotent(t *testing.T) {
	e := newTestEngine(t)
	rec := &domain.Recipient{ID: "r1", Email: "jane@example.com"}

	html := `<html><body><p>Hi</p></body></html>`
	once := e.InjectUnsubscribeFooter(html, rec, "sr1")
	assert.Contains(t, once, "/t/unsubscribe/")
	assert.Equal(t, 1, strings.Count(once, "Unsubscribe"))

	twice := e.InjectUnsubscribeFooter(once, rec, "sr1")
	assert.Equal(t, once, twice)
}
