package tracking

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/dispatch-engine/internal/domain"
	"github.com/ignite/dispatch-engine/internal/events"
	"github.com/ignite/dispatch-engine/internal/pkg/logger"
)

// pixelGIF is a 1x1 transparent GIF served on every open hit.
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Handler serves the public tracking endpoints. Every endpoint responds
// success-shaped regardless of token validity: a bad token yields the same
// pixel, a home-page redirect or the same confirmation page, never an error
// that would leak which tokens are real.
type Handler struct {
	codec   *TokenCodec
	pub     Publisher
	homeURL string
	log     *logger.Logger
}

// NewHandler creates the tracking HTTP handler.
func NewHandler(codec *TokenCodec, pub Publisher, homeURL string) *Handler {
	if homeURL == "" {
		homeURL = "/"
	}
	return &Handler{codec: codec, pub: pub, homeURL: homeURL, log: logger.With("tracking")}
}

// Routes builds the router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
	}))

	r.Get("/health", h.handleHealth)
	r.Get("/t/open/{token}", h.handleOpen)
	r.Get("/t/click/{token}", h.handleClick)
	r.Get("/t/unsubscribe/{token}", h.handleUnsubscribe)
	r.Post("/t/unsubscribe/{token}", h.handleUnsubscribe)
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if parts, err := h.codec.Decode(token); err == nil && len(parts) >= 1 {
		h.pub.Publish(r.Context(), domain.TrackingEvent{
			Type:         domain.EventOpen,
			SendRecordID: parts[0],
			Context:      eventContext(r),
		})
	} else {
		h.log.Debug("invalid open token", "remote", realIP(r))
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func (h *Handler) handleClick(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	parts, err := h.codec.Decode(token)
	if err != nil || len(parts) < 2 {
		h.log.Debug("invalid click token", "remote", realIP(r))
		http.Redirect(w, r, h.homeURL, http.StatusFound)
		return
	}
	// Rejoin in case the destination itself contains the payload separator
	dest := strings.Join(parts[1:], "|")
	if !validDestination(dest) {
		h.log.Debug("invalid click destination", "remote", realIP(r))
		http.Redirect(w, r, h.homeURL, http.StatusFound)
		return
	}

	h.pub.Publish(r.Context(), domain.TrackingEvent{
		Type:         domain.EventClick,
		SendRecordID: parts[0],
		URL:          dest,
		Context:      eventContext(r),
	})
	http.Redirect(w, r, dest, http.StatusTemporaryRedirect)
}

func (h *Handler) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if parts, err := h.codec.Decode(token); err == nil && len(parts) >= 2 {
		h.pub.Publish(r.Context(), domain.TrackingEvent{
			Type:         domain.EventUnsubscribe,
			RecipientID:  parts[0],
			SendRecordID: parts[1],
			Context:      eventContext(r),
		})
	} else {
		h.log.Debug("invalid unsubscribe token", "remote", realIP(r))
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, unsubscribePage)
}

const unsubscribePage = `<!DOCTYPE html>
<html>
<head><title>Unsubscribed</title></head>
<body style="font-family:sans-serif;text-align:center;padding-top:80px;">
<h1>You have been unsubscribed</h1>
<p>You will no longer receive emails from this sender.</p>
</body>
</html>`

// validDestination only allows absolute http(s) redirect targets.
func validDestination(dest string) bool {
	lower := strings.ToLower(dest)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func eventContext(r *http.Request) domain.EventContext {
	ua := r.UserAgent()
	return domain.EventContext{
		IP:         realIP(r),
		UserAgent:  ua,
		Device:     events.DetectDevice(ua),
		OccurredAt: time.Now(),
	}
}

func realIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.Index(fwd, ","); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
