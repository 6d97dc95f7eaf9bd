package radio

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"hls-radio/internal/controlbus"
	"hls-radio/internal/platform/config"
	"hls-radio/internal/platform/logger"
	"hls-radio/internal/platform/metrics"
)

// Handler exposes the player's status and channel selection over HTTP.
type Handler struct {
	player  *Player
	cfg     *config.Config
	bus     controlbus.Client
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler. bus is used only to publish switch commands.
// Metrics may be nil to disable the metrics endpoint and request counting.
func NewHandler(player *Player, cfg *config.Config, bus controlbus.Client, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{player: player, cfg: cfg, bus: bus, log: log, metrics: m}
}

// Routes returns the status router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(logger.RequestLogger(h.log, "/healthz", "/metrics"))
	if h.metrics != nil {
		r.Use(metrics.RequestMiddleware(h.metrics, "/metrics"))
		// gauges are kept current by the engine and the consumer
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler(nil))
	}
	r.Get("/healthz", h.Healthz)
	r.Get("/status", h.GetStatus)
	r.Post("/channels/{channel}", h.SelectChannel)
	return r
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// GetStatus handles GET /status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.player.Status()); err != nil {
		h.log.Debug("write status", slog.String("error", err.Error()))
	}
}

// SelectChannel handles POST /channels/{channel}. Channel 0 stops playback.
// The command goes through the switch topic like any other selection.
func (h *Handler) SelectChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := strconv.Atoi(chi.URLParam(r, "channel"))
	if err != nil || ch < 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if ch > 0 {
		if _, err := h.cfg.Channel(ch); err != nil {
			if errors.Is(err, config.ErrNoSuchChannel) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}

	if err := h.bus.Publish(r.Context(), controlbus.TopicSwitch, controlbus.ChannelPayload(ch)); err != nil {
		h.log.Error("publish channel selection failed", slog.Int("channel", ch), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	h.log.Info("channel selection published", slog.Int("channel", ch))
	w.WriteHeader(http.StatusAccepted)
}
