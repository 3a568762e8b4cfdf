package connection

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apphttp "github.com/chainsafe/elements-duel/pkg/app/http"
)

// HTTP exposes the manager operations
type HTTP struct {
	manager *Manager
	logger  *zap.Logger
}

// RegisterRoutes registers the session endpoints on the given chi router
func RegisterRoutes(r chi.Router, m *Manager, logger *zap.Logger) {
	h := &HTTP{
		manager: m,
		logger:  logger,
	}

	r.Route("/session", func(r chi.Router) {
		r.Get("/", apphttp.HandleError(h.state))
		r.Post("/connect", apphttp.HandleError(h.run(m.Connect)))
		r.Post("/reconnect", apphttp.HandleError(h.run(m.Reconnect)))
		r.Post("/switch-network", apphttp.HandleError(h.run(m.SwitchNetwork)))
		r.Post("/retry", apphttp.HandleError(h.run(m.Retry)))
		r.Post("/disconnect", apphttp.HandleError(h.disconnect))
	})
}

func (h *HTTP) state(w http.ResponseWriter, _ *http.Request) error {
	apphttp.WriteJSON(w, http.StatusOK, h.manager.State())
	return nil
}

// run invokes op and answers with the resulting state
func (h *HTTP) run(op func(context.Context) error) apphttp.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		if err := op(r.Context()); err != nil {
			return ToServiceError(err)
		}
		apphttp.WriteJSON(w, http.StatusOK, h.manager.State())
		return nil
	}
}

func (h *HTTP) disconnect(w http.ResponseWriter, _ *http.Request) error {
	h.manager.Disconnect()
	apphttp.WriteJSON(w, http.StatusOK, h.manager.State())
	return nil
}
