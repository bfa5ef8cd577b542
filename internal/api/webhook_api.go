package api

import (
	"log/slog"
	"net/http"

	"github.com/tokuzou0829/twitter-clone-sub001/internal/webhook"
	"github.com/tokuzou0829/twitter-clone-sub001/pkg/dispatch"
)

// WebhookAPI serves the developer webhook registry.
type WebhookAPI struct {
	Registry   *webhook.Registry
	Dispatcher *webhook.Dispatcher
	Logger     *slog.Logger
}

func NewWebhookAPI(registry *webhook.Registry, dispatcher *webhook.Dispatcher, logger *slog.Logger) *WebhookAPI {
	return &WebhookAPI{
		Registry:   registry,
		Dispatcher: dispatcher,
		Logger:     logger.With("component", "WebhookAPI"),
	}
}

func (api *WebhookAPI) Create(w http.ResponseWriter, r *http.Request) {
	owner, err := authenticatedUser(r)
	if err != nil {
		writeError(w, api.Logger, "CreateWebhook", err)
		return
	}
	var in webhook.CreateInput
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, api.Logger, "CreateWebhook", err)
		return
	}

	issued, err := api.Registry.Create(r.Context(), owner, in)
	if err != nil {
		writeError(w, api.Logger, "CreateWebhook", err)
		return
	}
	writeJSON(w, http.StatusCreated, issued)
}

func (api *WebhookAPI) List(w http.ResponseWriter, r *http.Request) {
	owner, err := authenticatedUser(r)
	if err != nil {
		writeError(w, api.Logger, "ListWebhooks", err)
		return
	}
	hooks, err := api.Registry.ListForOwner(r.Context(), owner)
	if err != nil {
		writeError(w, api.Logger, "ListWebhooks", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]dispatch.Webhook{"webhooks": hooks})
}

func (api *WebhookAPI) Update(w http.ResponseWriter, r *http.Request) {
	owner, err := authenticatedUser(r)
	if err != nil {
		writeError(w, api.Logger, "UpdateWebhook", err)
		return
	}
	var in webhook.UpdateInput
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, api.Logger, "UpdateWebhook", err)
		return
	}

	issued, err := api.Registry.Update(r.Context(), r.PathValue("id"), owner, in)
	if err != nil {
		writeError(w, api.Logger, "UpdateWebhook", err)
		return
	}
	writeJSON(w, http.StatusOK, issued)
}

func (api *WebhookAPI) Delete(w http.ResponseWriter, r *http.Request) {
	owner, err := authenticatedUser(r)
	if err != nil {
		writeError(w, api.Logger, "DeleteWebhook", err)
		return
	}
	if err := api.Registry.Delete(r.Context(), r.PathValue("id"), owner); err != nil {
		writeError(w, api.Logger, "DeleteWebhook", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TestSend delivers a ping and reports the outcome. A failed delivery is
// still a 200: the failure is the result being reported.
func (api *WebhookAPI) TestSend(w http.ResponseWriter, r *http.Request) {
	owner, err := authenticatedUser(r)
	if err != nil {
		writeError(w, api.Logger, "TestWebhook", err)
		return
	}
	outcome, err := api.Dispatcher.TestSend(r.Context(), r.PathValue("id"), owner)
	if err != nil {
		writeError(w, api.Logger, "TestWebhook", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]dispatch.DeliveryOutcome{"results": {outcome}})
}
