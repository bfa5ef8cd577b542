package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tokuzou0829/twitter-clone-sub001/pkg/dispatch"
)

// PushAPI serves browser push registration.
type PushAPI struct {
	Store          dispatch.SubscriptionStore
	VapidPublicKey string
	Logger         *slog.Logger
}

func NewPushAPI(store dispatch.SubscriptionStore, vapidPublicKey string, logger *slog.Logger) *PushAPI {
	return &PushAPI{
		Store:          store,
		VapidPublicKey: vapidPublicKey,
		Logger:         logger.With("component", "PushAPI"),
	}
}

// PublicKey returns the applicationServerKey browsers subscribe with.
func (api *PushAPI) PublicKey(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": api.VapidPublicKey})
}

func (api *PushAPI) Subscribe(w http.ResponseWriter, r *http.Request) {
	userURN, err := authenticatedUser(r)
	if err != nil {
		writeError(w, api.Logger, "Subscribe", err)
		return
	}

	var in dispatch.PushSubscriptionInput
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, api.Logger, "Subscribe", err)
		return
	}
	if err := validateSubscription(in); err != nil {
		api.Logger.Warn("Subscribe: Validation failed", "err", err)
		writeError(w, api.Logger, "Subscribe", err)
		return
	}

	sub, err := api.Store.Save(r.Context(), userURN, in)
	if err != nil {
		writeError(w, api.Logger, "Subscribe", err)
		return
	}
	api.Logger.Info("Subscribe: Subscription registered", "user", userURN.String(), "subscription_id", sub.ID)
	writeJSON(w, http.StatusCreated, sub)
}

// Unsubscribe is idempotent: an unknown endpoint still answers 204.
func (api *PushAPI) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userURN, err := authenticatedUser(r)
	if err != nil {
		writeError(w, api.Logger, "Unsubscribe", err)
		return
	}
	endpoint := r.URL.Query().Get("endpoint")
	if endpoint == "" {
		writeError(w, api.Logger, "Unsubscribe", dispatch.Invalid("endpoint", "missing"))
		return
	}

	if err := api.Store.DeleteByUserAndEndpoint(r.Context(), userURN, endpoint); err != nil {
		writeError(w, api.Logger, "Unsubscribe", err)
		return
	}
	api.Logger.Info("Unsubscribe: Subscription removed", "user", userURN.String())
	w.WriteHeader(http.StatusNoContent)
}

func (api *PushAPI) Status(w http.ResponseWriter, r *http.Request) {
	userURN, err := authenticatedUser(r)
	if err != nil {
		writeError(w, api.Logger, "Status", err)
		return
	}
	endpoint := r.URL.Query().Get("endpoint")
	if endpoint == "" {
		writeError(w, api.Logger, "Status", dispatch.Invalid("endpoint", "missing"))
		return
	}

	_, err = api.Store.Find(r.Context(), userURN, endpoint)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"subscribed": true})
	case errors.Is(err, dispatch.ErrNotFound):
		writeJSON(w, http.StatusOK, map[string]bool{"subscribed": false})
	default:
		writeError(w, api.Logger, "Status", err)
	}
}

func validateSubscription(in dispatch.PushSubscriptionInput) error {
	u, err := url.Parse(in.Endpoint)
	if in.Endpoint == "" || err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return dispatch.Invalid("endpoint", "must be an absolute http(s) URL")
	}
	if in.Keys.P256dh == "" {
		return dispatch.Invalid("keys.p256dh", "missing")
	}
	if in.Keys.Auth == "" {
		return dispatch.Invalid("keys.auth", "missing")
	}
	return nil
}
