package relay

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"coopauth/signin"
)

const maxRelayBodySize = 64 << 10

// App wires the relay's components together.
type App struct {
	Config Config
	Logger *slog.Logger
	Store  *AttemptStore
	Bus    *MessageBus

	generate    *GenerateProxy
	handlerTmpl *template.Template
}

// NewApp constructs the relay application from configuration.
func NewApp(cfg Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ttl, err := cfg.AttemptTTL()
	if err != nil {
		return nil, fmt.Errorf("attempt ttl: %w", err)
	}

	store := NewAttemptStore(ttl)
	bus := NewMessageBus(store, cfg.Relay.BufferSize, logger)

	app := &App{
		Config:      cfg,
		Logger:      logger,
		Store:       store,
		Bus:         bus,
		handlerTmpl: template.Must(template.New("handler").Parse(handlerPageHTML)),
	}

	if cfg.Generate.Target != "" {
		proxy, err := NewGenerateProxy(cfg.Generate, logger)
		if err != nil {
			return nil, fmt.Errorf("generate proxy: %w", err)
		}
		app.generate = proxy
	}

	return app, nil
}

// Close releases background resources.
func (a *App) Close() {
	a.Store.Close()
}

type handlerPageData struct {
	ProviderID string
	AuthType   string
	EventID    string
	RelayPath  string
}

// handleAuthHandler serves the page the popup (or redirect) navigates to.
// The page completes provider sign-in and reports back over the relay
// endpoint, never through window.opener.closed.
func (a *App) handleAuthHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	providerID := q.Get("providerId")
	authType := q.Get("authType")
	eventID := q.Get("eventId")

	if providerID == "" || authType == "" {
		http.Error(w, "providerId and authType are required", http.StatusBadRequest)
		return
	}
	if authType != signin.AuthTypePopup && authType != signin.AuthTypeRedirect {
		http.Error(w, "unknown authType", http.StatusBadRequest)
		return
	}
	if authType == signin.AuthTypePopup && eventID == "" {
		http.Error(w, "eventId is required for popup sign-in", http.StatusBadRequest)
		return
	}

	if eventID != "" {
		a.Store.Save(Attempt{ID: eventID, AuthType: authType, Provider: providerID})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := a.handlerTmpl.Execute(w, handlerPageData{
		ProviderID: providerID,
		AuthType:   authType,
		EventID:    eventID,
		RelayPath:  "/auth/relay/" + eventID,
	})
	if err != nil {
		a.Logger.Error("render handler page", "error", err)
	}
}

// handleRelay accepts a message posted by the handler page and routes it to
// the owning attempt. Unknown attempts are still accepted; the message is
// parked until the opener subscribes or the attempt expires.
func (a *App) handleRelay(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, "attemptID")
	if attemptID == "" {
		http.Error(w, "attempt id required", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRelayBodySize))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	msg, err := signin.DecodeMessage(body)
	if err != nil {
		a.Logger.Warn("rejecting relay message", "attempt", attemptID, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	a.Bus.Publish(attemptID, signin.Envelope{
		Origin:  r.Header.Get("Origin"),
		Message: msg,
	})
	a.Logger.Debug("relayed message", "attempt", attemptID, "type", msg.Type)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

func (a *App) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"attempts": a.Store.Len(),
	})
}

const handlerPageHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Signing in…</title>
<style>
body { font-family: system-ui, sans-serif; display: flex; align-items: center; justify-content: center; height: 100vh; margin: 0; color: #333; }
.box { text-align: center; }
.spinner { margin: 0 auto 1rem; width: 32px; height: 32px; border: 3px solid #ddd; border-top-color: #1a73e8; border-radius: 50%; animation: spin 0.8s linear infinite; }
@keyframes spin { to { transform: rotate(360deg); } }
</style>
</head>
<body>
<div class="box">
  <div class="spinner"></div>
  <p>Completing sign-in with {{.ProviderID}}&hellip;</p>
</div>
<script>
(function () {
  var relayPath = {{.RelayPath}};
  var authType = {{.AuthType}};

  function post(message) {
    var body = JSON.stringify(message);
    if (navigator.sendBeacon && navigator.sendBeacon(relayPath, new Blob([body], {type: "application/json"}))) {
      return Promise.resolve();
    }
    return fetch(relayPath, {
      method: "POST",
      headers: {"Content-Type": "application/json"},
      body: body,
      keepalive: true
    }).catch(function () {});
  }

  window.reportResult = function (result) {
    var message = result.error
      ? {type: "auth-error", payload: {error: result.error, errorCode: result.errorCode || ""}}
      : {type: "auth-success", payload: {idToken: result.idToken || "", accessToken: result.accessToken || ""}};
    post(message).then(function () {
      if (authType === "signInViaPopup") { window.close(); }
    });
  };

  window.addEventListener("pagehide", function () {
    post({type: "popup-closing"});
  });
})();
</script>
</body>
</html>
`
