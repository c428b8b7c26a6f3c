/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	callconsole "github.com/tejzpr/callconsole-go"
	"github.com/tejzpr/callconsole-go/calling"
)

// controller is the part of the console the HTTP API drives.
type controller interface {
	Status() callconsole.Status
	SetActive(active bool)
	Call(ctx context.Context, req calling.CallRequest)
	Answer(ctx context.Context)
	Decline(ctx context.Context)
	Hangup(ctx context.Context)
	Mute(ctx context.Context)
	Unmute(ctx context.Context)
}

type consoleController struct {
	*callconsole.Console
}

func (c consoleController) Call(ctx context.Context, req calling.CallRequest) {
	c.Calls().Call(ctx, req)
}
func (c consoleController) Answer(ctx context.Context)  { c.Calls().Answer(ctx) }
func (c consoleController) Decline(ctx context.Context) { c.Calls().Decline(ctx) }
func (c consoleController) Hangup(ctx context.Context)  { c.Calls().Hangup(ctx) }
func (c consoleController) Mute(ctx context.Context)    { c.Calls().Mute(ctx) }
func (c consoleController) Unmute(ctx context.Context)  { c.Calls().Unmute(ctx) }

type callBody struct {
	Number     string `json:"number"`
	CalleeID   string `json:"calleeId,omitempty"`
	CalleeName string `json:"calleeName,omitempty"`
	FromDialer bool   `json:"fromDialer,omitempty"`
}

type activeBody struct {
	Active bool `json:"active"`
}

func newHTTPServer(addr string, ctl controller, gatherer prometheus.Gatherer, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      newRouter(ctl, gatherer, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func newRouter(ctl controller, gatherer prometheus.Gatherer, logger *slog.Logger) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	router.HandleFunc("/status", handleStatus(ctl)).Methods(http.MethodGet)
	router.HandleFunc("/active", handleActive(ctl)).Methods(http.MethodPost)
	router.HandleFunc("/calls", handleCall(ctl, logger)).Methods(http.MethodPost)
	router.HandleFunc("/calls/active/{action}", handleCallAction(ctl)).Methods(http.MethodPost)
	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	return router
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleStatus(ctl controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ctl.Status())
	}
}

func handleActive(ctl controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body activeBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		ctl.SetActive(body.Active)
		w.WriteHeader(http.StatusNoContent)
	}
}

// Call actions run detached from the request; their failures surface
// through the console's notifier.
func handleCall(ctl controller, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body callBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if body.Number == "" {
			http.Error(w, "number is required", http.StatusBadRequest)
			return
		}
		logger.Info("Dialing", "number", body.Number, "fromDialer", body.FromDialer)
		ctl.Call(context.WithoutCancel(r.Context()), calling.CallRequest{
			Number:     body.Number,
			CalleeID:   body.CalleeID,
			CalleeName: body.CalleeName,
			FromDialer: body.FromDialer,
		})
		w.WriteHeader(http.StatusAccepted)
	}
}

func handleCallAction(ctl controller) http.HandlerFunc {
	actions := map[string]func(context.Context){
		"answer":  ctl.Answer,
		"decline": ctl.Decline,
		"hangup":  ctl.Hangup,
		"mute":    ctl.Mute,
		"unmute":  ctl.Unmute,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		fn, ok := actions[mux.Vars(r)["action"]]
		if !ok {
			http.Error(w, "unknown call action", http.StatusNotFound)
			return
		}
		fn(context.WithoutCancel(r.Context()))
		w.WriteHeader(http.StatusAccepted)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
