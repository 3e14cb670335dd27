// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loopwork/tether/pkg/connector"
	"github.com/loopwork/tether/pkg/logger"
	"github.com/loopwork/tether/pkg/store"
)

// HealthRouter sets up the health route.
func HealthRouter(st store.Store) http.Handler {
	routes := &healthRoutes{store: st}
	r := chi.NewRouter()
	r.Get("/", routes.getHealth)
	return r
}

type healthRoutes struct {
	store store.Store
}

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	// ToleratedTokenParses counts token records that failed strict parsing
	// but still carried a usable access token.
	ToleratedTokenParses int64 `json:"tolerated_token_parses"`
}

// getHealth
//
//	@Summary		Health check
//	@Description	Check credential store connectivity and report parse-tolerance telemetry
//	@Tags			system
//	@Produce		json
//	@Success		200	{object}	healthResponse
//	@Failure		503	{object}	healthResponse
//	@Router			/health [get]
func (h *healthRoutes) getHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:               "ok",
		Store:                "ok",
		ToleratedTokenParses: connector.TokenParseTolerated(),
	}

	status := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Store = err.Error()
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Errorf("Failed to marshal health response: %v", err)
	}
}
