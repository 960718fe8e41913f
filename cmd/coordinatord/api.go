package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/gorilla/websocket"

	"github.com/fedcoord/coordinator/internal/aggregator"
	"github.com/fedcoord/coordinator/internal/coordinator"
	"github.com/fedcoord/coordinator/internal/dashboard"
	"github.com/fedcoord/coordinator/internal/host"
	"github.com/fedcoord/coordinator/internal/idempotency"
	"github.com/fedcoord/coordinator/internal/middleware"
)

// API holds the dependencies the coordinatord HTTP surface needs.
type API struct {
	campaigns  *host.Manager
	idem       *idempotency.Store
	wsUpgrader websocket.Upgrader
}

// NewAPI builds an API bound to campaigns.
func NewAPI(campaigns *host.Manager, idem *idempotency.Store) *API {
	return &API{
		campaigns: campaigns,
		idem:      idem,
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

type createCampaignRequest struct {
	CampaignID        string  `json:"campaign_id"`
	Rounds            uint32  `json:"rounds"`
	ParticipantsRatio float64 `json:"participants_ratio"`
	MinClients        uint32  `json:"min_clients"`
}

func (a *API) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	settings := coordinator.Settings{
		Rounds:            req.Rounds,
		ParticipantsRatio: req.ParticipantsRatio,
		MinClients:        req.MinClients,
	}
	if _, err := a.campaigns.CreateCampaign(req.CampaignID, settings); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

type clientRequest struct {
	ClientID string `json:"client_id"`
}

// clientRateLimitKey extracts the (campaign, client) pair a rate-limit
// bucket is keyed on. The campaign ID comes straight off the header
// CampaignMiddleware also reads; the client ID lives in the JSON body,
// so the body is buffered and restored the same way withIdempotency
// does, leaving it intact for the downstream handler's own decode.
func clientRateLimitKey(r *http.Request) (campaignID, clientID string) {
	campaignID = r.Header.Get("X-Campaign-ID")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return campaignID, ""
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	var req clientRequest
	_ = json.Unmarshal(body, &req)
	return campaignID, req.ClientID
}

func (a *API) loopForRequest(w http.ResponseWriter, r *http.Request) (*host.Loop, bool) {
	campaignID, ok := middleware.CampaignFromContext(r.Context())
	if !ok {
		http.Error(w, "missing campaign context", http.StatusBadRequest)
		return nil, false
	}
	loop, ok := a.campaigns.Loop(campaignID)
	if !ok {
		http.Error(w, "unknown campaign "+campaignID, http.StatusNotFound)
		return nil, false
	}
	return loop, true
}

func (a *API) handleRendezVous(w http.ResponseWriter, r *http.Request) {
	loop, ok := a.loopForRequest(w, r)
	if !ok {
		return
	}
	var req clientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := loop.RendezVous(r.Context(), req.ClientID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"decision": resp.String()})
}

func (a *API) handleHeartBeat(w http.ResponseWriter, r *http.Request) {
	loop, ok := a.loopForRequest(w, r)
	if !ok {
		return
	}
	var req clientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := loop.HeartBeat(r.Context(), req.ClientID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	payload := map[string]interface{}{"decision": resp.String()}
	if resp.Kind() == coordinator.HeartBeatRound {
		payload["round"] = resp.Round()
	}
	writeJSON(w, payload)
}

func (a *API) handleStartTraining(w http.ResponseWriter, r *http.Request) {
	loop, ok := a.loopForRequest(w, r)
	if !ok {
		return
	}
	var req clientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := loop.StartTraining(r.Context(), req.ClientID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"decision": resp.String()})
}

type endTrainingRequest struct {
	ClientID string    `json:"client_id"`
	Success  bool      `json:"success"`
	Weights  []float64 `json:"weights,omitempty"`
	DataSize int       `json:"data_size,omitempty"`
}

func (a *API) handleEndTraining(w http.ResponseWriter, r *http.Request) {
	loop, ok := a.loopForRequest(w, r)
	if !ok {
		return
	}
	var req endTrainingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.Success && len(req.Weights) > 0 {
		loop.SubmitContribution(aggregator.Contribution{
			ClientID: req.ClientID,
			Weights:  req.Weights,
			DataSize: req.DataSize,
		})
	}

	if err := loop.EndTraining(r.Context(), req.ClientID, req.Success); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDashboardStream(hub *dashboard.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaignID, ok := middleware.CampaignFromContext(r.Context())
		if !ok {
			http.Error(w, "missing campaign context", http.StatusBadRequest)
			return
		}
		conn, err := a.wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(conn, campaignID)
	}
}

// withIdempotency replays a handler's prior response when the caller
// supplies an X-Idempotency-Key already seen, instead of re-applying
// the request to the campaign's driver. Grounded on the teacher's
// api.withIdempotency: buffer the handler's response via httptest,
// cache it once, replay the cached bytes on a repeat.
func (a *API) withIdempotency(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Idempotency-Key")
		if key == "" {
			next(w, r)
			return
		}

		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		r.Body.Close()

		resp, replayed, err := a.idem.Remember(r.Context(), key, func() (idempotency.Response, error) {
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			rec := httptest.NewRecorder()
			next(rec, r)

			headers := make(map[string]string, len(rec.Header()))
			for k := range rec.Header() {
				headers[k] = rec.Header().Get(k)
			}
			return idempotency.Response{
				StatusCode: rec.Code,
				Body:       rec.Body.Bytes(),
				Headers:    headers,
			}, nil
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		if replayed {
			w.Header().Set("X-Idempotent-Replay", "true")
		}
		w.WriteHeader(resp.StatusCode)
		w.Write(resp.Body)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
