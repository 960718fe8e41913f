// flclient is a reference federated-learning client: it polls
// coordinatord the way a real training worker would, driving itself
// through rendezvous, heartbeat, start_training and end_training
// without ever knowing about rounds or population counters — those
// belong entirely to the server side. Grounded on the hospital
// repo's client_simulator.go: a plain HTTP polling loop, standalone
// runnable, no client-side framework.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"time"
)

type rendezvousResponse struct {
	Decision string `json:"decision"`
}

type heartbeatResponse struct {
	Decision string `json:"decision"`
	Round    uint32 `json:"round,omitempty"`
}

func main() {
	baseURL := flag.String("server", "http://localhost:8080", "coordinatord base URL")
	campaignID := flag.String("campaign", "demo", "campaign to join")
	clientID := flag.String("client", fmt.Sprintf("client-%d", rand.Intn(100000)), "this client's ID")
	token := flag.String("token", "", "bearer token issued for this campaign")
	dataSize := flag.Int("data-size", 100, "local dataset size reported with each contribution")
	flag.Parse()

	c := &client{
		baseURL:    *baseURL,
		campaignID: *campaignID,
		clientID:   *clientID,
		token:      *token,
		dataSize:   *dataSize,
		http:       &http.Client{Timeout: 10 * time.Second},
	}

	log.Printf("flclient: %s joining campaign %s at %s", c.clientID, c.campaignID, c.baseURL)
	c.run()
}

type client struct {
	baseURL    string
	campaignID string
	clientID   string
	token      string
	dataSize   int
	http       *http.Client
}

func (c *client) run() {
	resp, err := c.rendezvous()
	if err != nil {
		log.Fatalf("flclient: rendezvous: %v", err)
	}
	log.Printf("flclient: rendezvous decision: %s", resp.Decision)

	for {
		hb, err := c.heartbeat()
		if err != nil {
			log.Printf("flclient: heartbeat error: %v, retrying", err)
			time.Sleep(2 * time.Second)
			continue
		}

		switch hb.Decision {
		case "Reject":
			log.Println("flclient: rejected by coordinator, re-joining")
			if _, err := c.rendezvous(); err != nil {
				log.Printf("flclient: re-rendezvous failed: %v", err)
			}
		case "StandBy":
			log.Println("flclient: standing by, not yet selected")
		case "Round":
			log.Printf("flclient: selected for round %d", hb.Round)
			c.trainAndReport(hb.Round)
		case "Finish":
			log.Println("flclient: training complete, exiting")
			return
		}

		time.Sleep(2 * time.Second)
	}
}

func (c *client) trainAndReport(round uint32) {
	if accepted, err := c.startTraining(); err != nil || !accepted {
		log.Printf("flclient: start_training rejected or failed: %v", err)
		return
	}

	log.Printf("flclient: training locally on %d examples for round %d", c.dataSize, round)
	weights := simulateLocalTraining()

	if err := c.endTraining(true, weights); err != nil {
		log.Printf("flclient: end_training failed: %v", err)
	}
}

// simulateLocalTraining stands in for a real training step: flat
// weight vector, last element the bias term (matching the reference
// client's FlatWeights convention).
func simulateLocalTraining() []float64 {
	return []float64{rand.Float64(), rand.Float64(), rand.Float64()}
}

func (c *client) rendezvous() (rendezvousResponse, error) {
	var out rendezvousResponse
	err := c.post("/rendezvous", map[string]string{"client_id": c.clientID}, &out)
	return out, err
}

func (c *client) heartbeat() (heartbeatResponse, error) {
	var out heartbeatResponse
	err := c.post("/heartbeat", map[string]string{"client_id": c.clientID}, &out)
	return out, err
}

func (c *client) startTraining() (bool, error) {
	var out rendezvousResponse
	if err := c.post("/start_training", map[string]string{"client_id": c.clientID}, &out); err != nil {
		return false, err
	}
	return out.Decision == "Accept", nil
}

func (c *client) endTraining(success bool, weights []float64) error {
	body := map[string]interface{}{
		"client_id": c.clientID,
		"success":   success,
	}
	if success {
		body["weights"] = weights
		body["data_size"] = c.dataSize
	}
	return c.post("/end_training", body, nil)
}

func (c *client) post(path string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Campaign-ID", c.campaignID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: HTTP %d: %s", path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
