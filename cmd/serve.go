package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cloisterhq/warden/internal/logging"
	"github.com/cloisterhq/warden/internal/state"
)

// statusResponse is the read-only payload the dashboard consumes.
// No mutation capability is exposed here; only the CLI mutates.
type statusResponse struct {
	Mode              string `json:"mode"`
	ProtectedSubnetV4 string `json:"protected_subnet_v4,omitempty"`
	ProtectedSubnetV6 string `json:"protected_subnet_v6,omitempty"`
	DMZSubnet         string `json:"dmz_subnet,omitempty"`
	LastChanged       string `json:"last_changed,omitempty"`
	RulesV4           int    `json:"ipv4_rules"`
	RulesV6           int    `json:"ipv6_rules"`
	RulesDMZ          int    `json:"dmz_rules"`
}

// RunServe exposes the read-only status endpoint and Prometheus metrics
// for the dashboard and monitoring collaborators.
func RunServe(configPath string) error {
	if err := requireRoot(); err != nil {
		return err
	}

	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	log := logging.WithComponent("serve")

	registry := prometheus.NewRegistry()
	modeGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "warden_mode",
		Help: "Current enforcement mode (0=unknown, 1=connected, 2=sovereign).",
	})
	rulesGauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "warden_rules",
		Help: "Live warden-owned rule count per group.",
	}, []string{"group"})
	lastChanged := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "warden_last_changed_timestamp_seconds",
		Help: "Unix time of the last state transition.",
	})
	registry.MustRegister(modeGauge, rulesGauge, lastChanged)

	snapshot := func() (*statusResponse, error) {
		st, err := a.store.Read()
		if err != nil {
			return nil, err
		}
		resp := &statusResponse{
			Mode:              string(st.Mode),
			ProtectedSubnetV4: st.ProtectedSubnetV4,
			ProtectedSubnetV6: st.ProtectedSubnetV6,
			DMZSubnet:         st.DMZSubnet,
		}
		if !st.LastChanged.IsZero() {
			resp.LastChanged = st.LastChanged.UTC().Format(time.RFC3339)
		}
		if counts, err := a.eng.Counts(context.Background()); err == nil {
			resp.RulesV4, resp.RulesV6, resp.RulesDMZ = counts.V4, counts.V6, counts.DMZ
		}

		modeGauge.Set(modeValue(st.Mode))
		rulesGauge.WithLabelValues("ipv4").Set(float64(resp.RulesV4))
		rulesGauge.WithLabelValues("ipv6").Set(float64(resp.RulesV6))
		rulesGauge.WithLabelValues("dmz").Set(float64(resp.RulesDMZ))
		if !st.LastChanged.IsZero() {
			lastChanged.Set(float64(st.LastChanged.Unix()))
		}
		return resp, nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/firewall/status", func(w http.ResponseWriter, r *http.Request) {
		resp, err := snapshot()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	promHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		if _, err := snapshot(); err != nil {
			log.Warn("metrics refresh failed", "error", err)
		}
		promHandler.ServeHTTP(w, r)
	})

	srv := &http.Server{
		Addr:         a.cfg.StatusListen,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	log.Info("status endpoint listening", "addr", a.cfg.StatusListen)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

func modeValue(m state.Mode) float64 {
	switch m {
	case state.ModeConnected:
		return 1
	case state.ModeSovereign:
		return 2
	default:
		return 0
	}
}
