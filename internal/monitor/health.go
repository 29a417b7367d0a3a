package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/mExOms/venueprobe/internal/venue"
	"github.com/mExOms/venueprobe/pkg/types"
)

// HealthStatus represents the health of one venue or of the whole run.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// VenueHealth is the health of a single adapter.
type VenueHealth struct {
	Name       string       `json:"name"`
	Status     HealthStatus `json:"status"`
	Connection string       `json:"connection,omitempty"`
	OpenOrders int          `json:"open_orders"`
}

// SystemHealth is the /health response body.
type SystemHealth struct {
	Status    HealthStatus  `json:"status"`
	Venues    []VenueHealth `json:"venues"`
	Uptime    string        `json:"uptime"`
	Timestamp time.Time     `json:"timestamp"`
}

// StatusServer exposes /health, /stats and /metrics over HTTP.
type StatusServer struct {
	adapters  []venue.Adapter
	metrics   *Metrics
	router    *mux.Router
	server    *http.Server
	startTime time.Time
	logger    *logrus.Entry
}

func NewStatusServer(adapters []venue.Adapter, metrics *Metrics) *StatusServer {
	s := &StatusServer{
		adapters:  adapters,
		metrics:   metrics,
		router:    mux.NewRouter(),
		startTime: time.Now(),
		logger:    logrus.WithField("component", "status"),
	}
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	if metrics != nil {
		s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}
	return s
}

// Handler returns the router.
func (s *StatusServer) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves in the background. It returns the bound
// address, which differs from addr when the port is 0.
func (s *StatusServer) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("Status server stopped")
		}
	}()
	s.logger.WithField("addr", ln.Addr().String()).Info("Status server listening")
	return ln.Addr().String(), nil
}

func (s *StatusServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Health evaluates every adapter. A disconnected persistent connection makes
// the run unhealthy; one that is connecting or recovering makes it degraded.
func (s *StatusServer) Health() SystemHealth {
	h := SystemHealth{
		Status:    HealthStatusHealthy,
		Uptime:    time.Since(s.startTime).Truncate(time.Second).String(),
		Timestamp: time.Now(),
	}
	for _, a := range s.adapters {
		vh := VenueHealth{Name: a.Name(), Status: HealthStatusHealthy, OpenOrders: a.Ledger().Len()}
		if cr, ok := a.(venue.ConnectionReporter); ok {
			st := cr.ConnectionState()
			vh.Connection = st.String()
			switch st {
			case types.StateConnected:
			case types.StateDisconnected:
				vh.Status = HealthStatusUnhealthy
			default:
				vh.Status = HealthStatusDegraded
			}
		}
		h.Venues = append(h.Venues, vh)
		h.Status = worse(h.Status, vh.Status)
	}
	return h
}

func worse(a, b HealthStatus) HealthStatus {
	rank := map[HealthStatus]int{HealthStatusHealthy: 0, HealthStatusDegraded: 1, HealthStatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.Health()
	code := http.StatusOK
	if h.Status == HealthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}

func (s *StatusServer) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Rows(s.adapters))
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
