package panelkit

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/julienschmidt/httprouter"
)

const statusHttpTimeoutsMs = 3000

// EnergyWindow is one accumulation window in the status report.
type EnergyWindow struct {
	ImportKwh float64 `json:"import_kwh"`
	ExportKwh float64 `json:"export_kwh"`
}

// BoardEnergy carries the last fetched totals of both windows.
type BoardEnergy struct {
	Today EnergyWindow `json:"today"`
	Month EnergyWindow `json:"month"`
}

// BoardStatus is the health and snapshot view of one managed switchboard.
// Power and Energy stay absent until the respective poller has succeeded once.
type BoardStatus struct {
	Serial            string       `json:"serial"`
	SiteID            string       `json:"site_id,omitempty"`
	Name              string       `json:"name"`
	Model             string       `json:"model"`
	Connected         bool         `json:"connected"`
	Subcircuits       int          `json:"subcircuits"`
	PowerW            *float64     `json:"power_w,omitempty"`
	Energy            *BoardEnergy `json:"energy,omitempty"`
	LiveOk            bool         `json:"live_ok"`
	LiveLastSuccess   *time.Time   `json:"live_last_success,omitempty"`
	LiveError         string       `json:"live_error,omitempty"`
	EnergyOk          bool         `json:"energy_ok"`
	EnergyLastSuccess *time.Time   `json:"energy_last_success,omitempty"`
	EnergyError       string       `json:"energy_error,omitempty"`
}

// StatusSummary is the overview served at /status.
type StatusSummary struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`
	Boards    int       `json:"boards"`
	Rebuilds  int       `json:"rebuilds"`
}

type statusProvider interface {
	StatusSummary() StatusSummary
	BoardStatuses() []BoardStatus
}

// StatusServer is a small read-only HTTP surface for checking poller health
// without reaching for the logs.
type StatusServer struct {
	Addr string

	source statusProvider
	server *http.Server
	log    *log.Logger

	serverErr chan error
}

func NewStatusServer(addr string, source statusProvider) *StatusServer {
	return &StatusServer{
		Addr:   addr,
		source: source,
		log: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "status: ",
			Level:  log.GetLevel(),
		}),
	}
}

func (ss *StatusServer) router() http.Handler {
	handler := httprouter.New()
	handler.GET("/status", ss.handleStatus)
	handler.GET("/boards", ss.handleBoards)
	handler.GET("/boards/:serial", ss.handleBoard)

	return handler
}

func (ss *StatusServer) Start() error {
	httpTimeout := statusHttpTimeoutsMs * time.Millisecond

	ss.server = &http.Server{
		Addr:              ss.Addr,
		Handler:           ss.router(),
		ReadTimeout:       httpTimeout,
		ReadHeaderTimeout: httpTimeout,
		WriteTimeout:      httpTimeout,
		IdleTimeout:       2 * httpTimeout,
	}

	ss.serverErr = make(chan error, 1)
	go func() {
		err := ss.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			ss.log.Error("status server stopped", "error", err)
		}
		ss.serverErr <- err
	}()

	ss.log.Info("status server listening", "addr", ss.Addr)
	return nil
}

func (ss *StatusServer) Close() error {
	if ss.server == nil {
		return nil
	}
	return ss.server.Close()
}

func (ss *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ss.writeJson(w, ss.source.StatusSummary())
}

func (ss *StatusServer) handleBoards(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ss.writeJson(w, ss.source.BoardStatuses())
}

func (ss *StatusServer) handleBoard(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	serial := p.ByName("serial")
	for _, board := range ss.source.BoardStatuses() {
		if board.Serial == serial {
			ss.writeJson(w, board)
			return
		}
	}

	http.Error(w, "board not found", http.StatusNotFound)
}

func (ss *StatusServer) writeJson(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		ss.log.Warn("failed to write response", "error", err)
	}
}
