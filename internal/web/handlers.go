package web

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"time"

	"github.com/cjeanneret/SmartStepper/internal/config"
	"github.com/cjeanneret/SmartStepper/internal/debug"
	"github.com/cjeanneret/SmartStepper/internal/logic/command"
	"github.com/cjeanneret/SmartStepper/internal/logic/motion"
)

// MaxBodyBytes caps request bodies on the command endpoints.
const MaxBodyBytes = 1 << 20

const defaultHeartbeat = 30 * time.Second

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Session     *motion.Session
	Config      *config.Config
	Broadcaster *StatusBroadcaster
	staticFS    fs.FS
	heartbeat   time.Duration
}

// NewHandlers creates handlers with the given dependencies. broadcaster may
// be nil, in which case motor events are not published.
func NewHandlers(session *motion.Session, cfg *config.Config, broadcaster *StatusBroadcaster, staticFS fs.FS) *Handlers {
	if broadcaster == nil {
		broadcaster = NewStatusBroadcaster()
	}
	return &Handlers{
		Session:     session,
		Config:      cfg,
		Broadcaster: broadcaster,
		staticFS:    staticFS,
		heartbeat:   defaultHeartbeat,
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Warn("web: encode response: %v", err)
	}
}

// readBody reads at most MaxBodyBytes. Oversized bodies are reported as a
// validation error on the body field.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &command.ValidationError{Field: command.FieldBody, Reason: "request body too large"}
		}
		return nil, &command.ValidationError{Field: command.FieldBody, Reason: err.Error()}
	}
	return data, nil
}

func (h *Handlers) publish(action string, resp command.Response) {
	h.Broadcaster.MotorEvent(action, resp)
	if resp.Status == command.StatusError {
		debug.Warn("%s: %s", action, resp.Message)
		return
	}
	debug.Live("%s: %s", action, resp.Message)
}

// HandleLayout returns the form layout as JSON.
func (h *Handlers) HandleLayout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, BuildLayout(h.Config))
}

// HandleInit handles POST /api/init.
func (h *Handlers) HandleInit(w http.ResponseWriter, r *http.Request) {
	resp := h.initialize(w, r)
	h.publish("init", resp)
	writeJSON(w, resp)
}

func (h *Handlers) initialize(w http.ResponseWriter, r *http.Request) command.Response {
	body, err := readBody(w, r)
	if err != nil {
		return command.InitResponse(motion.InitReport{}, err)
	}
	cmd, err := command.TranslateInit(body, h.Config)
	if err != nil {
		return command.InitResponse(motion.InitReport{}, err)
	}
	debug.Verbose("init command: %+v", cmd)
	return command.InitResponse(h.Session.Initialize(cmd.Request()))
}

// HandleControl handles POST /api/control.
func (h *Handlers) HandleControl(w http.ResponseWriter, r *http.Request) {
	resp := h.control(w, r)
	h.publish("control", resp)
	writeJSON(w, resp)
}

func (h *Handlers) control(w http.ResponseWriter, r *http.Request) command.Response {
	body, err := readBody(w, r)
	if err != nil {
		return command.MoveResponse(motion.MoveReport{}, err)
	}
	cmd, err := command.TranslateMove(body, h.Config)
	if err != nil {
		return command.MoveResponse(motion.MoveReport{}, err)
	}
	debug.Verbose("move command: %d steps %s at %g RPM", cmd.Steps, cmd.Direction, cmd.SpeedRPM)
	return command.MoveResponse(h.Session.Move(cmd.Request()))
}

// HandleStatus handles GET /api/status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, command.TranslateStatus().Execute(h.Session))
}

// HandleStop handles POST /api/stop.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	resp := command.TranslateStop().Execute(h.Session)
	h.publish("stop", resp)
	writeJSON(w, resp)
}

// HandlePreflight answers CORS preflight requests.
func (h *Handlers) HandlePreflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// ServeIndex serves the control page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleStatusStream handles GET /api/events for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// withCORS allows any origin to drive the API.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		hdr.Set("Access-Control-Allow-Origin", "*")
		hdr.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		hdr.Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}
