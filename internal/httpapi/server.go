package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"macagent/internal/eventloop"
	"macagent/internal/logging"
	"macagent/internal/match"
	"macagent/internal/rcon"
	"macagent/internal/settingsstore"
)

// requestQueueSize bounds how many in-flight HTTP requests may wait on the
// loop at once (§4.L/§5); when the queue is full a handler does not wait
// but answers 503 "request queue full" at once, so memory never grows
// without bound.
const requestQueueSize = 24

// requestTimeout bounds how long an HTTP handler waits for the loop to
// reply before giving up with a 504.
const requestTimeout = 5 * time.Second

// Server exposes spec.md's §6 HTTP+SSE surface. It never touches
// match.State directly: every handler builds a WebRequestMsg, sends it
// into the loop, and blocks on the message's own reply channel.
type Server struct {
	log *logging.Logger

	hub    *sseHub
	queue  chan eventloop.Message
	webDir string

	playerlist  *settingsstore.Playerlist
	prefs       *settingsstore.Preferences
	rconManager *rcon.Manager
}

// Options configures a Server.
type Options struct {
	Log         *logging.Logger
	Playerlist  *settingsstore.Playerlist
	Prefs       *settingsstore.Preferences
	RCONManager *rcon.Manager
	WebDir      string
}

// NewServer constructs a Server and its SSE hub. Call Source to register
// the request queue with an eventloop.Loop, Handler to register the
// command-issuing/SSE-fanout handler, and Mux to obtain the HTTP routes.
func NewServer(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = logging.L()
	}
	return &Server{
		log:         log,
		hub:         newSSEHub(),
		queue:       make(chan eventloop.Message, requestQueueSize),
		webDir:      opts.WebDir,
		playerlist:  opts.Playerlist,
		prefs:       opts.Prefs,
		rconManager: opts.RCONManager,
	}
}

// Handler returns the eventloop.Handler[match.State] that issues RCON
// commands for POST /mac/commands/v1 and fans console/demo events out
// over SSE. Register it alongside Source on the same loop.
func (s *Server) Handler() eventloop.Handler[match.State] {
	return NewHandler(s.hub)
}

// Source returns the eventloop.Source draining HTTP-originated requests
// into the loop.
func (s *Server) Source() eventloop.Source {
	return &requestSource{queue: s.queue}
}

type requestSource struct {
	queue chan eventloop.Message
}

func (*requestSource) Name() string { return "httpapi-requests" }

func (r *requestSource) Poll() []eventloop.Message {
	var batch []eventloop.Message
	for {
		select {
		case msg := <-r.queue:
			batch = append(batch, msg)
		default:
			return batch
		}
	}
}

// Mux builds the *http.ServeMux serving every §6 endpoint plus, if WebDir
// was set, the static UI under /ui/.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/mac/game/v1", s.withCORS(s.handleGame))
	mux.HandleFunc("/mac/user/v1", s.withCORS(s.handleUser))
	mux.HandleFunc("/mac/pref/v1", s.withCORS(s.handlePrefs))
	mux.HandleFunc("/mac/history/v1", s.withCORS(s.handleHistory))
	mux.HandleFunc("/mac/playerlist/v1", s.withCORS(s.handlePlayerlist))
	mux.HandleFunc("/mac/commands/v1", s.withCORS(s.handleCommands))
	mux.HandleFunc("/mac/game/events/v1", s.withCORS(s.hub.ServeHTTP))
	if s.webDir != "" {
		mux.Handle("/ui/", http.StripPrefix("/ui/", http.FileServer(http.Dir(s.webDir))))
	}
	return mux
}

func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: message})
}

// dispatch sends msg into the loop and waits for its reply, translating a
// full queue or a timed-out wait into the matching HTTP status.
func (s *Server) dispatch(w http.ResponseWriter, msg WebRequestMsg) {
	msg.Reply = make(chan webResponse, 1)
	msg.Playerlist = s.playerlist
	msg.Prefs = s.prefs
	msg.RCONManager = s.rconManager
	msg.Log = s.log

	select {
	case s.queue <- msg:
	default:
		writeError(w, http.StatusServiceUnavailable, "request queue full")
		return
	}

	select {
	case resp := <-msg.Reply:
		writeJSON(w, resp.status, resp.body)
	case <-time.After(requestTimeout):
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	}
}

func (s *Server) handleGame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.dispatch(w, WebRequestMsg{Op: opGetGame})
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var body struct {
			Users []match.SteamID `json:"users"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		s.dispatch(w, WebRequestMsg{Op: opPostUser, Users: body.Users})

	case http.MethodPut:
		var body map[match.SteamID]UserUpdate
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		s.dispatch(w, WebRequestMsg{Op: opPutUser, UserUpdates: body})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handlePrefs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.dispatch(w, WebRequestMsg{Op: opGetPrefs})

	case http.MethodPut:
		var body PreferencesUpdate
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		s.dispatch(w, WebRequestMsg{Op: opPutPrefs, PrefsUpdate: &body})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	from, to := parsePagination(r)
	s.dispatch(w, WebRequestMsg{Op: opGetHistory, HistoryFrom: from, HistoryTo: to})
}

// parsePagination reads ?from=&to= query params, defaulting to {0, 100}
// per §6, ignoring unparseable values rather than rejecting the request.
func parsePagination(r *http.Request) (int, int) {
	from, to := 0, 100
	if v := r.URL.Query().Get("from"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			from = n
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			to = n
		}
	}
	return from, to
}

func (s *Server) handlePlayerlist(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.dispatch(w, WebRequestMsg{Op: opGetPlayerlist})
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	raw, err := readAll(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	cmds, err := decodeCommands(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.dispatch(w, WebRequestMsg{Op: opPostCommands, Commands: cmds})
}

func readAll(r *http.Request) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}
