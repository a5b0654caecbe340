// Package server implements the REST + WebSocket surface over a running
// Epicenter: GET /, GET /openapi, POST|GET /workspaces/{id}/{action}, and
// WS /sync/{workspace}. Grounded on the teacher's pkg/api/server.go +
// health.go mux/handler-registration idiom (stripped of gRPC/mTLS, which
// spec.md drops in favor of REST+WebSocket), applied here to
// github.com/go-chi/chi/v5 and github.com/gorilla/websocket.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/epicenterlabs/epicenter/pkg/action"
	"github.com/epicenterlabs/epicenter/pkg/epicenter"
	"github.com/epicenterlabs/epicenter/pkg/epierr"
	"github.com/epicenterlabs/epicenter/pkg/field"
	"github.com/epicenterlabs/epicenter/pkg/log"
	"github.com/epicenterlabs/epicenter/pkg/metrics"
	"github.com/epicenterlabs/epicenter/pkg/provider"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Server hosts the HTTP/WebSocket surface for one Epicenter.
type Server struct {
	ep     *epicenter.Epicenter
	router chi.Router
	logger zerolog.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// New builds a Server routing against ep's workspaces.
func New(ep *epicenter.Epicenter) *Server {
	s := &Server{ep: ep, logger: log.WithComponent("server")}
	r := chi.NewRouter()
	r.Get("/", s.handleRoot)
	r.Get("/openapi", s.handleOpenAPI)
	r.Handle("/metrics", metrics.Handler())
	r.Post("/workspaces/{workspace}/{action}", s.handleInvoke)
	r.Get("/workspaces/{workspace}/{action}", s.handleInvoke)
	r.Get("/sync/{workspace}", s.handleSync)
	s.router = r
	return s
}

// Handler returns the http.Handler to pass to http.ListenAndServe.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	ids := make([]string, 0)
	for _, ws := range s.ep.Workspaces() {
		ids = append(ids, ws.ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"workspaces": ids,
	})
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspace")
	actionName := chi.URLParam(r, "action")

	ws := s.ep.Workspace(workspaceID)
	if ws == nil {
		writeJSON(w, http.StatusNotFound, resultDTO{Ok: false, Error: &errorDTO{Code: string(epierr.CodeRowNotFound), Message: "workspace not found"}})
		return
	}
	a, ok := ws.Actions()[actionName]
	if !ok {
		writeJSON(w, http.StatusNotFound, resultDTO{Ok: false, Error: &errorDTO{Code: string(epierr.CodeRowNotFound), Message: "action not found"}})
		return
	}

	var input map[string]any
	if r.Method == http.MethodPost {
		input = map[string]any{}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
				writeJSON(w, http.StatusBadRequest, resultDTO{Ok: false, Error: &errorDTO{Code: string(epierr.CodeValidationFailed), Message: "malformed JSON body"}})
				return
			}
		}
	} else {
		input = inputFromQuery(r, a.Describe())
	}

	res := a.Invoke(r.Context(), ws.Context(), input)
	if res.IsOk() {
		writeJSON(w, http.StatusOK, resultDTO{Ok: true, Value: res.Unwrap()})
		return
	}
	writeJSON(w, httpStatusFor(res.Error().Code), toDTO(res.Error()))
}

// handleSync upgrades the connection and wires it as a sync provider
// against the workspace's live document, so remote updates apply through
// the same Observer Bus path as a local write.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspace")
	ws := s.ep.Workspace(workspaceID)
	if ws == nil {
		http.Error(w, "workspace not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("workspace", workspaceID).Msg("sync upgrade failed")
		return
	}

	sp := provider.NewSync(workspaceID, conn)
	if err := sp.Attach(ws.Document()); err != nil {
		s.logger.Error().Err(err).Str("workspace", workspaceID).Msg("sync attach failed")
		conn.Close()
	}
}

func inputFromQuery(r *http.Request, d action.Describe) map[string]any {
	input := map[string]any{}
	q := r.URL.Query()
	for _, f := range d.Fields {
		v := q.Get(f.Name)
		if v == "" {
			continue
		}
		switch f.Kind {
		case string(field.KindInteger):
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				input[f.Name] = n
				continue
			}
		case string(field.KindBoolean):
			if b, err := strconv.ParseBool(v); err == nil {
				input[f.Name] = b
				continue
			}
		case string(field.KindTags):
			input[f.Name] = q[f.Name]
			continue
		}
		input[f.Name] = v
	}
	return input
}

func httpStatusFor(code epierr.Code) int {
	switch code {
	case epierr.CodeRowNotFound:
		return http.StatusNotFound
	case epierr.CodeValidationFailed, epierr.CodeBadID, epierr.CodeBadDateFormat, epierr.CodeMissingRequired, epierr.CodeNotInOptions:
		return http.StatusBadRequest
	case epierr.CodeIDConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type resultDTO struct {
	Ok    bool      `json:"ok"`
	Value any       `json:"value,omitempty"`
	Error *errorDTO `json:"error,omitempty"`
}

type errorDTO struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

func toDTO(e *epierr.Error) resultDTO {
	return resultDTO{Ok: false, Error: &errorDTO{Code: string(e.Code), Message: e.Message, Context: e.Context}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
