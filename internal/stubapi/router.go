// Package stubapi is an in-memory stand-in for the hosted processing API.
// It serves the same four routes and is used by tests and the stub command.
package stubapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical-ai/spherical/libs/extractflow/internal/observability"
)

// Route keys accepted by Inject and Calls.
const (
	RouteInputData   = "input_data"
	RouteApplyPrompt = "apply_prompt"
	RouteReturnData  = "return_data"
	RouteObjects     = "objects"
)

const placeholder = "{input_data}"

// Options configures a Server.
type Options struct {
	Token  string
	Logger *observability.Logger
}

type injected struct {
	status int
	body   string
}

// Server holds the stub's objects and injected failures.
type Server struct {
	mu      sync.Mutex
	objects map[string]string
	prompts map[string]string
	pending map[string][]injected
	calls   map[string]int
	handler http.Handler
	logger  *observability.Logger
}

// New builds a Server with its router.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = observability.Nop()
	}

	s := &Server{
		objects: make(map[string]string),
		prompts: make(map[string]string),
		pending: make(map[string][]injected),
		calls:   make(map[string]int),
		logger:  logger.WithOperation("stub"),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(RequestLogger(s.logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "extractflow-stub"})
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(opts.Token))
		r.Post("/input_data", s.intercept(RouteInputData, s.handleInputData))
		r.Post("/apply_prompt", s.intercept(RouteApplyPrompt, s.handleApplyPrompt))
		r.Get("/return_data/{name}", s.intercept(RouteReturnData, s.handleReturnData))
		r.Delete("/objects/{name}", s.intercept(RouteObjects, s.handleDeleteObject))
	})

	s.handler = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Inject makes the next call to route answer with status and a raw body.
func (s *Server) Inject(route string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[route] = append(s.pending[route], injected{status: status, body: body})
}

// FailNext makes the next call to route answer with status and a JSON error.
func (s *Server) FailNext(route string, status int) {
	s.Inject(route, status, `{"error":"injected failure"}`)
}

// Objects returns a snapshot of stored object values by name.
func (s *Server) Objects() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.objects))
	for k, v := range s.objects {
		out[k] = v
	}
	return out
}

// Put stores an object directly.
func (s *Server) Put(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = value
}

// Prompt returns the resolved prompt that produced the named object.
func (s *Server) Prompt(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prompts[name]
	return p, ok
}

// Calls returns how many requests reached route, including injected ones.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

func (s *Server) intercept(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[route]++
		var inj *injected
		if queue := s.pending[route]; len(queue) > 0 {
			inj = &queue[0]
			s.pending[route] = queue[1:]
		}
		s.mu.Unlock()

		if inj != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(inj.status)
			_, _ = w.Write([]byte(inj.body))
			return
		}
		next(w, r)
	}
}

type inputDataRequest struct {
	CreatedObjectName string   `json:"created_object_name"`
	DataType          string   `json:"data_type"`
	InputData         []string `json:"input_data"`
}

func (s *Server) handleInputData(w http.ResponseWriter, r *http.Request) {
	var req inputDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.CreatedObjectName == "" {
		writeError(w, http.StatusBadRequest, "created_object_name is required")
		return
	}
	if req.DataType != "strings" {
		writeError(w, http.StatusBadRequest, "unsupported data_type")
		return
	}

	s.mu.Lock()
	s.objects[req.CreatedObjectName] = strings.Join(req.InputData, "\n")
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "success",
		"object_name": req.CreatedObjectName,
		"items":       len(req.InputData),
	})
}

type applyPromptRequest struct {
	CreatedObjectNames []string `json:"created_object_names"`
	PromptString       string   `json:"prompt_string"`
	Inputs             []struct {
		ObjectName     string `json:"object_name"`
		ProcessingMode string `json:"processing_mode"`
	} `json:"inputs"`
}

func (s *Server) handleApplyPrompt(w http.ResponseWriter, r *http.Request) {
	var req applyPromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.CreatedObjectNames) == 0 || len(req.Inputs) == 0 {
		writeError(w, http.StatusBadRequest, "created_object_names and inputs are required")
		return
	}
	if !strings.Contains(req.PromptString, placeholder) {
		writeError(w, http.StatusBadRequest, "prompt_string must reference "+placeholder)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var parts []string
	for _, in := range req.Inputs {
		value, ok := s.objects[in.ObjectName]
		if !ok {
			writeError(w, http.StatusNotFound, "unknown input object: "+in.ObjectName)
			return
		}
		parts = append(parts, value)
	}

	input := strings.Join(parts, "\n")
	result := extract(input)
	for _, name := range req.CreatedObjectNames {
		s.objects[name] = result
		s.prompts[name] = strings.ReplaceAll(req.PromptString, placeholder, input)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":               "success",
		"created_object_names": req.CreatedObjectNames,
	})
}

func (s *Server) handleReturnData(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	s.mu.Lock()
	value, ok := s.objects[name]
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "object not found: "+name)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"object_name": name,
		"text_value":  value,
	})
}

func (s *Server) handleDeleteObject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	s.mu.Lock()
	_, ok := s.objects[name]
	delete(s.objects, name)
	delete(s.prompts, name)
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "object not found: "+name)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "deleted",
		"object_name": name,
	})
}

// extract keeps the non-empty, trimmed lines of the combined input.
func extract(input string) string {
	var lines []string
	for _, line := range strings.Split(input, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
