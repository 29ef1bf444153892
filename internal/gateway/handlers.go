package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/haasonsaas/relay/internal/config"
	"github.com/haasonsaas/relay/internal/errdefs"
	"github.com/haasonsaas/relay/internal/hooks"
	"github.com/haasonsaas/relay/internal/logs"
	"github.com/haasonsaas/relay/internal/process"
	"github.com/haasonsaas/relay/pkg/models"
)

// Version is stamped by the build; "dev" otherwise.
var Version = "dev"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "relay",
		"version": Version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
		"pid":       os.Getpid(),
		"uptime":    time.Since(startTime).Round(time.Second).String(),
	})
}

var startTime = time.Now()

// handleCountTokens estimates the prompt size of a request without
// forwarding it anywhere.
func (s *Server) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	var req models.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errdefs.Wrap(errdefs.ValidationError, "malformed request body", err))
		return
	}
	if len(req.Messages) == 0 {
		s.writeError(w, errdefs.New(errdefs.ValidationError, "messages must not be empty"))
		return
	}
	count := s.counter.CountRequest(&req)
	if s.metrics != nil {
		s.metrics.TokensCounted.WithLabelValues("input").Add(float64(count))
	}
	writeJSON(w, http.StatusOK, models.CountTokensResponse{InputTokens: count})
}

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg)
}

// handleConfigSet validates and persists a full replacement config. The
// running process keeps its current wiring; callers restart to apply.
func (s *Server) handleConfigSet(w http.ResponseWriter, r *http.Request) {
	var next config.Config
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		s.writeError(w, errdefs.Wrap(errdefs.ValidationError, "malformed config body", err))
		return
	}
	if s.cfgPath == "" {
		s.writeError(w, errdefs.New(errdefs.ValidationError, "gateway running without a config file"))
		return
	}
	if err := config.Save(s.cfgPath, &next); err != nil {
		s.writeError(w, errdefs.Wrap(errdefs.ValidationError, "persist config", err))
		return
	}
	s.logger.Info("config saved, restart to apply", "path", s.cfgPath)
	writeJSON(w, http.StatusOK, map[string]any{"saved": true, "restart_required": true})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"restarting": true})
	if s.restart != nil {
		s.restart()
		return
	}
	process.ScheduleRestart(500*time.Millisecond, s.logger)
}

// handleLogsList lists log files, or reads one when the ?file= query form
// is used.
func (s *Server) handleLogsList(w http.ResponseWriter, r *http.Request) {
	if name := r.URL.Query().Get("file"); name != "" {
		s.readLogFile(w, r, name)
		return
	}
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []logs.FileInfo{})
		return
	}
	files, err := s.logs.List()
	if err != nil {
		s.writeError(w, errdefs.Wrap(errdefs.InternalError, "list logs", err))
		return
	}
	if files == nil {
		files = []logs.FileInfo{}
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleLogsRead(w http.ResponseWriter, r *http.Request) {
	s.readLogFile(w, r, r.PathValue("name"))
}

func (s *Server) readLogFile(w http.ResponseWriter, r *http.Request, name string) {
	if s.logs == nil {
		http.NotFound(w, r)
		return
	}
	data, err := s.logs.Read(name)
	if err != nil {
		s.writeLogsError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(data)
}

func (s *Server) handleLogsDelete(w http.ResponseWriter, r *http.Request) {
	s.deleteLogFile(w, r, r.PathValue("name"))
}

func (s *Server) deleteLogFile(w http.ResponseWriter, r *http.Request, name string) {
	if s.logs == nil {
		http.NotFound(w, r)
		return
	}
	if err := s.logs.Delete(name); err != nil {
		s.writeLogsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// handleLogsDeleteRoot deletes one file named by ?file=, or every log file
// when no name is given. The query form is checked first so a scoped
// delete can never fan out.
func (s *Server) handleLogsDeleteRoot(w http.ResponseWriter, r *http.Request) {
	if name := r.URL.Query().Get("file"); name != "" {
		s.deleteLogFile(w, r, name)
		return
	}
	if s.logs == nil {
		writeJSON(w, http.StatusOK, map[string]int{"deleted": 0})
		return
	}
	n, err := s.logs.DeleteAll()
	if err != nil {
		s.writeError(w, errdefs.Wrap(errdefs.InternalError, "delete logs", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *Server) writeLogsError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, logs.ErrInvalidName):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid log file name"})
	case os.IsNotExist(err):
		http.NotFound(w, r)
	default:
		s.writeError(w, errdefs.Wrap(errdefs.InternalError, "log file access", err))
	}
}

func (s *Server) handlePluginsList(w http.ResponseWriter, r *http.Request) {
	if s.plugins == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	type pluginView struct {
		Name        string    `json:"name"`
		Version     string    `json:"version"`
		Description string    `json:"description,omitempty"`
		Enabled     bool      `json:"enabled"`
		LoadedAt    time.Time `json:"loaded_at"`
		MissingDeps []string  `json:"missing_deps,omitempty"`
		Hooks       int       `json:"hooks"`
		Skills      int       `json:"skills"`
	}
	var out []pluginView
	for _, p := range s.plugins.List() {
		out = append(out, pluginView{
			Name:        p.Manifest.Name,
			Version:     p.Manifest.Version,
			Description: p.Manifest.Description,
			Enabled:     p.Enabled,
			LoadedAt:    p.LoadedAt,
			MissingDeps: p.MissingDeps,
			Hooks:       len(p.Manifest.Hooks),
			Skills:      len(p.Manifest.Skills),
		})
	}
	if out == nil {
		out = []pluginView{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) setPluginEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	if s.plugins == nil {
		http.NotFound(w, r)
		return
	}
	name := r.PathValue("name")
	var err error
	if enabled {
		err = s.plugins.Enable(name)
	} else {
		err = s.plugins.Disable(name)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "enabled": enabled})
}

func (s *Server) handlePluginEnable(w http.ResponseWriter, r *http.Request) {
	s.setPluginEnabled(w, r, true)
}

func (s *Server) handlePluginDisable(w http.ResponseWriter, r *http.Request) {
	s.setPluginEnabled(w, r, false)
}

func (s *Server) handleHooksList(w http.ResponseWriter, r *http.Request) {
	if s.hooks == nil {
		writeJSON(w, http.StatusOK, map[string][]hooks.Registration{})
		return
	}
	out := make(map[string][]hooks.Registration)
	for _, ev := range hooks.EventTypes() {
		regs := s.hooks.List(ev)
		if len(regs) > 0 {
			out[string(ev)] = regs
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHookEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, hooks.EventTypes())
}

func (s *Server) handleSkillsList(w http.ResponseWriter, r *http.Request) {
	if s.skills == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	type skillView struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Trigger     string `json:"trigger"`
		Source      string `json:"source,omitempty"`
	}
	var out []skillView
	for _, sk := range s.skills.List() {
		out = append(out, skillView{
			Name:        sk.Name,
			Description: sk.Description,
			Trigger:     sk.Trigger.String(),
			Source:      sk.Source,
		})
	}
	if out == nil {
		out = []skillView{}
	}
	writeJSON(w, http.StatusOK, out)
}
