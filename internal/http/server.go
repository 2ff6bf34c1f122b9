package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"contentforge/internal/analytics"
	"contentforge/internal/config"
	"contentforge/internal/crypto"
	"contentforge/internal/domain"
	"contentforge/internal/orchestrator"
	"contentforge/internal/storage"
	"contentforge/internal/telemetry"
)

// Server is the HTTP API server
type Server struct {
	config     *config.Config
	service    *orchestrator.Service
	store      storage.Store
	analytics  *analytics.Aggregator
	encryption *crypto.EncryptionService
	mux        *http.ServeMux
}

// NewServer creates the API server and wires its routes
func NewServer(
	cfg *config.Config,
	service *orchestrator.Service,
	store storage.Store,
	agg *analytics.Aggregator,
	enc *crypto.EncryptionService,
) *Server {
	s := &Server{
		config:     cfg,
		service:    service,
		store:      store,
		analytics:  agg,
		encryption: enc,
		mux:        http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Generation
	s.mux.HandleFunc("POST /v1/generate", s.handleGenerate)

	// Generation tree
	s.mux.HandleFunc("GET /v1/nodes/{id}", s.handleGetNode)
	s.mux.HandleFunc("GET /v1/tree/{rootID}", s.handleGetTree)
	s.mux.HandleFunc("POST /v1/nodes/{id}/select", s.handleSelectNode)
	s.mux.HandleFunc("DELETE /v1/nodes/{id}", s.handleDeleteNode)
	s.mux.HandleFunc("PUT /v1/nodes/{id}/image-prompts", s.handleReplaceImagePrompts)

	// Provider management
	s.mux.HandleFunc("GET /v1/providers", s.handleListProviders)
	s.mux.HandleFunc("PUT /v1/providers/{provider}", s.handleUpsertProvider)
	s.mux.HandleFunc("DELETE /v1/providers/{provider}", s.handleDeleteProvider)
	s.mux.HandleFunc("POST /v1/providers/{provider}/test", s.handleTestProvider)

	// Analytics
	s.mux.HandleFunc("GET /v1/analytics/usage", s.handleUsageStats)
	s.mux.HandleFunc("GET /v1/analytics/rollups", s.handleRollups)

	// Reference data
	s.mux.HandleFunc("GET /v1/style-guides", s.handleListStyleGuides)
	s.mux.HandleFunc("POST /v1/style-guides", s.handleCreateStyleGuide)
	s.mux.HandleFunc("PUT /v1/style-guides/{id}", s.handleUpdateStyleGuide)
	s.mux.HandleFunc("DELETE /v1/style-guides/{id}", s.handleDeleteStyleGuide)
	s.mux.HandleFunc("GET /v1/templates", s.handleListTemplates)
	s.mux.HandleFunc("POST /v1/templates", s.handleCreateTemplate)
	s.mux.HandleFunc("GET /v1/characters", s.handleListCharacters)
	s.mux.HandleFunc("POST /v1/characters", s.handleCreateCharacter)
	s.mux.HandleFunc("GET /v1/reference-images", s.handleListReferenceImages)
	s.mux.HandleFunc("POST /v1/reference-images", s.handleCreateReferenceImage)

	// Infrastructure
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ready", s.handleReady)
	s.mux.Handle("GET /metrics", telemetry.Handler())
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// =============================================================================
// Generation
// =============================================================================

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	params := &orchestrator.Params{
		Task:              domain.TaskType(req.Task),
		Mode:              domain.GenerationMode(req.Mode),
		Prompt:            req.Prompt,
		Vertical:          req.Vertical,
		Preferred:         domain.Provider(req.Provider),
		ParentID:          req.ParentID,
		OutputCount:       req.OutputCount,
		Size:              req.Size,
		Quality:           req.Quality,
		Style:             req.Style,
		Settings:          domain.GenerationSettings{Temperature: req.Temperature, MaxTokens: req.MaxTokens},
		StyleGuideIDs:     req.StyleGuideIDs,
		AdditionalContext: req.AdditionalContext,
	}

	if req.Stream {
		s.handleGenerateStream(w, r, params)
		return
	}

	// Multi-vertical requests run the pipeline once per vertical and merge
	// the nodes; provider and model report the last run.
	verticals := req.Verticals
	if len(verticals) == 0 {
		verticals = []string{req.Vertical}
	}

	resp := &GenerateResponse{}
	for _, vertical := range verticals {
		p := *params
		p.Vertical = vertical
		result, err := s.service.Generate(r.Context(), &p)
		if err != nil {
			if len(resp.Nodes) > 0 {
				slog.Error("multi-vertical generation partially failed",
					"task", params.Task, "vertical", vertical, "error", err)
			}
			s.writeServiceError(w, err)
			return
		}
		resp.Nodes = append(resp.Nodes, result.Nodes...)
		resp.Provider = result.Provider
		resp.Model = result.Model
		resp.DurationMS += result.DurationMS
	}

	s.writeData(w, http.StatusOK, resp)
}

func (s *Server) handleGenerateStream(w http.ResponseWriter, r *http.Request, params *orchestrator.Params) {
	chunks, err := s.service.GenerateStream(r.Context(), params)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "server_error", "streaming not supported")
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Now().Add(30 * time.Minute)); err != nil {
		slog.Warn("failed to extend write deadline for stream", "error", err)
	}

	for chunk := range chunks {
		data, _ := json.Marshal(chunk)
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
		if chunk.Done || chunk.Error != "" {
			break
		}
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// =============================================================================
// Generation Tree
// =============================================================================

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	detail, err := s.store.GetNode(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, detail)
}

func (s *Server) handleGetTree(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.store.GetTree(r.Context(), r.PathValue("rootID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, nodes)
}

func (s *Server) handleSelectNode(w http.ResponseWriter, r *http.Request) {
	var req SelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.RootID == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "root_id is required")
		return
	}

	if err := s.store.SetSelected(r.Context(), r.PathValue("id"), req.RootID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, map[string]string{"selected": r.PathValue("id")})
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	if err := s.store.SoftDelete(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, map[string]string{"deleted": r.PathValue("id")})
}

func (s *Server) handleReplaceImagePrompts(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("id")

	var req ImagePromptsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if _, err := s.store.GetNode(r.Context(), nodeID); err != nil {
		s.writeServiceError(w, err)
		return
	}

	prompts := make([]*domain.ImagePrompt, 0, len(req.Prompts))
	for i, p := range req.Prompts {
		if p.OriginalText == "" {
			s.writeError(w, http.StatusBadRequest, "invalid_request", "original_text is required on every prompt")
			return
		}
		final := p.OriginalText
		if p.EditedText != "" {
			final = p.EditedText
		}
		prompts = append(prompts, &domain.ImagePrompt{
			ID:           uuid.NewString(),
			NodeID:       nodeID,
			OriginalText: p.OriginalText,
			EditedText:   p.EditedText,
			FinalText:    final,
			Position:     i,
			Type:         p.Type,
			CreatedAt:    time.Now().UTC(),
		})
	}

	if err := s.store.ClearImagePrompts(r.Context(), nodeID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	if err := s.store.CreateImagePrompts(r.Context(), prompts); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, prompts)
}

// =============================================================================
// Provider Management
// =============================================================================

// handleListProviders returns sanitized views only; key material never
// crosses this boundary.
func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	creds, err := s.store.ListCredentials(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	views := make([]domain.CredentialView, 0, len(creds))
	for _, c := range creds {
		views = append(views, c.View())
	}
	s.writeData(w, http.StatusOK, views)
}

func (s *Server) handleUpsertProvider(w http.ResponseWriter, r *http.Request) {
	p, ok := domain.ParseProvider(r.PathValue("provider"))
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "unknown provider")
		return
	}

	var req ProviderUpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	cred, err := s.store.GetCredential(r.Context(), p)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.writeServiceError(w, err)
			return
		}
		cred = &domain.ProviderCredential{Provider: p, Active: true}
	}

	if req.APIKey != nil {
		if *req.APIKey == "" {
			cred.EncryptedKey = ""
			cred.Salt = ""
		} else {
			ciphertext, salt, err := s.encryption.Encrypt(*req.APIKey)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			cred.EncryptedKey = ciphertext
			cred.Salt = salt
			// A fresh key has no test history
			cred.LastTestedAt = nil
			cred.LastTestOK = nil
		}
	}
	cred.DefaultModel = req.DefaultModel
	cred.FallbackModel = req.FallbackModel
	cred.ModelOverrides = req.ModelOverrides
	cred.MonthlyBudget = req.MonthlyBudget
	if req.Active != nil {
		cred.Active = *req.Active
	}

	if err := s.store.UpsertCredential(r.Context(), cred); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, cred.View())
}

func (s *Server) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	p, ok := domain.ParseProvider(r.PathValue("provider"))
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "unknown provider")
		return
	}
	if err := s.store.DeleteCredential(r.Context(), p); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, map[string]string{"deleted": string(p)})
}

func (s *Server) handleTestProvider(w http.ResponseWriter, r *http.Request) {
	p, ok := domain.ParseProvider(r.PathValue("provider"))
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "unknown provider")
		return
	}

	ok, err := s.service.TestCredential(r.Context(), p)
	resp := TestResponse{Provider: p, OK: ok}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.writeServiceError(w, err)
			return
		}
		resp.Message = err.Error()
	}
	s.writeData(w, http.StatusOK, resp)
}

// =============================================================================
// Analytics
// =============================================================================

func (s *Server) handleUsageStats(w http.ResponseWriter, r *http.Request) {
	timeframe, ok := parseTimeframe(r.URL.Query().Get("timeframe"))
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "timeframe must be day, week, or month")
		return
	}

	stats, err := s.analytics.UsageStats(r.Context(), timeframe)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, stats)
}

func (s *Server) handleRollups(w http.ResponseWriter, r *http.Request) {
	timeframe, ok := parseTimeframe(r.URL.Query().Get("timeframe"))
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "timeframe must be day, week, or month")
		return
	}

	rows, err := s.analytics.Analytics(r.Context(), timeframe)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, rows)
}

func parseTimeframe(v string) (domain.Timeframe, bool) {
	switch v {
	case "", "week":
		return domain.TimeframeWeek, true
	case "day":
		return domain.TimeframeDay, true
	case "month":
		return domain.TimeframeMonth, true
	default:
		return "", false
	}
}

// =============================================================================
// Reference Data
// =============================================================================

func (s *Server) handleListStyleGuides(w http.ResponseWriter, r *http.Request) {
	guides, err := s.store.ListStyleGuides(r.Context(), r.URL.Query().Get("vertical"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, guides)
}

func (s *Server) handleCreateStyleGuide(w http.ResponseWriter, r *http.Request) {
	var req StyleGuideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Name == "" || req.Content == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "name and content are required")
		return
	}

	guide := &domain.StyleGuide{
		ID:       uuid.NewString(),
		Name:     req.Name,
		Vertical: req.Vertical,
		Content:  req.Content,
		Active:   true,
	}
	if req.Active != nil {
		guide.Active = *req.Active
	}

	if err := s.store.CreateStyleGuide(r.Context(), guide); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeData(w, http.StatusCreated, guide)
}

func (s *Server) handleUpdateStyleGuide(w http.ResponseWriter, r *http.Request) {
	var req StyleGuideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	guide := &domain.StyleGuide{
		ID:       r.PathValue("id"),
		Name:     req.Name,
		Vertical: req.Vertical,
		Content:  req.Content,
		Active:   true,
	}
	if req.Active != nil {
		guide.Active = *req.Active
	}

	if err := s.store.UpdateStyleGuide(r.Context(), guide); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, guide)
}

func (s *Server) handleDeleteStyleGuide(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteStyleGuide(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, map[string]string{"deleted": r.PathValue("id")})
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.store.ListTemplates(r.Context(), domain.TaskType(r.URL.Query().Get("task")))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, templates)
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Name == "" || req.TaskType == "" || req.Template == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "name, task_type, and template are required")
		return
	}

	tmpl := &domain.ContextTemplate{
		ID:       uuid.NewString(),
		Name:     req.Name,
		TaskType: domain.TaskType(req.TaskType),
		Template: req.Template,
		Active:   true,
	}
	if err := s.store.CreateTemplate(r.Context(), tmpl); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeData(w, http.StatusCreated, tmpl)
}

func (s *Server) handleListCharacters(w http.ResponseWriter, r *http.Request) {
	characters, err := s.store.ListCharacters(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, characters)
}

func (s *Server) handleCreateCharacter(w http.ResponseWriter, r *http.Request) {
	var req CharacterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}

	ch := &domain.Character{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		ImageURL:    req.ImageURL,
		Active:      true,
	}
	if err := s.store.CreateCharacter(r.Context(), ch); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeData(w, http.StatusCreated, ch)
}

func (s *Server) handleListReferenceImages(w http.ResponseWriter, r *http.Request) {
	images, err := s.store.ListReferenceImages(r.Context(), r.URL.Query().Get("vertical"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, images)
}

func (s *Server) handleCreateReferenceImage(w http.ResponseWriter, r *http.Request) {
	var req ReferenceImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Name == "" || req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "name and url are required")
		return
	}

	img := &domain.ReferenceImage{
		ID:       uuid.NewString(),
		Name:     req.Name,
		URL:      req.URL,
		Vertical: req.Vertical,
		Active:   true,
	}
	if err := s.store.CreateReferenceImage(r.Context(), img); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeData(w, http.StatusCreated, img)
}

// =============================================================================
// Infrastructure
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, http.StatusOK, map[string]string{"status": "ready"})
}

// =============================================================================
// Helpers
// =============================================================================

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeData(w http.ResponseWriter, status int, data any) {
	s.writeJSON(w, status, Response{Success: true, Data: data})
}

func (s *Server) writeError(w http.ResponseWriter, status int, errType, message string) {
	s.writeJSON(w, status, Response{
		Success: false,
		Error:   &ErrorDetail{Type: errType, Message: message},
	})
}

// writeServiceError maps domain errors onto HTTP status codes
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		s.writeJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Error:   &ErrorDetail{Type: "invalid_request", Message: ve.Message, Field: ve.Field},
		})
		return
	}

	var noProvider *domain.NoProviderAvailableError
	if errors.As(err, &noProvider) {
		s.writeError(w, http.StatusServiceUnavailable, "no_provider_available", err.Error())
		return
	}

	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		status := http.StatusInternalServerError
		if pe.IsRateLimited() {
			status = http.StatusTooManyRequests
		}
		s.writeError(w, status, "provider_error", err.Error())
		return
	}

	if errors.Is(err, domain.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}

	slog.Error("request failed", "error", err)
	s.writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
}
