package checkin

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	checkinService "github.com/cheqin-app/backend/internal/service/checkin"
	"github.com/cheqin-app/backend/internal/service/realtime"
	"github.com/cheqin-app/backend/pkg/utils"
)

// Handler 健康打卡会话的HTTP处理器。
type Handler struct {
	sessions *checkinService.Service
}

// New 创建打卡处理器。
func New(sessions *checkinService.Service) *Handler {
	return &Handler{sessions: sessions}
}

// RegisterRoutes 注册打卡相关的路由。
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/checkin", func(r chi.Router) {
		r.Post("/session", h.handleStartSession)
		r.Post("/session/{sessionID}/stop", h.handleStopSession)
		r.Get("/session/{sessionID}", h.handleGetSession)
		r.Get("/session/{sessionID}/events", h.handleSessionEvents)
		r.Get("/history", h.handleHistory)
	})
}

type startSessionRequest struct {
	CompanionID string `json:"companionId"`
}

// handleStartSession 开启一次新的打卡会话。同一时刻只允许一个会话。
func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	snapshot, err := h.sessions.StartSession(r.Context(), req.CompanionID)
	if err != nil {
		h.respondStartError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, snapshot)
}

func (h *Handler) respondStartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, realtime.ErrSessionActive):
		utils.RespondError(w, http.StatusConflict, "a check-in session is already running")
	case errors.Is(err, checkinService.ErrCompanionNotFound):
		utils.RespondError(w, http.StatusNotFound, "companion not found")
	case errors.Is(err, realtime.ErrDeviceUnavailable):
		utils.RespondError(w, http.StatusServiceUnavailable, "audio device unavailable")
	case errors.Is(err, realtime.ErrCredentialRejected),
		errors.Is(err, realtime.ErrCredential),
		errors.Is(err, realtime.ErrNegotiationFailed):
		log.Printf("[checkin] session setup failed: %v", err)
		utils.RespondError(w, http.StatusBadGateway, "could not reach the voice service")
	default:
		log.Printf("[checkin] session start failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to start check-in")
	}
}

// handleStopSession 请求优雅结束并返回最终的打卡记录。
func (h *Handler) handleStopSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	snapshot, err := h.sessions.StopSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, checkinService.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		log.Printf("[checkin] stop session %s failed: %v", sessionID, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to stop session")
		return
	}
	utils.RespondJSON(w, http.StatusOK, snapshot)
}

// handleGetSession 返回会话的当前状态（进行中）或最终记录（已结束）。
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	snapshot, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, checkinService.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	utils.RespondJSON(w, http.StatusOK, snapshot)
}

// sseEvent SSE下发的事件载荷,音频帧不走SSE,只推文本与状态。
type sseEvent struct {
	Kind  string `json:"kind"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleSessionEvents 把会话事件以SSE推给前端,连接保持到会话结束。
func (h *Handler) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, cancel, err := h.sessions.Subscribe(sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	defer cancel()

	utils.SetupSSEHeaders(w)
	log.Printf("[checkin] sse stream opened for session=%s", sessionID)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[checkin] sse stream closed by client for session=%s", sessionID)
			return
		case ev, open := <-events:
			if !open {
				utils.SendSSEEvent(w, flusher, "end", sseEvent{Kind: "end"})
				return
			}
			if ev.Kind == realtime.EventAssistantAudio {
				continue
			}
			payload := sseEvent{Kind: string(ev.Kind), Text: ev.Text}
			if ev.Err != nil {
				payload.Error = ev.Err.Error()
			}
			utils.SendSSEEvent(w, flusher, string(ev.Kind), payload)
		}
	}
}

// handleHistory 返回全部历史打卡记录,新的在前。
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.sessions.History(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	utils.RespondJSON(w, http.StatusOK, records)
}
