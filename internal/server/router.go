package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/klaseapp/klase/backend/internal/auth"
	"github.com/klaseapp/klase/backend/internal/drafts"
	"github.com/klaseapp/klase/backend/internal/flags"
	"github.com/klaseapp/klase/backend/internal/kvstore"
	"github.com/klaseapp/klase/backend/internal/notifications"
	"github.com/klaseapp/klase/backend/internal/preferences"
	"go.uber.org/zap"
)

const scopeContextKey = "klase_scope"

var (
	errMissingValidator     = errors.New("session validator dependency required")
	errMissingDraftStore    = errors.New("draft store dependency required")
	errMissingPreferences   = errors.New("preferences store dependency required")
	errMissingReadMarks     = errors.New("read marks store dependency required")
	errMissingSavedStore    = errors.New("saved store dependency required")
	errMissingLastSeen      = errors.New("last seen store dependency required")
	errMissingNotifications = errors.New("notification service dependency required")
	errMissingDispatcher    = errors.New("notification dispatcher dependency required")
)

// SessionAuthenticator validates the session credential on a request.
type SessionAuthenticator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// Dependencies wires the workspace stores into the HTTP surface.
type Dependencies struct {
	Sessions      SessionAuthenticator
	Drafts        *drafts.Store
	AutosavePool  *AutosavePool
	Preferences   *preferences.Store
	ReadMarks     *flags.SetStore
	Saved         *flags.SavedStore
	LastSeen      *flags.LastSeenStore
	Notifications *notifications.Service
	Dispatcher    *notifications.Dispatcher
	Logger        *zap.Logger
}

// NewHTTPHandler assembles the gin router for the workspace API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errMissingValidator
	case deps.Drafts == nil:
		return nil, errMissingDraftStore
	case deps.Preferences == nil:
		return nil, errMissingPreferences
	case deps.ReadMarks == nil:
		return nil, errMissingReadMarks
	case deps.Saved == nil:
		return nil, errMissingSavedStore
	case deps.LastSeen == nil:
		return nil, errMissingLastSeen
	case deps.Notifications == nil:
		return nil, errMissingNotifications
	case deps.Dispatcher == nil:
		return nil, errMissingDispatcher
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		sessions:      deps.Sessions,
		drafts:        deps.Drafts,
		autosave:      deps.AutosavePool,
		preferences:   deps.Preferences,
		readMarks:     deps.ReadMarks,
		saved:         deps.Saved,
		lastSeen:      deps.LastSeen,
		notifications: deps.Notifications,
		dispatcher:    deps.Dispatcher,
		logger:        logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.GET("/workspace/drafts/:sessionID", handler.handleDraftLoad)
	protected.PUT("/workspace/drafts/:sessionID", handler.handleDraftSave)
	protected.DELETE("/workspace/drafts/:sessionID", handler.handleDraftDiscard)
	protected.POST("/workspace/drafts/:sessionID/autosave", handler.handleDraftAutosave)
	protected.POST("/workspace/drafts/:sessionID/diff", handler.handleDraftDiff)
	protected.POST("/workspace/cleanup", handler.handleDraftCleanup)

	protected.GET("/workspace/preferences", handler.handlePreferencesGet)
	protected.PUT("/workspace/preferences", handler.handlePreferencesSave)

	protected.GET("/workspace/templates", handler.handleTemplatesList)
	protected.POST("/workspace/templates", handler.handleTemplateCreate)
	protected.PATCH("/workspace/templates/:id", handler.handleTemplateUpdate)
	protected.DELETE("/workspace/templates/:id", handler.handleTemplateDelete)
	protected.POST("/workspace/templates/:id/use", handler.handleTemplateUse)

	protected.GET("/workspace/flags/:store", handler.handleFlagsList)
	protected.PUT("/workspace/flags/:store/:id", handler.handleFlagMark)
	protected.DELETE("/workspace/flags/:store/:id", handler.handleFlagUnmark)

	protected.GET("/workspace/last-seen/:feed", handler.handleLastSeenGet)
	protected.PUT("/workspace/last-seen/:feed", handler.handleLastSeenTouch)

	protected.GET("/notifications", handler.handleNotificationsList)
	protected.POST("/notifications/read", handler.handleNotificationsRead)
	protected.GET("/notifications/stream", handler.handleNotificationsStream)

	return router, nil
}

type httpHandler struct {
	sessions      SessionAuthenticator
	drafts        *drafts.Store
	autosave      *AutosavePool
	preferences   *preferences.Store
	readMarks     *flags.SetStore
	saved         *flags.SavedStore
	lastSeen      *flags.LastSeenStore
	notifications *notifications.Service
	dispatcher    *notifications.Dispatcher
	logger        *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	scope, err := kvstore.NewScope(claims.Tenant, claims.Role, claims.UserID)
	if err != nil {
		h.logger.Warn("session claims rejected", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(scopeContextKey, scope)
	c.Next()
}

func requestScope(c *gin.Context) kvstore.Scope {
	value, _ := c.Get(scopeContextKey)
	scope, _ := value.(kvstore.Scope)
	return scope
}

type draftPayload struct {
	Fields  drafts.ComposerFields `json:"fields"`
	SavedAt time.Time             `json:"saved_at,omitempty"`
}

func (h *httpHandler) handleDraftLoad(c *gin.Context) {
	record := h.drafts.Load(c.Request.Context(), requestScope(c), c.Param("sessionID"))
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "draft_not_found"})
		return
	}
	c.JSON(http.StatusOK, draftPayload{Fields: record.Fields, SavedAt: record.SavedAt})
}

func (h *httpHandler) handleDraftSave(c *gin.Context) {
	var request draftPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	saved := h.drafts.Save(c.Request.Context(), requestScope(c), c.Param("sessionID"), request.Fields)
	c.JSON(http.StatusOK, gin.H{"saved": saved})
}

func (h *httpHandler) handleDraftDiscard(c *gin.Context) {
	h.drafts.Discard(c.Request.Context(), requestScope(c), c.Param("sessionID"))
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleDraftAutosave(c *gin.Context) {
	if h.autosave == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "autosave_disabled"})
		return
	}
	var request draftPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.autosave.Queue(c.Request.Context(), requestScope(c), c.Param("sessionID"), request.Fields)
	c.Status(http.StatusAccepted)
}

func (h *httpHandler) handleDraftDiff(c *gin.Context) {
	var request draftPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	unsaved := h.drafts.HasUnsavedChanges(c.Request.Context(), requestScope(c), c.Param("sessionID"), request.Fields)
	c.JSON(http.StatusOK, gin.H{"unsaved_changes": unsaved})
}

func (h *httpHandler) handleDraftCleanup(c *gin.Context) {
	removed := h.drafts.CleanupOld(c.Request.Context(), requestScope(c))
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h *httpHandler) handlePreferencesGet(c *gin.Context) {
	prefs := h.preferences.GetComposerPreferences(c.Request.Context(), requestScope(c))
	c.JSON(http.StatusOK, prefs)
}

func (h *httpHandler) handlePreferencesSave(c *gin.Context) {
	var request preferences.ComposerPreferences
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.preferences.SaveComposerPreferences(c.Request.Context(), requestScope(c), request)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleTemplatesList(c *gin.Context) {
	templates := h.preferences.ListTemplates(c.Request.Context(), requestScope(c))
	if templates == nil {
		templates = []preferences.Template{}
	}
	c.JSON(http.StatusOK, gin.H{"templates": templates})
}

type templateCreatePayload struct {
	Name   string                `json:"name" binding:"required"`
	Fields drafts.ComposerFields `json:"fields"`
}

func (h *httpHandler) handleTemplateCreate(c *gin.Context) {
	var request templateCreatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	template, ok := h.preferences.SaveTemplate(c.Request.Context(), requestScope(c), request.Name, request.Fields)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "template_create_failed"})
		return
	}
	c.JSON(http.StatusCreated, template)
}

type templateUpdatePayload struct {
	Name   *string                `json:"name"`
	Fields *drafts.ComposerFields `json:"fields"`
}

func (h *httpHandler) handleTemplateUpdate(c *gin.Context) {
	var request templateUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	patch := preferences.TemplatePatch{Name: request.Name, Fields: request.Fields}
	if !h.preferences.UpdateTemplate(c.Request.Context(), requestScope(c), c.Param("id"), patch) {
		c.JSON(http.StatusNotFound, gin.H{"error": "template_not_found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleTemplateDelete(c *gin.Context) {
	if !h.preferences.DeleteTemplate(c.Request.Context(), requestScope(c), c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "template_not_found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleTemplateUse(c *gin.Context) {
	if !h.preferences.IncrementTemplateUsage(c.Request.Context(), requestScope(c), c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "template_not_found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleFlagsList(c *gin.Context) {
	scope := requestScope(c)
	ctx := c.Request.Context()
	switch c.Param("store") {
	case "read":
		ids := h.readMarks.All(ctx, scope)
		c.JSON(http.StatusOK, gin.H{"ids": ids, "count": len(ids)})
	case "saved":
		ids := h.saved.All(ctx, scope)
		c.JSON(http.StatusOK, gin.H{"ids": ids, "count": len(ids)})
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_flag_store"})
	}
}

func (h *httpHandler) handleFlagMark(c *gin.Context) {
	scope := requestScope(c)
	ctx := c.Request.Context()
	switch c.Param("store") {
	case "read":
		h.readMarks.Mark(ctx, scope, c.Param("id"))
	case "saved":
		h.saved.Save(ctx, scope, c.Param("id"))
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_flag_store"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleFlagUnmark(c *gin.Context) {
	scope := requestScope(c)
	ctx := c.Request.Context()
	switch c.Param("store") {
	case "read":
		h.readMarks.Unmark(ctx, scope, c.Param("id"))
	case "saved":
		h.saved.Unsave(ctx, scope, c.Param("id"))
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_flag_store"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleLastSeenGet(c *gin.Context) {
	instant, ok := h.lastSeen.LastSeen(c.Request.Context(), requestScope(c), c.Param("feed"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "feed_never_seen"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"last_seen": instant})
}

func (h *httpHandler) handleLastSeenTouch(c *gin.Context) {
	h.lastSeen.Touch(c.Request.Context(), requestScope(c), c.Param("feed"))
	c.Status(http.StatusNoContent)
}

type notificationPayload struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *httpHandler) handleNotificationsList(c *gin.Context) {
	scope := requestScope(c)
	ctx := c.Request.Context()

	limit, _ := strconv.Atoi(c.Query("limit"))
	rows, err := h.notifications.ListRecent(ctx, scope, limit)
	if err != nil {
		h.logger.Error("failed to list notifications", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	unread, err := h.notifications.UnreadCount(ctx, scope)
	if err != nil {
		h.logger.Error("failed to count unread notifications", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count_failed"})
		return
	}

	items := make([]notificationPayload, 0, len(rows))
	for _, row := range rows {
		items = append(items, notificationPayload{
			ID:        row.NotificationID,
			Type:      row.Type,
			Title:     row.Title,
			Body:      row.Body,
			Read:      row.IsRead,
			CreatedAt: time.Unix(row.CreatedAtSeconds, 0).UTC(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "unread_count": unread})
}

type markReadPayload struct {
	IDs []string `json:"ids" binding:"required"`
}

func (h *httpHandler) handleNotificationsRead(c *gin.Context) {
	var request markReadPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.notifications.MarkRead(c.Request.Context(), requestScope(c), request.IDs); err != nil {
		h.logger.Error("failed to mark notifications read", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "mark_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}
