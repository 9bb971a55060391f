package http

import (
	"net/http"

	"lessonlive/internal/core/domain"
	"lessonlive/internal/core/ports"
	"lessonlive/internal/infrastructure/middleware"
	"lessonlive/pkg/errors"
	"lessonlive/pkg/validation"

	"github.com/gin-gonic/gin"
)

type RoomHandler struct {
	coord ports.Coordinator
}

func NewRoomHandler(coord ports.Coordinator) *RoomHandler {
	return &RoomHandler{coord: coord}
}

// RegisterRoutes expects AuthMiddleware on the group.
func (h *RoomHandler) RegisterRoutes(api *gin.RouterGroup) {
	rooms := api.Group("/rooms")
	{
		rooms.POST("", h.CreateRoom)
		rooms.GET("/:id", h.GetRoom)
		rooms.DELETE("/:id", h.TeardownRoom)
		rooms.GET("/:id/roster", h.GetRoster)
		rooms.GET("/:id/admission", h.CheckAdmission)
		rooms.GET("/:id/note", h.GetNote)
		rooms.POST("/:id/moderation", h.Moderate)
		rooms.GET("/:id/moderation", h.ListModeration)
		rooms.DELETE("/:id/kicks/:identity", h.ClearKick)
		rooms.DELETE("/:id/bans/:identity", middleware.AdminOnly(), h.LiftBan)
	}
}

type CreateRoomRequest struct {
	ID               domain.RoomID     `json:"id" binding:"required"`
	Kind             domain.RoomKind   `json:"kind"`
	ParticipantLimit int               `json:"participant_limit"`
	Hosts            []domain.Identity `json:"hosts"`
}

func roomParam(c *gin.Context) (domain.RoomID, bool) {
	id := c.Param("id")
	if err := validation.ValidateRoomID(id); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return "", false
	}
	return domain.RoomID(id), true
}

func identityParam(c *gin.Context) (domain.Identity, bool) {
	id := c.Param("identity")
	if err := validation.ValidateIdentity(id); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return "", false
	}
	return domain.Identity(id), true
}

// CreateRoom registers a room. The caller always becomes one of its hosts.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := validation.ValidateRoomID(string(req.ID)); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateParticipantLimit(req.ParticipantLimit); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	switch req.Kind {
	case "", domain.RoomKindLiveSession, domain.RoomKindOfficeHours:
	default:
		_ = c.Error(errors.NewInvalidInputError("unknown room kind"))
		return
	}

	caller := middleware.Identity(c)
	hosts := []domain.Identity{caller}
	for _, host := range req.Hosts {
		if err := validation.ValidateIdentity(string(host)); err != nil {
			_ = c.Error(errors.NewInvalidInputError(err.Error()))
			return
		}
		if host != caller {
			hosts = append(hosts, host)
		}
	}

	room, err := h.coord.CreateRoom(c.Request.Context(), &domain.Room{
		ID:               req.ID,
		Kind:             req.Kind,
		ParticipantLimit: req.ParticipantLimit,
		CreatedBy:        caller,
	}, hosts)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room": room, "hosts": hosts})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	room, err := h.coord.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

func (h *RoomHandler) GetRoster(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	roster, err := h.coord.GetRoster(c.Request.Context(), roomID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "participants": roster})
}

// CheckAdmission answers for the caller. Admins may ask about any identity.
func (h *RoomHandler) CheckAdmission(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	identity := middleware.Identity(c)
	if other := c.Query("identity"); other != "" && middleware.IsAdmin(c) {
		if err := validation.ValidateIdentity(other); err != nil {
			_ = c.Error(errors.NewInvalidInputError(err.Error()))
			return
		}
		identity = domain.Identity(other)
	}

	adm, err := h.coord.CheckAdmission(c.Request.Context(), roomID, identity)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, adm)
}

func (h *RoomHandler) GetNote(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	doc, err := h.coord.GetNote(c.Request.Context(), roomID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *RoomHandler) Moderate(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	var req domain.ModerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := validation.ValidateIdentity(string(req.Target)); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateReason(req.Reason); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	if err := h.coord.Moderate(c.Request.Context(), roomID, middleware.Identity(c), req); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RoomHandler) ListModeration(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	records, err := h.coord.ListModeration(c.Request.Context(), roomID, middleware.Identity(c), middleware.IsAdmin(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "records": records})
}

func (h *RoomHandler) ClearKick(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	target, ok := identityParam(c)
	if !ok {
		return
	}
	if err := h.coord.ClearKick(c.Request.Context(), roomID, target, middleware.Identity(c), middleware.IsAdmin(c)); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RoomHandler) LiftBan(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	target, ok := identityParam(c)
	if !ok {
		return
	}
	if err := h.coord.LiftBan(c.Request.Context(), roomID, target); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RoomHandler) TeardownRoom(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	if err := h.coord.TeardownRoom(c.Request.Context(), roomID, middleware.Identity(c), middleware.IsAdmin(c)); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
