package http

import (
	"net/http"
	"time"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/services"
	"voicelink/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// EngineHandler exposes the conferencing engine over the local control API.
type EngineHandler struct {
	engine *services.Engine
	logger *zap.SugaredLogger
}

func NewEngineHandler(engine *services.Engine, logger *zap.SugaredLogger) *EngineHandler {
	return &EngineHandler{engine: engine, logger: logger}
}

// RegisterRoutes mounts the engine routes on the given group.
func (h *EngineHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/room/join", h.JoinRoom)
	r.POST("/room/leave", h.LeaveRoom)
	r.GET("/room", h.RoomStatus)

	r.GET("/sessions", h.Sessions)
	r.PUT("/peers/:id/volume", h.SetPeerVolume)
	r.PUT("/peers/:id/mute", h.SetPeerLocalMute)

	r.GET("/media", h.MediaState)
	r.POST("/media/mute", h.SetMuted)
	r.POST("/media/deafen", h.SetDeafened)
	r.POST("/media/camera", h.Camera)
	r.POST("/media/screenshare", h.ScreenShare)
	r.POST("/media/audio-device", h.SwitchAudioDevice)
	r.POST("/media/key", h.HandleKey)
	r.PUT("/media/detection", h.SetDetection)

	r.PUT("/volume/master", h.SetMasterVolume)
	r.PUT("/volume/attenuation", h.SetAttenuation)

	r.GET("/devices", h.Devices)
	r.PUT("/devices/preferred", h.SetPreferredDevice)
	r.POST("/devices/:id/test", h.TestDevice)

	r.GET("/quality", h.Quality)
}

type joinRoomRequest struct {
	RoomID      string `json:"room_id" binding:"required"`
	UserID      string `json:"user_id" binding:"required"`
	DisplayName string `json:"display_name"`
}

func (h *EngineHandler) JoinRoom(c *gin.Context) {
	var req joinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.UserID
	}
	if err := validation.ValidateRoomID(req.RoomID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidateUserID(req.UserID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidateDisplayName(req.DisplayName); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.engine.JoinRoom(c.Request.Context(), domain.RoomID(req.RoomID), domain.UserID(req.UserID), req.DisplayName); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": req.RoomID, "user_id": req.UserID})
}

func (h *EngineHandler) LeaveRoom(c *gin.Context) {
	if err := h.engine.LeaveRoom(c.Request.Context()); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"left": true})
}

func (h *EngineHandler) RoomStatus(c *gin.Context) {
	members := make([]gin.H, 0)
	for userID, name := range h.engine.Members() {
		members = append(members, gin.H{"user_id": string(userID), "display_name": name})
	}
	c.JSON(http.StatusOK, gin.H{
		"joined":  h.engine.Joined(),
		"room_id": string(h.engine.CurrentRoom()),
		"members": members,
	})
}

type sessionResponse struct {
	UserID       string    `json:"user_id"`
	DisplayName  string    `json:"display_name"`
	State        string    `json:"state"`
	RetryCount   int       `json:"retry_count"`
	LastAttempt  time.Time `json:"last_attempt"`
	Volume       float64   `json:"volume"`
	LocallyMuted bool      `json:"locally_muted"`
	Quality      string    `json:"quality"`
	LossRate     float64   `json:"loss_rate"`
	JitterMs     int64     `json:"jitter_ms"`
}

func (h *EngineHandler) Sessions(c *gin.Context) {
	sessions := h.engine.Sessions()
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionResponse{
			UserID:       string(s.UserID),
			DisplayName:  s.DisplayName,
			State:        string(s.State),
			RetryCount:   s.RetryCount,
			LastAttempt:  s.LastAttempt,
			Volume:       s.AudioSinkVolume,
			LocallyMuted: s.LocallyMuted,
			Quality:      string(s.Quality.Classification),
			LossRate:     s.Quality.LossRate,
			JitterMs:     s.Quality.Jitter.Milliseconds(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

type volumeRequest struct {
	Volume *float64 `json:"volume" binding:"required"`
}

func (h *EngineHandler) SetPeerVolume(c *gin.Context) {
	var req volumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.engine.SetPeerVolume(domain.UserID(c.Param("id")), *req.Volume); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": c.Param("id"), "volume": *req.Volume})
}

type muteRequest struct {
	Muted *bool `json:"muted" binding:"required"`
}

func (h *EngineHandler) SetPeerLocalMute(c *gin.Context) {
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.engine.SetPeerLocalMute(domain.UserID(c.Param("id")), *req.Muted); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": c.Param("id"), "muted": *req.Muted})
}

func (h *EngineHandler) MediaState(c *gin.Context) {
	state := h.engine.MediaState()
	c.JSON(http.StatusOK, gin.H{
		"muted":        state.Muted,
		"deafened":     state.Deafened,
		"video_source": string(state.VideoSource),
		"screen_audio": state.ScreenAudio,
		"audio_device": string(state.AudioDevice),
		"speaking":     state.Speaking,
		"video_rung":   state.CurrentRung.Name,
	})
}

func (h *EngineHandler) SetMuted(c *gin.Context) {
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.engine.SetMuted(*req.Muted)
	c.JSON(http.StatusOK, gin.H{"muted": *req.Muted})
}

type deafenRequest struct {
	Deafened *bool `json:"deafened" binding:"required"`
}

func (h *EngineHandler) SetDeafened(c *gin.Context) {
	var req deafenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.engine.SetDeafened(*req.Deafened)
	c.JSON(http.StatusOK, gin.H{"deafened": *req.Deafened})
}

type cameraRequest struct {
	Enabled  *bool  `json:"enabled" binding:"required"`
	DeviceID string `json:"device_id"`
}

func (h *EngineHandler) Camera(c *gin.Context) {
	var req cameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if *req.Enabled {
		if err := h.engine.EnableCamera(c.Request.Context(), domain.DeviceID(req.DeviceID)); err != nil {
			c.Error(err)
			return
		}
	} else {
		h.engine.DisableCamera()
	}
	c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled})
}

type screenShareRequest struct {
	Enabled      *bool `json:"enabled" binding:"required"`
	CaptureAudio bool  `json:"capture_audio"`
}

func (h *EngineHandler) ScreenShare(c *gin.Context) {
	var req screenShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if *req.Enabled {
		if err := h.engine.EnableScreenShare(c.Request.Context(), req.CaptureAudio); err != nil {
			c.Error(err)
			return
		}
	} else {
		h.engine.DisableScreenShare()
	}
	c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled})
}

type audioDeviceRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
}

func (h *EngineHandler) SwitchAudioDevice(c *gin.Context) {
	var req audioDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidateDeviceID(req.DeviceID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.engine.SwitchAudioDevice(c.Request.Context(), domain.DeviceID(req.DeviceID)); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"device_id": req.DeviceID})
}

type keyEventRequest struct {
	Key       string   `json:"key" binding:"required"`
	Modifiers []string `json:"modifiers"`
	Pressed   *bool    `json:"pressed" binding:"required"`
}

func (h *EngineHandler) HandleKey(c *gin.Context) {
	var req keyEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.engine.HandleKey(req.Key, req.Modifiers, *req.Pressed)
	c.JSON(http.StatusOK, gin.H{"speaking": h.engine.MediaState().Speaking})
}

type detectionRequest struct {
	Mode           string   `json:"mode" binding:"required"`
	Sensitivity    int      `json:"sensitivity"`
	CooldownMs     int      `json:"cooldown_ms"`
	HoldTimeMs     int      `json:"hold_time_ms"`
	PushToTalkKey  string   `json:"push_to_talk_key"`
	PushToTalkMods []string `json:"push_to_talk_mods"`
}

func (h *EngineHandler) SetDetection(c *gin.Context) {
	var req detectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mode := domain.DetectionMode(req.Mode)
	if mode != domain.DetectionVoiceActivity && mode != domain.DetectionPushToTalk {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be voice_activity or push_to_talk"})
		return
	}

	h.engine.SetDetectionConfig(domain.DetectionConfig{
		Mode:        mode,
		Sensitivity: req.Sensitivity,
		Cooldown:    time.Duration(req.CooldownMs) * time.Millisecond,
		HoldTime:    time.Duration(req.HoldTimeMs) * time.Millisecond,
		PushToTalk:  domain.KeyCombo{Key: req.PushToTalkKey, Modifiers: req.PushToTalkMods},
	})
	c.JSON(http.StatusOK, gin.H{"mode": req.Mode})
}

func (h *EngineHandler) SetMasterVolume(c *gin.Context) {
	var req volumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.engine.SetMasterVolume(*req.Volume)
	c.JSON(http.StatusOK, gin.H{"volume": *req.Volume})
}

type attenuationRequest struct {
	Percent *float64 `json:"percent" binding:"required"`
}

func (h *EngineHandler) SetAttenuation(c *gin.Context) {
	var req attenuationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.engine.SetAttenuation(*req.Percent)
	c.JSON(http.StatusOK, gin.H{"percent": *req.Percent})
}

type deviceResponse struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Kind        string `json:"kind"`
	IsDefault   bool   `json:"is_default"`
	IsPreferred bool   `json:"is_preferred"`
}

func (h *EngineHandler) Devices(c *gin.Context) {
	devices, err := h.engine.Devices(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceResponse{
			ID:          string(d.ID),
			Label:       d.HumanLabel,
			Kind:        string(d.Kind),
			IsDefault:   d.IsDefault,
			IsPreferred: d.IsPreferred,
		})
	}
	c.JSON(http.StatusOK, gin.H{"devices": out})
}

type preferredDeviceRequest struct {
	Kind     string `json:"kind" binding:"required"`
	DeviceID string `json:"device_id" binding:"required"`
}

func (h *EngineHandler) SetPreferredDevice(c *gin.Context) {
	var req preferredDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind := domain.DeviceKind(req.Kind)
	switch kind {
	case domain.AudioInput, domain.AudioOutput, domain.VideoInput:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown device kind"})
		return
	}

	if err := h.engine.SetPreferredDevice(c.Request.Context(), kind, domain.DeviceID(req.DeviceID)); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"kind": req.Kind, "device_id": req.DeviceID})
}

func (h *EngineHandler) TestDevice(c *gin.Context) {
	result, err := h.engine.TestDevice(c.Request.Context(), domain.DeviceID(c.Param("id")))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"device_id": string(result.DeviceID),
		"ok":        result.OK,
		"detail":    result.Detail,
		"tested_at": result.TestedAt,
	})
}

func (h *EngineHandler) Quality(c *gin.Context) {
	warnings := h.engine.QualityWarnings()
	out := make([]gin.H, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, gin.H{
			"user_id":        string(w.UserID),
			"classification": string(w.Classification),
			"loss_rate":      w.LossRate,
			"jitter_ms":      w.Jitter.Milliseconds(),
			"rung":           w.Rung,
			"time":           w.Time,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"room":       string(h.engine.RoomQuality()),
		"video_rung": h.engine.CurrentRung().Name,
		"warnings":   out,
	})
}
