package rest

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenWaterCore/internal/judo"
	"github.com/KevinKickass/OpenWaterCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RegisterView struct {
	Key       string      `json:"key"`
	Kind      string      `json:"kind"`
	Access    string      `json:"access"`
	Unit      string      `json:"unit,omitempty"`
	Device    string      `json:"device,omitempty"`
	Options   []string    `json:"options,omitempty"`
	Value     interface{} `json:"value"`
	Valid     bool        `json:"valid"`
	UpdatedAt *time.Time  `json:"updated_at,omitempty"`
}

type SetRegisterRequest struct {
	Value interface{} `json:"value"`
}

type RefreshRequest struct {
	Indices []int `json:"indices"`
}

func registerView(desc *types.RegisterDescriptor, lv judo.LiveValue, known bool) RegisterView {
	view := RegisterView{
		Key:    desc.TranslationKey,
		Kind:   string(desc.Kind),
		Access: string(desc.Access),
		Unit:   desc.Unit,
		Device: desc.Device,
	}
	if len(desc.Enum) > 0 {
		view.Options = desc.Enum.Labels()
	}
	if known {
		view.Value = lv.Value
		view.Valid = lv.Valid
		at := lv.UpdatedAt
		view.UpdatedAt = &at
	}
	return view
}

// GET /api/v1/registers
func (s *Server) listRegisters(c *gin.Context) {
	device := s.lm.Device()
	descs := device.Catalog().Registers()

	response := make([]RegisterView, 0, len(descs))
	for i := range descs {
		lv, ok := device.Value(descs[i].TranslationKey)
		response = append(response, registerView(&descs[i], lv, ok))
	}

	c.JSON(http.StatusOK, gin.H{
		"registers": response,
		"count":     len(response),
	})
}

// GET /api/v1/registers/:key
func (s *Server) getRegister(c *gin.Context) {
	key := c.Param("key")
	device := s.lm.Device()

	desc, ok := device.Descriptor(key)
	if !ok {
		s.writeError(c, types.ErrUnknownRegister)
		return
	}

	lv, known := device.Value(key)
	c.JSON(http.StatusOK, registerView(desc, lv, known))
}

// PUT /api/v1/registers/:key
func (s *Server) setRegister(c *gin.Context) {
	key := c.Param("key")

	var req SetRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("invalid_request", "Invalid request body", err.Error()))
		return
	}

	device := s.lm.Device()
	if err := device.Set(c.Request.Context(), key, req.Value); err != nil {
		s.logger.Warn("Register write failed", zap.String("register", key), zap.Error(err))
		s.writeError(c, err)
		return
	}

	desc, _ := device.Descriptor(key)
	lv, known := device.Value(key)
	c.JSON(http.StatusOK, registerView(desc, lv, known))
}

// POST /api/v1/refresh
func (s *Server) refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("invalid_request", "Invalid request body", err.Error()))
		return
	}

	poller := s.lm.Poller()
	if poller == nil {
		s.writeError(c, types.ErrNotConnected)
		return
	}

	if err := poller.RefreshSubset(c.Request.Context(), req.Indices); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "refresh completed",
		"registers": len(s.lm.Device().Snapshot()),
	})
}

func (s *Server) writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"

	switch {
	case errors.Is(err, types.ErrUnknownRegister):
		status, code = http.StatusNotFound, "unknown_register"
	case errors.Is(err, types.ErrReadOnly):
		status, code = http.StatusConflict, "read_only"
	case errors.Is(err, types.ErrMissingFieldValue):
		status, code = http.StatusConflict, "missing_field_value"
	case errors.Is(err, types.ErrInvalidLabel), errors.Is(err, types.ErrValueOutOfRange):
		status, code = http.StatusBadRequest, "invalid_value"
	case errors.Is(err, types.ErrTransport), errors.Is(err, types.ErrCycleDeadline):
		status, code = http.StatusBadGateway, "transport_failure"
	case errors.Is(err, types.ErrNotConnected):
		status, code = http.StatusServiceUnavailable, "not_connected"
	}

	c.JSON(status, types.NewErrorResponse(code, err.Error(), nil))
}
