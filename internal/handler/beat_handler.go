package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/beatforge/api/internal/middleware"
	"github.com/beatforge/api/internal/service"
	"github.com/beatforge/api/pkg/response"
)

// BeatHandler exposes the agent's own catalog.
type BeatHandler struct {
	beats     *service.BeatService
	downloads *service.DownloadService
}

func NewBeatHandler(beats *service.BeatService, downloads *service.DownloadService) *BeatHandler {
	return &BeatHandler{beats: beats, downloads: downloads}
}

// List godoc
// @Summary List own beats
// @Tags beats
// @Produce json
// @Success 200 {array} model.Beat
// @Security BearerAuth
// @Router /api/beats [get]
func (h *BeatHandler) List(c *fiber.Ctx) error {
	beats, err := h.beats.List(c.Context(), middleware.GetAgentID(c))
	if err != nil {
		return respondError(c, err)
	}
	return response.OK(c, beats)
}

// Get godoc
// @Summary Get one own beat
// @Tags beats
// @Produce json
// @Param id path string true "Beat id"
// @Success 200 {object} model.Beat
// @Failure 403 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Security BearerAuth
// @Router /api/beats/{id} [get]
func (h *BeatHandler) Get(c *fiber.Ctx) error {
	beat, err := h.beats.Get(c.Context(), middleware.GetAgentID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return response.OK(c, beat)
}

// Delete godoc
// @Summary Remove an unsold beat from the catalog
// @Tags beats
// @Param id path string true "Beat id"
// @Success 204
// @Failure 403 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Security BearerAuth
// @Router /api/beats/{id} [delete]
func (h *BeatHandler) Delete(c *fiber.Ctx) error {
	if err := h.beats.Delete(c.Context(), middleware.GetAgentID(c), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return response.NoContent(c)
}

// SampleLink godoc
// @Summary Mint a public stem sampling link
// @Tags beats
// @Produce json
// @Param id path string true "Beat id"
// @Success 200 {object} map[string]string
// @Failure 422 {object} response.ErrorResponse
// @Security BearerAuth
// @Router /api/beats/{id}/sample-link [post]
func (h *BeatHandler) SampleLink(c *fiber.Ctx) error {
	// Ownership check first; the minted link itself is public.
	beat, err := h.beats.Get(c.Context(), middleware.GetAgentID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	url, err := h.downloads.MintSampleURL(c.Context(), beat.ID)
	if err != nil {
		return respondError(c, err)
	}
	return response.OK(c, fiber.Map{"url": url})
}
