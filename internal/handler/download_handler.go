package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/beatforge/api/internal/service"
	"github.com/beatforge/api/pkg/response"
)

// proxyClient fetches provider media when the primary file has to be
// streamed through instead of redirected to.
var proxyClient = &http.Client{Timeout: 10 * time.Minute}

// DownloadHandler redeems download and sampling tokens.
type DownloadHandler struct {
	service *service.DownloadService
}

func NewDownloadHandler(svc *service.DownloadService) *DownloadHandler {
	return &DownloadHandler{service: svc}
}

// Download godoc
// @Summary Redeem a purchase download token
// @Description Serves the purchased tier; every successful call consumes one download use
// @Tags downloads
// @Param token query string true "Download token"
// @Success 200
// @Success 202
// @Success 302
// @Failure 401 {object} response.ErrorResponse
// @Failure 429 {object} response.ErrorResponse
// @Router /download [get]
func (h *DownloadHandler) Download(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		return response.ValidationError(c, "Missing token", nil)
	}

	result, err := h.service.Resolve(c.Context(), token)
	if err != nil {
		return respondError(c, err)
	}

	switch result.Kind {
	case service.DownloadRedirect:
		return c.Redirect(result.URL, fiber.StatusFound)
	case service.DownloadProxy:
		return h.proxy(c, result)
	case service.DownloadManifest:
		return response.OK(c, result.Manifest)
	case service.DownloadProcessing:
		return response.Accepted(c, fiber.Map{
			"status":  "processing",
			"message": "Stems are still being prepared — try again shortly. This attempt did not count against your download limit.",
		})
	}
	return response.ServiceError(c, "Unknown download result")
}

// SampleStems godoc
// @Summary Redeem a public stem sampling token
// @Tags downloads
// @Produce json
// @Param token query string true "Sample token"
// @Success 200 {object} model.StemsManifest
// @Failure 401 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /samples/stems [get]
func (h *DownloadHandler) SampleStems(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		return response.ValidationError(c, "Missing token", nil)
	}
	manifest, err := h.service.SampleManifest(c.Context(), token)
	if err != nil {
		return respondError(c, err)
	}
	return response.OK(c, manifest)
}

// proxy streams the source file through without buffering it.
func (h *DownloadHandler) proxy(c *fiber.Ctx, result *service.DownloadResult) error {
	req, err := http.NewRequestWithContext(c.Context(), http.MethodGet, result.URL, nil)
	if err != nil {
		return response.ServiceError(c, "Failed to fetch media")
	}
	resp, err := proxyClient.Do(req)
	if err != nil {
		return response.ServiceError(c, "Failed to fetch media")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return response.Error(c, fiber.StatusBadGateway, response.CodeProviderError, "Media source is unavailable", nil)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		c.Set(fiber.HeaderContentType, ct)
	}
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", result.Filename))
	if resp.ContentLength > 0 {
		return c.SendStream(resp.Body, int(resp.ContentLength))
	}
	return c.SendStream(resp.Body)
}
