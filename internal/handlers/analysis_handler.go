package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/analysis"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

type AnalysisHandler struct {
	credits     *services.CreditService
	analyzer    analysis.Analyzer
	maxFileSize int64
}

func NewAnalysisHandler(credits *services.CreditService, analyzer analysis.Analyzer, maxFileSize int64) *AnalysisHandler {
	return &AnalysisHandler{
		credits:     credits,
		analyzer:    analyzer,
		maxFileSize: maxFileSize,
	}
}

// Analyze charges one credit per started second of audio, runs the remote
// analysis, and refunds the charge if the analysis fails.
func (h *AnalysisHandler) Analyze(c *fiber.Ctx) error {
	id := middleware.GetIdentity(c)
	if err := id.Validate(); err != nil {
		return writeCreditError(c, err)
	}

	fileHeader, err := c.FormFile("audio")
	if err != nil {
		return badRequest(c, "INVALID_REQUEST", "audio file is required")
	}
	if h.maxFileSize > 0 && fileHeader.Size > h.maxFileSize {
		return badRequest(c, "INVALID_REQUEST", fmt.Sprintf("audio file exceeds %d bytes", h.maxFileSize))
	}

	durationSeconds, err := strconv.ParseFloat(c.FormValue("duration_seconds"), 64)
	if err != nil {
		return badRequest(c, "INVALID_REQUEST", "duration_seconds must be a number")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return badRequest(c, "INVALID_REQUEST", "audio file could not be read")
	}
	defer file.Close()

	ctx := requestContext(c)
	start := time.Now()
	var result json.RawMessage

	consumption, err := h.credits.RunMetered(ctx, id, durationSeconds, "Audio analysis: "+fileHeader.Filename,
		func(ctx context.Context) error {
			var analyzeErr error
			result, analyzeErr = h.analyzer.Analyze(ctx, analysis.AudioInput{
				Filename:        fileHeader.Filename,
				ContentType:     fileHeader.Header.Get(fiber.HeaderContentType),
				DurationSeconds: durationSeconds,
				Data:            file,
			})
			return analyzeErr
		})

	if consumption != nil {
		charged := consumption.Credits
		var analysisErr *services.AnalysisError
		if errors.As(err, &analysisErr) && analysisErr.Refunded {
			charged = 0
		}
		h.credits.RecordUsage(ctx, id, fileHeader.Size, charged, time.Since(start), err)
	}
	if err != nil {
		return writeCreditError(c, err)
	}

	return c.JSON(dto.AnalyzeResponse{
		Success: true,
		Data:    result,
		Credits: dto.CreditUsage{
			Consumed:  consumption.Credits,
			Remaining: consumption.Remaining,
		},
		RequestID: requestID(c),
	})
}
