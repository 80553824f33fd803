package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lotopoints/backend/api/responses"
	"github.com/lotopoints/backend/api/validators"
	"github.com/lotopoints/backend/internal/results"
	"github.com/lotopoints/backend/pkg/db/models"
	"github.com/lotopoints/backend/pkg/enums"
	pkgerrors "github.com/lotopoints/backend/pkg/errors"
	"github.com/lotopoints/backend/pkg/logger"
)

type resultProvinceRequest struct {
	ProvinceCode string            `json:"province_code" validate:"required"`
	Tiers        models.TierValues `json:"tiers" validate:"required"`
}

type resultIngestRequest struct {
	DrawDate  string                  `json:"draw_date" validate:"required"`
	Region    string                  `json:"region" validate:"required"`
	Provinces []resultProvinceRequest `json:"provinces" validate:"required,min=1"`
}

type resultProvinceResponse struct {
	ProvinceCode string            `json:"province_code"`
	Tiers        models.TierValues `json:"tiers"`
}

type resultResponse struct {
	ID        uuid.UUID                `json:"id"`
	DrawDate  string                   `json:"draw_date"`
	Region    enums.Region             `json:"region"`
	Provinces []resultProvinceResponse `json:"provinces"`
	SettledAt *time.Time               `json:"settled_at,omitempty"`
	CreatedAt time.Time                `json:"created_at"`
}

func resultResponseFromModel(m *models.Result) resultResponse {
	out := resultResponse{
		ID:        m.ID,
		DrawDate:  m.DrawDate.Format("2006-01-02"),
		Region:    m.Region,
		Provinces: make([]resultProvinceResponse, 0, len(m.Provinces)),
		SettledAt: m.SettledAt,
		CreatedAt: m.CreatedAt,
	}
	for _, province := range m.Provinces {
		out.Provinces = append(out.Provinces, resultProvinceResponse{
			ProvinceCode: province.ProvinceCode,
			Tiers:        province.Tiers,
		})
	}
	return out
}

func parseProvinces(inputs []resultProvinceRequest) []results.ProvinceInput {
	provinces := make([]results.ProvinceInput, 0, len(inputs))
	for _, input := range inputs {
		provinces = append(provinces, results.ProvinceInput{
			ProvinceCode: strings.TrimSpace(input.ProvinceCode),
			Tiers:        input.Tiers,
		})
	}
	return provinces
}

// ResultIngest publishes a drawing, admin only.
func ResultIngest(svc results.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "result service unavailable"))
			return
		}
		if _, err := actingAdminID(r); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload resultIngestRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		drawDate, err := time.Parse("2006-01-02", strings.TrimSpace(payload.DrawDate))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid draw_date, expected YYYY-MM-DD"))
			return
		}
		region, err := enums.ParseRegion(strings.TrimSpace(payload.Region))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid region"))
			return
		}

		result, err := svc.Ingest(r.Context(), results.IngestInput{
			DrawDate:  drawDate,
			Region:    region,
			Provinces: parseProvinces(payload.Provinces),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, resultResponseFromModel(result))
	}
}

// ResultDetail returns one published drawing with its provinces.
func ResultDetail(svc results.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "result service unavailable"))
			return
		}

		resultID, err := pathUUID(r, chi.URLParam(r, "resultId"), "result id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.GetResult(r.Context(), resultID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, resultResponseFromModel(result))
	}
}

// ResultList returns the latest drawings for a region.
func ResultList(svc results.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "result service unavailable"))
			return
		}

		region, err := enums.ParseRegion(strings.TrimSpace(r.URL.Query().Get("region")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid region"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 30, 1, 100)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.ListByRegion(r.Context(), region, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]resultResponse, 0, len(rows))
		for i := range rows {
			out = append(out, resultResponseFromModel(&rows[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

type resultUpdateRequest struct {
	Provinces []resultProvinceRequest `json:"provinces" validate:"required,min=1"`
	Reason    string                  `json:"reason,omitempty"`
}

// ResultUpdate replaces a drawing's provinces. A settled result is reversed
// first; the update fails if credited winnings cannot be clawed back.
func ResultUpdate(svc results.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "result service unavailable"))
			return
		}
		if _, err := actingAdminID(r); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resultID, err := pathUUID(r, chi.URLParam(r, "resultId"), "result id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload resultUpdateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Update(r.Context(), results.UpdateInput{
			ResultID:  resultID,
			Provinces: parseProvinces(payload.Provinces),
			Reason:    strings.TrimSpace(payload.Reason),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, resultResponseFromModel(result))
	}
}

// ResultDelete withdraws a drawing, reversing its settlement first if needed.
func ResultDelete(svc results.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "result service unavailable"))
			return
		}
		if _, err := actingAdminID(r); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resultID, err := pathUUID(r, chi.URLParam(r, "resultId"), "result id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Delete(r.Context(), resultID, strings.TrimSpace(r.URL.Query().Get("reason"))); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "deleted"})
	}
}
