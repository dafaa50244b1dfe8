package controllers

import (
	"net/http"

	"github.com/angelmondragon/activity-fanout/api/responses"
	"github.com/angelmondragon/activity-fanout/api/validators"
	"github.com/angelmondragon/activity-fanout/internal/frequency"
	pkgerrors "github.com/angelmondragon/activity-fanout/pkg/errors"
	"github.com/angelmondragon/activity-fanout/pkg/logger"
)

type frequencyOption struct {
	ID              string `json:"id"`
	Label           string `json:"label"`
	Weight          int    `json:"weight"`
	IntervalSeconds int64  `json:"interval_seconds"`
	Disabled        bool   `json:"disabled"`
}

type setFrequencyRequest struct {
	Frequency string `json:"frequency" validate:"required"`
}

// ListEmailFrequencies returns the available digest cadences ordered by weight.
func ListEmailFrequencies(svc frequency.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "frequency service unavailable"))
			return
		}
		plugins := svc.List()
		options := make([]frequencyOption, 0, len(plugins))
		for _, p := range plugins {
			options = append(options, frequencyOption{
				ID:              p.ID,
				Label:           p.Label,
				Weight:          p.Weight,
				IntervalSeconds: p.IntervalSeconds(),
				Disabled:        p.Disabled,
			})
		}
		responses.WriteSuccess(w, options)
	}
}

// GetEmailFrequency returns the effective cadence of the user in the path.
func GetEmailFrequency(svc frequency.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "frequency service unavailable"))
			return
		}
		userID, err := uuidParam(r, "userID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		pref, err := svc.Get(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, pref)
	}
}

// SetEmailFrequency stores the cadence chosen by the user in the path.
func SetEmailFrequency(svc frequency.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "frequency service unavailable"))
			return
		}
		userID, err := uuidParam(r, "userID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body setFrequencyRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		pref, err := svc.Set(r.Context(), userID, validators.SanitizeIdentifier(body.Frequency, 64))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := logg.WithFields(r.Context(), map[string]any{
			"user_id":   userID.String(),
			"frequency": pref.Frequency,
		})
		logg.Info(ctx, "email frequency updated")
		responses.WriteSuccess(w, pref)
	}
}
