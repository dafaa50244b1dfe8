package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/activity-fanout/api/validators"
	pkgerrors "github.com/angelmondragon/activity-fanout/pkg/errors"
	"github.com/angelmondragon/activity-fanout/pkg/pagination"
)

func uuidParam(r *http.Request, key string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, key))
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid "+key).
			WithDetails(map[string]any{"field": key})
	}
	return id, nil
}

type pageQuery struct {
	limit      int
	cursor     string
	viewMode   string
	unreadOnly bool
}

func parsePageQuery(r *http.Request) (pageQuery, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pageQuery{}, err
	}
	unreadOnly, err := validators.ParseQueryBool(r, "unreadOnly")
	if err != nil {
		return pageQuery{}, err
	}
	return pageQuery{
		limit:      limit,
		cursor:     strings.TrimSpace(r.URL.Query().Get("cursor")),
		viewMode:   validators.SanitizeIdentifier(r.URL.Query().Get("viewMode"), 64),
		unreadOnly: unreadOnly,
	}, nil
}
