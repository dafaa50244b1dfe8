package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/activity-fanout/api/responses"
	"github.com/angelmondragon/activity-fanout/internal/activities"
	"github.com/angelmondragon/activity-fanout/internal/fanout"
	pkgerrors "github.com/angelmondragon/activity-fanout/pkg/errors"
	"github.com/angelmondragon/activity-fanout/pkg/logger"
)

// ProfileStream lists the activities performed by the user in the path.
func ProfileStream(svc activities.Service, logg *logger.Logger) http.HandlerFunc {
	return streamHandler(svc, logg, "userID", func(params *activities.ListParams, id uuid.UUID) {
		params.View = fanout.ViewProfileStream
		params.OwnerID = id
	})
}

// GroupStream lists the activities addressed to the group in the path.
func GroupStream(svc activities.Service, logg *logger.Logger) http.HandlerFunc {
	return streamHandler(svc, logg, "groupID", func(params *activities.ListParams, id uuid.UUID) {
		params.View = fanout.ViewGroupStream
		params.GroupID = id
	})
}

func streamHandler(svc activities.Service, logg *logger.Logger, key string, scope func(*activities.ListParams, uuid.UUID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "activities service unavailable"))
			return
		}
		id, err := uuidParam(r, key)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		query, err := parsePageQuery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := activities.ListParams{
			Limit:    query.limit,
			Cursor:   query.cursor,
			ViewMode: query.viewMode,
		}
		scope(&params, id)
		resp, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, resp)
	}
}
