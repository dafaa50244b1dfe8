package controllers

import (
	"net/http"

	"github.com/angelmondragon/activity-fanout/api/responses"
	"github.com/angelmondragon/activity-fanout/internal/activities"
	"github.com/angelmondragon/activity-fanout/internal/fanout"
	pkgerrors "github.com/angelmondragon/activity-fanout/pkg/errors"
	"github.com/angelmondragon/activity-fanout/pkg/logger"
)

// ListNotifications returns the paginated notification feed of the user in the path.
func ListNotifications(svc activities.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "activities service unavailable"))
			return
		}

		userID, err := uuidParam(r, "userID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		query, err := parsePageQuery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp, err := svc.List(r.Context(), activities.ListParams{
			View:       fanout.ViewNotifications,
			ViewerID:   userID,
			Limit:      query.limit,
			Cursor:     query.cursor,
			UnreadOnly: query.unreadOnly,
			ViewMode:   query.viewMode,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, resp)
	}
}

// MarkNotificationRead flags one recipient row as read.
func MarkNotificationRead(svc activities.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "activities service unavailable"))
			return
		}
		userID, err := uuidParam(r, "userID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		recipientID, err := uuidParam(r, "recipientID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.MarkRead(r.Context(), userID, recipientID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"read": true})
	}
}

// MarkAllNotificationsRead flags every unread notification of the user as read.
func MarkAllNotificationsRead(svc activities.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "activities service unavailable"))
			return
		}
		userID, err := uuidParam(r, "userID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		updated, err := svc.MarkAllRead(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int64{"updated": updated})
	}
}
