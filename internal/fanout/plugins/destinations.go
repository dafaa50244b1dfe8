package plugins

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/activity-fanout/internal/fanout"
	"github.com/angelmondragon/activity-fanout/pkg/enums"
)

const (
	DestinationStreamProfile = "stream_profile"
	DestinationStreamGroup   = "stream_group"

	ViewModePhoto = "activity_photo"
)

// Notification lists the activity in each user recipient's notification inbox.
type Notification struct{}

func (Notification) ID() string    { return fanout.DestinationNotification }
func (Notification) Label() string { return "Notification list" }

func (Notification) Accepts(draft *fanout.Draft) bool {
	for _, r := range draft.Recipients {
		if r.TargetType == enums.TargetUser {
			return true
		}
	}
	return false
}

func (Notification) IsActiveInView(view fanout.ViewContext) bool {
	return view.Name == fanout.ViewNotifications
}

func (Notification) ViewModeOverride(original string, _ fanout.Rendered) string {
	return original
}

// StreamProfile shows the activity on the actor's profile stream.
type StreamProfile struct {
	photoBundles map[string]struct{}
}

func NewStreamProfile(photoBundles ...string) *StreamProfile {
	return &StreamProfile{photoBundles: bundleSet(photoBundles)}
}

func (d *StreamProfile) ID() string    { return DestinationStreamProfile }
func (d *StreamProfile) Label() string { return "Profile stream" }

func (d *StreamProfile) Accepts(*fanout.Draft) bool { return true }

func (d *StreamProfile) IsActiveInView(view fanout.ViewContext) bool {
	return view.Name == fanout.ViewProfileStream
}

func (d *StreamProfile) ViewModeOverride(original string, activity fanout.Rendered) string {
	return photoOverride(d.photoBundles, original, activity)
}

// StreamGroup shows the activity on the stream of the entity's audience group.
type StreamGroup struct {
	photoBundles map[string]struct{}
}

func NewStreamGroup(photoBundles ...string) *StreamGroup {
	return &StreamGroup{photoBundles: bundleSet(photoBundles)}
}

func (d *StreamGroup) ID() string    { return DestinationStreamGroup }
func (d *StreamGroup) Label() string { return "Group stream" }

func (d *StreamGroup) Accepts(draft *fanout.Draft) bool {
	return draft.Entity != nil && draft.Entity.GroupID != uuid.Nil
}

func (d *StreamGroup) IsActiveInView(view fanout.ViewContext) bool {
	return view.Name == fanout.ViewGroupStream
}

func (d *StreamGroup) ViewModeOverride(original string, activity fanout.Rendered) string {
	return photoOverride(d.photoBundles, original, activity)
}

func bundleSet(bundles []string) map[string]struct{} {
	if len(bundles) == 0 {
		bundles = []string{"photo"}
	}
	set := make(map[string]struct{}, len(bundles))
	for _, b := range bundles {
		set[b] = struct{}{}
	}
	return set
}

func photoOverride(bundles map[string]struct{}, original string, activity fanout.Rendered) string {
	if _, ok := bundles[activity.Bundle()]; ok {
		return ViewModePhoto
	}
	return original
}
