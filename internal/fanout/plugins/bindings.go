package plugins

import (
	"fmt"

	"github.com/angelmondragon/activity-fanout/internal/fanout"
)

const (
	TemplateContentReport       = "content_report"
	TemplateVoteCast            = "vote_cast"
	TemplatePostPublished       = "post_published"
	TemplatePostTagged          = "post_tagged"
	TemplateCommentPosted       = "comment_posted"
	TemplateGroupPostCreated    = "group_post_created"
	TemplateEnrollmentConfirmed = "enrollment_confirmed"
	TemplatePhaseCompleted      = "phase_completed"

	// PermissionViewReports is held by moderators who triage content reports.
	PermissionViewReports = "view inappropriate reports"

	EntityTypeNode    = "node"
	EntityTypeComment = "comment"
)

// Params configures the built-in plugin set.
type Params struct {
	Directory   Directory
	Alterations *fanout.Alterations
	// ReportPermission overrides PermissionViewReports.
	ReportPermission string
	// PublishedFields are the flags field_became_true watches; defaults to "published".
	PublishedFields []string
	// TagFields are the reference fields tags_added watches; defaults to "tags".
	TagFields    []string
	PhotoBundles []string
}

// Register installs the built-in plugins and their default template bindings.
// The registry is left unfrozen so callers can add their own plugins.
func Register(registry *fanout.Registry, params Params) error {
	if registry == nil {
		return fmt.Errorf("registry required")
	}
	if params.Directory == nil {
		return fmt.Errorf("directory required")
	}
	permission := params.ReportPermission
	if permission == "" {
		permission = PermissionViewReports
	}
	published := params.PublishedFields
	if len(published) == 0 {
		published = []string{"published"}
	}
	tags := params.TagFields
	if len(tags) == 0 {
		tags = []string{"tags"}
	}

	holders, err := NewPermissionHolders("", permission, params.Directory)
	if err != nil {
		return err
	}
	members, err := NewGroupMembers(params.Directory)
	if err != nil {
		return err
	}

	gates := []fanout.Gate{
		NewFieldBecameTrue("", []string{EntityTypeNode}, published, params.Alterations),
		NewRootItem([]string{EntityTypeNode, EntityTypeComment}),
		NewTagsAdded([]string{EntityTypeNode}, tags, params.Alterations),
	}
	resolvers := []fanout.Resolver{EntityOwner{}, holders, members, GroupAudience{}, SelfConfirmation{}}
	destinations := []fanout.Destination{
		Notification{},
		NewStreamProfile(params.PhotoBundles...),
		NewStreamGroup(params.PhotoBundles...),
	}

	for _, g := range gates {
		if err := registry.RegisterGate(g); err != nil {
			return err
		}
	}
	for _, r := range resolvers {
		if err := registry.RegisterResolver(r); err != nil {
			return err
		}
	}
	for _, d := range destinations {
		if err := registry.RegisterDestination(d); err != nil {
			return err
		}
	}
	for _, b := range DefaultBindings() {
		if err := registry.Bind(b); err != nil {
			return err
		}
	}
	return nil
}

// Build returns a frozen registry holding the built-in plugins and bindings.
func Build(params Params) (*fanout.Registry, error) {
	registry := fanout.NewRegistry()
	if err := Register(registry, params); err != nil {
		return nil, fmt.Errorf("register plugins: %w", err)
	}
	if err := registry.Freeze(); err != nil {
		return nil, fmt.Errorf("freeze registry: %w", err)
	}
	return registry, nil
}

// DefaultBindings wires the built-in templates to the built-in plugins.
func DefaultBindings() []fanout.Binding {
	return []fanout.Binding{
		{
			TemplateID:   TemplateContentReport,
			Resolvers:    []string{ResolverPermissionHolders},
			Destinations: []string{fanout.DestinationNotification},
		},
		{
			TemplateID:   TemplateVoteCast,
			Resolvers:    []string{ResolverEntityOwner},
			Destinations: []string{fanout.DestinationNotification},
		},
		{
			TemplateID:   TemplatePostPublished,
			Gates:        []string{GateFieldBecameTrue, GateRootItem},
			Resolvers:    []string{ResolverGroupMembers, ResolverGroupAudience},
			Destinations: []string{DestinationStreamGroup, DestinationStreamProfile, fanout.DestinationNotification},
		},
		{
			TemplateID:   TemplatePostTagged,
			Gates:        []string{GateTagsAdded},
			Resolvers:    []string{ResolverEntityOwner},
			Destinations: []string{fanout.DestinationNotification},
		},
		{
			TemplateID:   TemplateCommentPosted,
			Resolvers:    []string{ResolverEntityOwner},
			Destinations: []string{fanout.DestinationNotification, DestinationStreamProfile},
		},
		{
			TemplateID:   TemplateGroupPostCreated,
			Gates:        []string{GateRootItem},
			Resolvers:    []string{ResolverGroupMembers, ResolverGroupAudience},
			Destinations: []string{DestinationStreamGroup, fanout.DestinationNotification},
		},
		{
			TemplateID:   TemplateEnrollmentConfirmed,
			Resolvers:    []string{ResolverSelfConfirmation},
			Destinations: []string{fanout.DestinationNotification},
		},
		{
			TemplateID:   TemplatePhaseCompleted,
			Resolvers:    []string{ResolverGroupMembers},
			Destinations: []string{fanout.DestinationNotification},
		},
	}
}
