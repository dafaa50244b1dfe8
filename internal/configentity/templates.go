package configentity

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/activity-fanout/internal/fanout/plugins"
	"github.com/angelmondragon/activity-fanout/pkg/db/models"
	"github.com/angelmondragon/activity-fanout/pkg/logger"
)

// TemplateCatalog answers questions about configured message templates.
type TemplateCatalog struct {
	db   *gorm.DB
	repo *Repository
	logg *logger.Logger
}

func NewTemplateCatalog(db *gorm.DB, repo *Repository, logg *logger.Logger) (*TemplateCatalog, error) {
	if db == nil || repo == nil {
		return nil, fmt.Errorf("db and repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &TemplateCatalog{db: db, repo: repo, logg: logg}, nil
}

// Digestable reports whether activities of templateID go into digest email.
// Templates without configuration are digestable.
func (c *TemplateCatalog) Digestable(ctx context.Context, templateID string) bool {
	var tmpl models.MessageTemplate
	err := c.db.WithContext(ctx).Select("digestable").Where("id = ?", templateID).First(&tmpl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true
	}
	if err != nil {
		c.logg.Error(c.logg.WithTemplateID(ctx, templateID), "lookup template digestable flag", err)
		return true
	}
	return tmpl.Digestable
}

// Order returns each configured template's unique id, used to order digest sections.
func (c *TemplateCatalog) Order(ctx context.Context, templateIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(templateIDs))
	if len(templateIDs) == 0 {
		return out, nil
	}
	var rows []models.MessageTemplate
	if err := c.db.WithContext(ctx).Select("id", "unique_id").Where("id IN ?", templateIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row.UniqueID
	}
	return out, nil
}

// Get loads one template; ok is false when it is not configured.
func (c *TemplateCatalog) Get(ctx context.Context, templateID string) (*models.MessageTemplate, bool, error) {
	var tmpl models.MessageTemplate
	err := c.db.WithContext(ctx).Where("id = ?", templateID).First(&tmpl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &tmpl, true, nil
}

// Seed creates the templates that are missing. Existing rows keep their
// settings so operators can change labels or digest flags.
func (c *TemplateCatalog) Seed(ctx context.Context, templates []models.MessageTemplate) (int, error) {
	created := 0
	for i := range templates {
		tmpl := templates[i]
		_, ok, err := c.Get(ctx, tmpl.ID)
		if err != nil {
			return created, err
		}
		if ok {
			continue
		}
		tmpl.ConfigEntity = models.ConfigEntity{}
		if err := c.repo.Save(ctx, &tmpl); err != nil {
			return created, err
		}
		created++
	}
	if created > 0 {
		c.logg.Info(c.logg.WithField(ctx, "created", created), "seeded message templates")
	}
	return created, nil
}

// DefaultTemplates lists the message templates backing the built-in bindings,
// in the order their sections appear in digests.
func DefaultTemplates() []models.MessageTemplate {
	return []models.MessageTemplate{
		{ID: plugins.TemplateContentReport, Label: "Content reported", Description: "Someone flagged content as inappropriate.", Digestable: true},
		{ID: plugins.TemplateCommentPosted, Label: "New comment", Description: "Someone commented on your content.", Digestable: true},
		{ID: plugins.TemplateVoteCast, Label: "New vote", Description: "Someone voted on your content.", Digestable: true},
		{ID: plugins.TemplatePostTagged, Label: "Post tagged", Description: "Your post was tagged.", Digestable: true},
		{ID: plugins.TemplatePostPublished, Label: "Post published", Description: "A post was published in one of your groups.", Digestable: true},
		{ID: plugins.TemplateGroupPostCreated, Label: "New group post", Description: "A new discussion started in one of your groups.", Digestable: true},
		{ID: plugins.TemplatePhaseCompleted, Label: "Phase completed", Description: "A phase of a group project was completed.", Digestable: true},
		{ID: plugins.TemplateEnrollmentConfirmed, Label: "Enrollment confirmed", Description: "Confirmation of your own enrollment.", Digestable: false},
	}
}
