package castellan

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

var (
	// ErrDuplicatePanel is returned when creating a panel whose name is
	// already taken within the guild.
	ErrDuplicatePanel = errors.New("a panel with that name already exists")

	// ErrPanelNotFound is returned when the referenced panel does not exist.
	ErrPanelNotFound = errors.New("panel not found")

	// ErrVerificationNotFound is returned when the guild has no
	// verification config.
	ErrVerificationNotFound = errors.New("verification not configured")

	// ErrInvalidPanelName rejects names that can't round-trip through a
	// component custom ID.
	ErrInvalidPanelName = errors.New("panel names may only contain lowercase letters, digits, '-' and '_'")
)

var panelNamePattern = regexp.MustCompile(`^[a-z0-9_-]{1,32}$`)

// Question is a single application panel question. InputKind holds the
// discord text input style (1=short, 2=paragraph).
type Question struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	InputKind int    `json:"input_kind"`
}

// QuestionList stores an ordered question set as a JSON column.
type QuestionList []Question

// Scan implements the sql.Scanner interface.
func (q *QuestionList) Scan(value any) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, q)
	case string:
		return json.Unmarshal([]byte(v), q)
	default:
		return fmt.Errorf("unexpected type for QuestionList: %T", value)
	}
}

// Value implements the driver.Valuer interface.
func (q QuestionList) Value() (driver.Value, error) {
	data, err := json.Marshal(q)
	return string(data), err
}

// GormDataType is used by GORM to determine the default data type for a field.
func (QuestionList) GormDataType() string {
	return "string"
}

// PanelDefinition is a named, guild-scoped application template. Panels are
// immutable once created; changing one means delete-then-recreate.
//
//nolint:lll // struct tags can't be split
type PanelDefinition struct {
	ModelUintID
	ModelUnixTime
	GuildID          string       `json:"guild_id" gorm:"index:idx_panel_guild_name,unique;not null"`
	Name             string       `json:"name" gorm:"index:idx_panel_guild_name,unique;not null"`
	ChannelID        string       `json:"channel_id" gorm:"type:string"`
	LogChannelID     string       `json:"log_channel_id" gorm:"not null"`
	RoleID           string       `json:"role_id" gorm:"type:string"`
	ResultsChannelID string       `json:"results_channel_id" gorm:"type:string"`
	Questions        QuestionList `json:"questions" gorm:"type:string;not null"`
	Title            string       `json:"title" gorm:"type:string"`
	Description      string       `json:"description" gorm:"type:string"`
}

func (p PanelDefinition) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("guild_id", p.GuildID),
		slog.String("name", p.Name),
		slog.Int("questions", len(p.Questions)),
		slog.String("log_channel_id", p.LogChannelID),
	)
}

// VerificationDefinition is a guild's verification challenge configuration.
// At most one exists per guild; setup overwrites the previous config.
//
//nolint:lll // struct tags can't be split
type VerificationDefinition struct {
	ModelUintID
	ModelUnixTime
	GuildID     string        `json:"guild_id" gorm:"uniqueIndex;not null"`
	ChannelID   string        `json:"channel_id" gorm:"not null"`
	RoleID      string        `json:"role_id" gorm:"not null"`
	Kind        ChallengeKind `json:"kind" gorm:"type:string;not null"`
	Title       string        `json:"title" gorm:"type:string"`
	Description string        `json:"description" gorm:"type:string"`
}

// PanelRegistry caches per-guild panel and verification definitions.
// The database is the source of truth; the cache is rebuilt on startup and
// whenever the DB notifier announces a change.
type PanelRegistry struct {
	db     DBI
	logger *slog.Logger

	mu            sync.Mutex
	panels        map[string]*PanelDefinition
	verifications map[string]*VerificationDefinition
}

func NewPanelRegistry(db DBI, log *slog.Logger) *PanelRegistry {
	if log == nil {
		log = slog.Default()
	}
	return &PanelRegistry{
		db:            db,
		logger:        log.With(loggerNameKey, "panel_registry"),
		panels:        map[string]*PanelDefinition{},
		verifications: map[string]*VerificationDefinition{},
	}
}

func panelCacheKey(guildID string, name string) string {
	return strings.Join([]string{guildID, name}, "\x1e")
}

// Load rebuilds the full cache from the database.
func (r *PanelRegistry) Load(ctx context.Context) error {
	var panels []PanelDefinition
	if err := r.db.DB().WithContext(ctx).Find(&panels).Error; err != nil {
		return fmt.Errorf("error loading panels: %w", err)
	}
	var verifications []VerificationDefinition
	if err := r.db.DB().WithContext(ctx).Find(&verifications).Error; err != nil {
		return fmt.Errorf("error loading verification configs: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.panels = make(map[string]*PanelDefinition, len(panels))
	for i := range panels {
		p := panels[i]
		r.panels[panelCacheKey(p.GuildID, p.Name)] = &p
	}
	r.verifications = make(map[string]*VerificationDefinition, len(verifications))
	for i := range verifications {
		v := verifications[i]
		r.verifications[v.GuildID] = &v
	}
	r.logger.Info(
		"loaded panel cache",
		"panels", len(panels),
		"verifications", len(verifications),
	)
	return nil
}

// Create persists a new panel and adds it to the cache. Names are unique
// within a guild.
func (r *PanelRegistry) Create(ctx context.Context, def *PanelDefinition) error {
	if !panelNamePattern.MatchString(def.Name) {
		return ErrInvalidPanelName
	}
	if len(def.Questions) == 0 {
		return errors.New("panel requires at least one question")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := panelCacheKey(def.GuildID, def.Name)
	if _, exists := r.panels[key]; exists {
		return ErrDuplicatePanel
	}

	if _, err := r.db.Create(ctx, def); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicatePanel
		}
		return fmt.Errorf("error creating panel: %w", err)
	}
	r.panels[key] = def
	r.logger.InfoContext(ctx, "created panel", "panel", *def)
	return nil
}

// Get returns the named panel for the guild, or ErrPanelNotFound.
func (r *PanelRegistry) Get(guildID string, name string) (*PanelDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	panel, ok := r.panels[panelCacheKey(guildID, name)]
	if !ok {
		return nil, ErrPanelNotFound
	}
	return panel, nil
}

// Delete removes the named panel from the cache and store. Deleting a
// missing panel returns ErrPanelNotFound; callers that pre-check existence
// treat that as success.
func (r *PanelRegistry) Delete(ctx context.Context, guildID string, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := panelCacheKey(guildID, name)
	panel, ok := r.panels[key]
	if !ok {
		return ErrPanelNotFound
	}
	// Hard delete so the guild+name unique index frees up for recreation.
	r.db.Lock()
	rv := r.db.DB().Unscoped().Where(
		"guild_id = ? AND name = ?", guildID, name,
	).Delete(&PanelDefinition{})
	r.db.Unlock()
	if rv.Error != nil {
		return fmt.Errorf("error deleting panel: %w", rv.Error)
	}
	delete(r.panels, key)
	r.logger.InfoContext(ctx, "deleted panel", "panel", *panel)
	return nil
}

// ListForGuild returns the guild's panels ordered by name.
func (r *PanelRegistry) ListForGuild(guildID string) []*PanelDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()
	var panels []*PanelDefinition
	for _, p := range r.panels {
		if p.GuildID == guildID {
			panels = append(panels, p)
		}
	}
	sort.Slice(
		panels, func(i, j int) bool {
			return panels[i].Name < panels[j].Name
		},
	)
	return panels
}

// SetVerification creates or overwrites the guild's verification config.
func (r *PanelRegistry) SetVerification(
	ctx context.Context,
	def *VerificationDefinition,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, hadExisting := r.verifications[def.GuildID]
	if hadExisting {
		def.ID = existing.ID
		if _, err := r.db.Save(ctx, def); err != nil {
			return fmt.Errorf("error updating verification config: %w", err)
		}
	} else if _, err := r.db.Create(ctx, def); err != nil {
		return fmt.Errorf("error creating verification config: %w", err)
	}
	r.verifications[def.GuildID] = def
	r.logger.InfoContext(
		ctx,
		"set verification config",
		"guild_id", def.GuildID,
		"kind", string(def.Kind),
	)
	return nil
}

// GetVerification returns the guild's verification config, or
// ErrVerificationNotFound.
func (r *PanelRegistry) GetVerification(guildID string) (
	*VerificationDefinition,
	error,
) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.verifications[guildID]
	if !ok {
		return nil, ErrVerificationNotFound
	}
	return v, nil
}

// watchPanelRefresh reloads the cache whenever the notifier signals a
// change, until the context is cancelled.
func (r *PanelRegistry) watchPanelRefresh(
	ctx context.Context,
	trigger <-chan bool,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-trigger:
			if err := r.Load(ctx); err != nil {
				r.logger.ErrorContext(ctx, "error reloading panel cache", tint.Err(err))
			}
		}
	}
}
