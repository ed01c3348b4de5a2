package models

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Workspace struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	Name           string    `json:"name"`
	WebsiteURL     string    `json:"website_url"`
	OnboardingStep int       `json:"onboarding_step"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Onboarding steps. A workspace's step only moves forward.
const (
	StepURLSubmitted   = 1
	StepBrandAnalyzed  = 2
	StepPlanSaved      = 3
	StepTopicsReady    = 4
	StepPostsGenerated = 5
)

type UserProfile struct {
	ID                  string    `json:"id"`
	OnboardingCompleted bool      `json:"onboarding_completed"`
	UpdatedAt           time.Time `json:"updated_at"`
}

type ColorPalette struct {
	Primary    string `json:"primary,omitempty"`
	Secondary  string `json:"secondary,omitempty"`
	Accent     string `json:"accent,omitempty"`
	Background string `json:"background,omitempty"`
	Text       string `json:"text,omitempty"`
}

type Typography struct {
	HeadingFont string `json:"heading_font,omitempty"`
	BodyFont    string `json:"body_font,omitempty"`
}

// Score accepts both a JSON number and a numeric string; LLM output is not consistent about it.
type Score float64

func (s *Score) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "" || raw == "null" {
		*s = 0
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		str = strings.TrimSuffix(strings.TrimSpace(str), "%")
		if str == "" {
			*s = 0
			return nil
		}
		f, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return err
		}
		*s = Score(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*s = Score(f)
	return nil
}

type BrandProfile struct {
	ID                  string          `json:"id"`
	WorkspaceID         string          `json:"workspace_id"`
	BusinessName        string          `json:"business_name"`
	Tagline             string          `json:"tagline"`
	Industry            string          `json:"industry"`
	TargetAudience      string          `json:"target_audience"`
	BrandVoice          string          `json:"brand_voice"`
	CoreValues          []string        `json:"core_values"`
	UniqueSellingPoints []string        `json:"unique_selling_points"`
	Competitors         []string        `json:"competitors"`
	BrandStory          string          `json:"brand_story"`
	MissionStatement    string          `json:"mission_statement"`
	Archetype           string          `json:"archetype"`
	EmotionalBenefits   json.RawMessage `json:"emotional_benefits,omitempty"`
	ColorPalette        ColorPalette    `json:"color_palette"`
	Typography          Typography      `json:"typography"`
	AIConfidenceScore   Score           `json:"ai_confidence_score"`
	RawScrapedData      string          `json:"raw_scraped_data,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

type PlatformSetting struct {
	Enabled bool `json:"enabled"`
}

type ContentPlan struct {
	ID             string                     `json:"id"`
	WorkspaceID    string                     `json:"workspace_id"`
	Platforms      map[string]PlatformSetting `json:"platforms" validate:"required,min=1"`
	ContentPillars []string                   `json:"content_pillars" validate:"required,min=1,dive,required"`
	PostFrequency  int                        `json:"post_frequency" validate:"gte=1,lte=28"`
	CreatedAt      time.Time                  `json:"created_at"`
	UpdatedAt      time.Time                  `json:"updated_at"`
}

// EnabledPlatforms returns the platform keys switched on, sorted for stable prompts.
func (p *ContentPlan) EnabledPlatforms() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.Platforms))
	for name, s := range p.Platforms {
		if s.Enabled {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Ready reports whether the plan can feed topic generation.
func (p *ContentPlan) Ready() bool {
	return p != nil && len(p.EnabledPlatforms()) > 0 && len(p.ContentPillars) > 0
}

type StylePreferences struct {
	ID             string    `json:"id"`
	WorkspaceID    string    `json:"workspace_id"`
	SelectedStyles []string  `json:"selected_styles" validate:"required,min=1,max=3,dive,required"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Topic struct {
	ID                 string    `json:"id"`
	WorkspaceID        string    `json:"workspace_id"`
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	ContentPillar      string    `json:"content_pillar"`
	SuggestedPlatforms []string  `json:"suggested_platforms"`
	Approved           bool      `json:"approved"`
	WeekOf             time.Time `json:"week_of"`
	CreatedAt          time.Time `json:"created_at"`
}

type Post struct {
	ID             string     `json:"id"`
	WorkspaceID    string     `json:"workspace_id"`
	TopicID        *string    `json:"topic_id,omitempty"`
	Platform       string     `json:"platform"`
	Status         PostStatus `json:"status"`
	Caption        string     `json:"caption"`
	Hashtags       []string   `json:"hashtags"`
	ImageURL       *string    `json:"image_url,omitempty"`
	ImagePrompt    string     `json:"image_prompt,omitempty"`
	CreditsUsed    int        `json:"credits_used"`
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
	PublishedAt    *time.Time `json:"published_at,omitempty"`
	PublishError   *string    `json:"publish_error,omitempty"`
	PlatformPostID *string    `json:"platform_post_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type SocialConnection struct {
	ID                  string    `json:"id"`
	WorkspaceID         string    `json:"workspace_id"`
	Platform            string    `json:"platform"`
	AccessToken         string    `json:"-"`
	MetaPageID          *string   `json:"meta_page_id,omitempty"`
	InstagramBusinessID *string   `json:"instagram_business_id,omitempty"`
	AccountName         *string   `json:"account_name,omitempty"`
	Connected           bool      `json:"connected"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

type WorkspaceStats struct {
	TotalPosts            int `json:"total_posts"`
	UnapprovedTopics      int `json:"unapproved_topics"`
	ScheduledPosts        int `json:"scheduled_posts"`
	ConnectedIntegrations int `json:"connected_integrations"`
}
