package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/testerbesterkali/marketer/internal/models"
)

const analyzeSystemPrompt = `You are an expert brand strategist. Analyze the website content you are given and extract the brand identity. Output ONLY a valid JSON object.`

const topicsSystemPrompt = `You are a social media strategist. Generate 14 content topics (2 weeks of content) for the brand you are given. Output ONLY a valid JSON object.`

const postSystemPrompt = `You are a social media copywriter. Generate a viral post caption and an image generation prompt. Output ONLY a valid JSON object.`

func analyzeUserPrompt(websiteURL, markdown string) string {
	return fmt.Sprintf(`Website: %s

Extract the following fields as JSON:
{
  "business_name": "string",
  "tagline": "string",
  "industry": "string",
  "target_audience": "string",
  "brand_voice": "string",
  "core_values": ["string"],
  "unique_selling_points": ["string"],
  "competitors": ["string"],
  "brand_story": "string",
  "mission_statement": "string",
  "archetype": "string",
  "emotional_benefits": {},
  "color_palette": {"primary": "#hex", "secondary": "#hex", "accent": "#hex", "background": "#hex", "text": "#hex"},
  "typography": {"heading_font": "string", "body_font": "string"},
  "ai_confidence_score": 0.0
}

Website content:
%s`, websiteURL, truncate(markdown, maxScrapeChars))
}

func topicsUserPrompt(bp *models.BrandProfile, plan *models.ContentPlan) string {
	return fmt.Sprintf(`Brand: %s (%s)
Voice: %s
Audience: %s
Platforms: %s
Content pillars: %s
Posts per week: %d

Generate %d topics. Each topic has title, description, content_pillar and suggested_platforms (array, chosen from the platforms above).
Respond as { "topics": [ ... ] }`,
		bp.BusinessName, bp.Industry, bp.BrandVoice, bp.TargetAudience,
		strings.Join(plan.EnabledPlatforms(), ", "), strings.Join(plan.ContentPillars, ", "),
		plan.PostFrequency, topicsPerRun)
}

// postUserPrompt builds the caption prompt. previousCaption is empty for first generation.
func postUserPrompt(title, description string, bp *models.BrandProfile, styles []string, platform, previousCaption string) string {
	profile, _ := json.Marshal(struct {
		BusinessName string   `json:"business_name"`
		Tagline      string   `json:"tagline"`
		BrandVoice   string   `json:"brand_voice"`
		Audience     string   `json:"target_audience"`
		CoreValues   []string `json:"core_values"`
	}{bp.BusinessName, bp.Tagline, bp.BrandVoice, bp.TargetAudience, bp.CoreValues})

	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\nDescription: %s\nPlatform: %s\nBrand Profile: %s\n", title, description, platform, profile)
	if len(styles) > 0 {
		fmt.Fprintf(&b, "Visual styles: %s\n", strings.Join(styles, ", "))
	}
	if previousCaption != "" {
		fmt.Fprintf(&b, "Previous Caption: %s\nWrite a fresh take that does not repeat it.\n", previousCaption)
	}
	b.WriteString(`
Respond as { "caption": "string", "hashtags": ["string"], "image_prompt": "string" }`)
	return b.String()
}
