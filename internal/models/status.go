package models

type PostStatus string

const (
	PostDraft      PostStatus = "draft"
	PostGenerating PostStatus = "generating"
	PostApproved   PostStatus = "approved"
	PostScheduled  PostStatus = "scheduled"
	PostPublished  PostStatus = "published"
	PostFailed     PostStatus = "failed"
)

var postTransitions = map[PostStatus][]PostStatus{
	PostDraft:      {PostGenerating, PostApproved},
	PostGenerating: {PostDraft, PostFailed},
	PostApproved:   {PostScheduled, PostPublished, PostFailed},
	PostScheduled:  {PostPublished, PostFailed},
	PostFailed:     {PostGenerating, PostDraft},
}

// CanTransition reports whether a post may move from one status to another.
// failed -> draft is only reachable through regeneration.
func CanTransition(from, to PostStatus) bool {
	for _, s := range postTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Publishable statuses are the ones the scheduled publisher picks up.
func (s PostStatus) Publishable() bool {
	return s == PostApproved || s == PostScheduled
}

// Regenerable statuses may be sent back through caption and image generation.
func (s PostStatus) Regenerable() bool {
	return s == PostDraft || s == PostFailed
}

func (s PostStatus) Valid() bool {
	switch s {
	case PostDraft, PostGenerating, PostApproved, PostScheduled, PostPublished, PostFailed:
		return true
	}
	return false
}
