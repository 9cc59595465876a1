package feedcache

import "time"

// Author is the public projection of a post's author.
type Author struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Row is a raw post row as returned by the backend, before per-viewer projection.
type Row struct {
	ID        string      `json:"id"`
	Author    Author      `json:"author"`
	Content   string      `json:"content"`
	Type      PostType    `json:"type"`
	Location  LocationKey `json:"location"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Post is the view model rendered by a feed.
type Post struct {
	ID           string      `json:"id"`
	Author       Author      `json:"author"`
	Content      string      `json:"content"`
	Type         PostType    `json:"type"`
	Location     LocationKey `json:"location"`
	LikeCount    int         `json:"likeCount"`
	CommentCount int         `json:"commentCount"`
	IsLiked      bool        `json:"isLiked"`
	IsSaved      bool        `json:"isSaved"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// AggregateKind names a derived per-post count.
type AggregateKind string

const (
	AggregateLikes    AggregateKind = "likes"
	AggregateComments AggregateKind = "comments"
)

// ViewerState is the per-viewer interaction state for one post.
type ViewerState struct {
	Liked bool `json:"liked"`
	Saved bool `json:"saved"`
}

func postFromRow(row Row) Post {
	return Post{
		ID:        row.ID,
		Author:    row.Author,
		Content:   row.Content,
		Type:      row.Type,
		Location:  row.Location,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

func (p *Post) setAggregate(kind AggregateKind, count int) {
	switch kind {
	case AggregateLikes:
		p.LikeCount = count
	case AggregateComments:
		p.CommentCount = count
	}
}

func (p *Post) setViewerState(state ViewerState) {
	p.IsLiked = state.Liked
	p.IsSaved = state.Saved
}

func clonePosts(posts []Post) []Post {
	if posts == nil {
		return nil
	}
	out := make([]Post, len(posts))
	copy(out, posts)
	return out
}
