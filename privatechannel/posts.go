package privatechannel

import (
	"sort"

	"xdao.co/feedsync/model"
	"xdao.co/feedsync/timeline"
)

// PostCommand is chapter content that adds or removes a post.
type PostCommand interface {
	// PostID is empty for commands that are not about a post.
	PostID() string
	// PostContent returns the post a command adds, or nil.
	PostContent() *model.Post
}

// ListTimelinePosts projects chapters, from any number of authors, to the
// posts they currently show, newest first.
//
// Chapters are ordered by timestamp and then by author, both descending. A
// remove hides every older post with its id, and only the newest post per id
// is kept. tl is not modified.
func ListTimelinePosts[T PostCommand](tl timeline.Timeline[T]) []model.Post {
	chapters := append(timeline.Timeline[T]{}, tl...)
	sort.SliceStable(chapters, func(i, j int) bool {
		if chapters[i].Timestamp != chapters[j].Timestamp {
			return chapters[i].Timestamp > chapters[j].Timestamp
		}
		return chapters[i].Author.Hex() > chapters[j].Author.Hex()
	})

	skip := make(map[string]struct{})
	posts := []model.Post{}
	for _, c := range chapters {
		id := c.Content.PostID()
		if id == "" {
			continue
		}
		if _, ok := skip[id]; ok {
			continue
		}
		skip[id] = struct{}{}
		if p := c.Content.PostContent(); p != nil {
			posts = append(posts, *p)
		}
	}
	return posts
}
