package model

// ImageData references an image attached to a post.
// LocalPath is device-local and is never serialized to peers.
type ImageData struct {
	URI       string `json:"uri,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Data      string `json:"data,omitempty"`
	LocalPath string `json:"localPath,omitempty"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Author struct {
	Name       string `json:"name"`
	URI        string `json:"uri"`
	FaviconURI string `json:"faviconUri,omitempty"`
}

// Post is the unit of content shared on feeds and private channels.
// CreatedAt and UpdatedAt are unix milliseconds.
type Post struct {
	ID          string      `json:"id"`
	Text        string      `json:"text"`
	Images      []ImageData `json:"images"`
	CreatedAt   int64       `json:"createdAt"`
	UpdatedAt   int64       `json:"updatedAt,omitempty"`
	Link        string      `json:"link,omitempty"`
	Location    *Location   `json:"location,omitempty"`
	Author      *Author     `json:"author,omitempty"`
	Deleted     bool        `json:"deleted,omitempty"`
	Liked       bool        `json:"liked,omitempty"`
	IsUploading bool        `json:"isUploading,omitempty"`
}

// Tombstone returns the placeholder stored when a post is removed: same id
// and creation time, no content.
func (p Post) Tombstone() Post {
	return Post{
		ID:        p.ID,
		Text:      "",
		Images:    []ImageData{},
		CreatedAt: p.CreatedAt,
	}
}
