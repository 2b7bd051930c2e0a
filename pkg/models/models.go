package models

import "time"

// Fragment is one raw unit of feed content as returned by a provider
type Fragment struct {
	Index int
	Body  []byte
}

// Content is the provider's view of the feed at one point in time.
// Size is the reachable content size; it only grows when advancing the
// feed revealed something new.
type Content struct {
	Fragments []Fragment
	Size      int64
}

// Post is the structured payload pulled out of a fragment
type Post struct {
	ID             string   `json:"tweet_id"`
	Link           string   `json:"tweet_link"`
	AuthorName     string   `json:"author_name"`
	AuthorHandle   string   `json:"author_handle"`
	Text           string   `json:"text"`
	Timestamp      string   `json:"timestamp"`
	Likes          string   `json:"likes"`
	Reposts        string   `json:"retweets"`
	Replies        string   `json:"replies"`
	ImageURLs      []string `json:"image_urls"`
	IsReply        bool     `json:"is_reply"`
	ReplyTo        string   `json:"reply_to"`
	ConversationID string   `json:"conversation_id"`
}

// Record is a finalized, deduplicated, date-filtered item
type Record struct {
	Feed      string    `json:"feed"`
	Identity  string    `json:"identity"`
	CreatedAt time.Time `json:"created_at"`
	Post      Post      `json:"post"`
}

// JobSpec is the immutable per-feed configuration handed to a worker
type JobSpec struct {
	FeedID         string
	Start          time.Time
	End            time.Time
	CheckpointPath string
	MaxIterations  int
}
