package readmill

import "time"

// Book is the remote representation of a book.
type Book struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	CoverURL string `json:"cover_url"`
}

// Reading is the remote representation of one user's reading of a book.
type Reading struct {
	ID            int64     `json:"id"`
	State         string    `json:"state"`
	Private       bool      `json:"private"`
	ClosingRemark string    `json:"closing_remark"`
	TouchedAt     time.Time `json:"touched_at"`
	StartedAt     time.Time `json:"started_at"`
	Book          Book      `json:"book"`
}

// Period is a remote reading session. Periods carry no page numbers; positions
// are percent-based fractions.
type Period struct {
	Identifier      string    `json:"identifier"`
	Progress        float64   `json:"progress"`
	DurationSeconds int64     `json:"duration"`
	StartedAt       time.Time `json:"started_at"`
}

// Highlight is the remote representation of a highlight.
type Highlight struct {
	ID            int64     `json:"id"`
	Content       string    `json:"content"`
	Position      float64   `json:"position"`
	HighlightedAt time.Time `json:"highlighted_at"`
	LikeCount     int64     `json:"likes_count"`
	CommentCount  int64     `json:"comments_count"`
}

// DefaultCoverSentinel is the cover value the service uses when a book has no
// cover of its own. A pull must not overwrite a local cover with it.
const DefaultCoverSentinel = "default-cover"
