package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultService  ResultType = "service"
	ResultGroup    ResultType = "group"
	ResultBookmark ResultType = "bookmark"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	URL     string     `json:"url,omitempty"`
}

// Query describes a directory search request. UserID scopes bookmark hits to
// their owner; services and groups are visible to everyone.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	UserID     string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push directory entities into a search index.
type Indexer interface {
	IndexService(s ServiceRecord) error
	IndexGroup(g GroupRecord) error
	IndexBookmark(b BookmarkRecord) error
	DeleteService(id string) error
	DeleteGroup(id string) error
	DeleteBookmark(id string) error
}

// ServiceRecord is the data we index for a service.
type ServiceRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	State       string `json:"state"`
}

// GroupRecord is the data we index for a group.
type GroupRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// BookmarkRecord is the data we index for a bookmark.
type BookmarkRecord struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	Tag     string `json:"tag"`
}
