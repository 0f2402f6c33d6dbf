package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultProject  ResultType = "project"
	ResultMessage  ResultType = "message"
	ResultArtifact ResultType = "artifact"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	ProjectID  string     `json:"projectId"`
	WeekNumber int        `json:"weekNumber,omitempty"`
}

// Query describes a search request. UserID scopes results to the projects
// the caller owns.
type Query struct {
	Text            string
	FilterType      ResultType // empty = all types
	FilterProjectID string
	UserID          string
	Limit           int
	Offset          int
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

// Indexer can push entities into a search index.
type Indexer interface {
	IndexProject(p ProjectRecord) error
	IndexMessage(m MessageRecord) error
	IndexArtifact(a ArtifactRecord) error
	DeleteProject(id string) error
	DeleteMessage(id string) error
	DeleteArtifact(id string) error
}

// ProjectRecord is the data we index for a project.
type ProjectRecord struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Goal   string `json:"goal"`
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// MessageRecord is the data we index for a chat message. ID is the slot ID,
// so indexing a newer revision replaces the previous one.
type MessageRecord struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Role      string `json:"role"`
	ProjectID string `json:"projectId"`
	UserID    string `json:"userId"`
}

// ArtifactRecord is the data we index for a code artifact.
type ArtifactRecord struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Filename   string `json:"filename"`
	Language   string `json:"language"`
	ProjectID  string `json:"projectId"`
	UserID     string `json:"userId"`
	WeekNumber int    `json:"weekNumber"`
}
