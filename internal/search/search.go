package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultStandard ResultType = "standard"
	ResultQuestion ResultType = "question"
	ResultAnswer   ResultType = "answer"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	StandardID string     `json:"standardId"`
	CompanyID  string     `json:"companyId,omitempty"`
	Year       int        `json:"year,omitempty"`
}

// Query describes a search request. FilterCompanyID scopes answer hits: an
// answer belongs to one company and must not leak across unless CrossCompany
// is set (auditors and admins).
type Query struct {
	Text             string
	FilterType       ResultType // empty = all types
	FilterStandardID string
	FilterCompanyID  string
	Limit            int
	Offset           int
	CrossCompany     bool
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
	IndexStandard(s StandardRecord) error
	IndexQuestion(q QuestionRecord) error
	IndexAnswer(a AnswerRecord) error
	DeleteQuestion(id string) error
	DeleteAnswer(id string) error
}

// StandardRecord is the data we index for a standard.
type StandardRecord struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// QuestionRecord is the data we index for a question.
type QuestionRecord struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	Theme      string `json:"theme"`
	Category   string `json:"category"`
	StandardID string `json:"standardId"`
}

// AnswerRecord is the data we index for an answer.
type AnswerRecord struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	QuestionID string `json:"questionId"`
	StandardID string `json:"standardId"`
	CompanyID  string `json:"companyId"`
	Year       int    `json:"year"`
}
