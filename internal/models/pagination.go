package models

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page    int `json:"page"`
	Limit   int `json:"limit"`
	Results int `json:"results"`
	Total   int `json:"total"`
}
