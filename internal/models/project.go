package models

import "time"

// Project groups crawl jobs under exactly one owning user. Ownership checks
// for every job, image and chunk resolve through the project row.
type Project struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
