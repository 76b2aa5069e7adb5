package models

// User is owned by the external identity system; the core only carries ids.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}
