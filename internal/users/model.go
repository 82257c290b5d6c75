package users

import "time"

// User is a sender identity. IDs come from the external identity module
// (OAuth subject or guest id) and are opaque to the core.
type User struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	PictureURL string    `json:"pictureUrl"`
	CreatedAt  time.Time `json:"createdAt"`
}
