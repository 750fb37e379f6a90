// internal/domain/models/user.go
package models

// User caches the display name of an AAD identity. ID is the AAD object id.
// UserName is overwritten on every interaction.
type User struct {
	ID       string `bson:"_id" json:"id"`
	UserName string `bson:"user_name" json:"userName"`
}
