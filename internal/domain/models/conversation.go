// internal/domain/models/conversation.go
package models

// Conversation is a Teams conversation (chat, channel or meeting chat) the bot
// has been installed into. The ID is the Teams conversation id.
type Conversation struct {
	ID         string `bson:"_id" json:"id"`
	ServiceURL string `bson:"service_url" json:"serviceUrl"`
	TenantID   string `bson:"tenant_id" json:"tenantId"`
}
