package auth

import "github.com/golang-jwt/jwt/v5"

// Claims 文档访问令牌的载荷
//
// Subject 形如 "<petition_id>/<document_identifier>"，ID 为 UUID v7。
type Claims struct {
	jwt.RegisteredClaims

	PetitionID         string `json:"pid"`
	DocumentIdentifier string `json:"doc"`
	ApplicationNumber  string `json:"app,omitempty"`
}

// Allows 令牌是否授权访问指定文档
func (c *Claims) Allows(petitionID, documentIdentifier string) bool {
	return c != nil && c.PetitionID == petitionID && c.DocumentIdentifier == documentIdentifier
}
