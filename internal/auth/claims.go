package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"virtual-office/internal/leads"
)

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Identity is the caller as resolved by the sign-in workflow. The email is
// the key every lead assignment is compared against.
type Identity struct {
	Email      string `json:"email"`
	Name       string `json:"name"`
	CanViewAll bool   `json:"can_view_all"`
	Role       string `json:"role"`
}

// Scope narrows lead queries to what the identity may see.
func (i Identity) Scope() leads.Scope {
	return leads.Scope{AgentEmail: i.Email, CanViewAll: i.CanViewAll}
}

// Claims are the only supported JWT claims shape for this service.
// Refresh tokens carry the email only; visibility and role are re-read from
// the agents directory when a new pair is issued.
type Claims struct {
	jwt.RegisteredClaims

	Email      string    `json:"email"`
	Name       string    `json:"name,omitempty"`
	CanViewAll bool      `json:"can_view_all,omitempty"`
	Role       string    `json:"role,omitempty"`
	TokenType  TokenType `json:"token_type"`
}

func (c Claims) Identity() Identity {
	return Identity{
		Email:      strings.ToLower(c.Email),
		Name:       c.Name,
		CanViewAll: c.CanViewAll,
		Role:       c.Role,
	}
}
