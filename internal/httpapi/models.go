package httpapi

import (
	"time"

	"github.com/MrEthical07/goRotate/jwt"
)

// IssueRequest is the upstream identity event that starts a session.
type IssueRequest struct {
	Subject string   `json:"subject"`
	Email   string   `json:"email,omitempty"`
	Role    jwt.Role `json:"role"`
}

// RefreshRequest carries the refresh token when no cookie is sent.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type LogoutAllResponse struct {
	Revoked int `json:"revoked"`
}

// MeResponse echoes the verified access claims.
type MeResponse struct {
	Subject   string    `json:"subject"`
	Email     string    `json:"email,omitempty"`
	Role      jwt.Role  `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latencyMs"`
}
