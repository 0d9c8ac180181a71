package goRotate

import (
	"time"

	"github.com/MrEthical07/goRotate/jwt"
)

// Identity is the verified user identity handed over by an upstream login.
type Identity = jwt.Identity

// TokenPair is the result of issuance and rotation.
type TokenPair struct {
	AccessToken           string    `json:"accessToken"`
	AccessTokenExpiresAt  time.Time `json:"accessTokenExpiresAt"`
	RefreshToken          string    `json:"refreshToken"`
	RefreshTokenExpiresAt time.Time `json:"refreshTokenExpiresAt"`
	// Family identifies the login lineage; it is stable across rotations.
	Family string `json:"tokenFamily"`
}

// Stats reports registry occupancy. It is produced without mutating state.
type Stats struct {
	TotalTokens  int `json:"totalTokens"`
	ActiveTokens int `json:"activeTokens"`
}

// HealthStatus is the result of [Engine.Health].
type HealthStatus struct {
	Available bool          `json:"available"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
}
