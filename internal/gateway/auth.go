package gateway

import (
	"fmt"

	"github.com/Duocast/TSOD/internal/ids"
	"github.com/Duocast/TSOD/internal/wire"
)

// Identity is what an AuthProvider resolves an AuthRequest to.
type Identity struct {
	UserID      ids.UserID
	ServerID    ids.ServerID
	DisplayName string
	IsAdmin     bool
}

// AuthProvider authenticates a client's AuthRequest envelope. Production
// backends (password, OAuth, server invite tokens) are an external
// collaborator's concern; only the dev provider below ships here, grounded
// in original_source/server/gateway/src/auth.rs's DevAuthProvider.
type AuthProvider interface {
	Authenticate(req wire.AuthRequest) (Identity, error)
}

// devUserID and devServerID pin the dev token's fixed identity, matching scenario A
// in SPEC_FULL.md §8 verbatim.
var (
	devUserID, _   = ids.ParseUserID("00000000-0000-0000-0000-000000000001")
	devServerID, _ = ids.ParseServerID("00000000-0000-0000-0000-0000000000aa")
)

// DevAuthProvider accepts a single static token. It exists so the
// handshake is runnable end to end without a real identity backend.
type DevAuthProvider struct {
	Token string
}

func NewDevAuthProvider(token string) *DevAuthProvider {
	if token == "" {
		token = "dev"
	}
	return &DevAuthProvider{Token: token}
}

func (p *DevAuthProvider) Authenticate(req wire.AuthRequest) (Identity, error) {
	if req.DevToken == "" {
		return Identity{}, fmt.Errorf("unsupported auth method in dev provider")
	}
	if req.DevToken != p.Token {
		return Identity{}, fmt.Errorf("invalid dev token")
	}
	return Identity{
		UserID:      devUserID,
		ServerID:    devServerID,
		DisplayName: "dev",
		IsAdmin:     true,
	}, nil
}
