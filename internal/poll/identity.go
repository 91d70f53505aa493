package poll

import (
	"github.com/sujalbistaa/pollwave/internal/apperr"
	"github.com/sujalbistaa/pollwave/internal/auth"
)

// IdentityKind tells how a voter was identified.
type IdentityKind string

const (
	IdentityAuthenticated    IdentityKind = "authenticated"
	IdentityAnonymousAddress IdentityKind = "anonymous_address"
	IdentityAnonymousToken   IdentityKind = "anonymous_token"
)

// Caller is what the transport knows about whoever is voting.
type Caller struct {
	ProfileID  string
	OriginAddr string
	VoterToken string
	UserAgent  string
}

// Identity is a resolved voter. Exactly one of ProfileID and AnonymousID is set.
type Identity struct {
	Kind        IdentityKind
	ProfileID   string
	AnonymousID string
}

func (i Identity) Authenticated() bool { return i.Kind == IdentityAuthenticated }

// Key is the one-vote-per-voter key stored with each vote.
func (i Identity) Key() string {
	switch i.Kind {
	case IdentityAuthenticated:
		return "profile:" + i.ProfileID
	case IdentityAnonymousToken:
		return "token:" + i.AnonymousID
	default:
		return "addr:" + i.AnonymousID
	}
}

// IdentityResolver turns a caller into a voter identity. Authenticated
// callers always resolve to their profile; resolvers differ in how they
// treat anonymous callers.
type IdentityResolver interface {
	Resolve(c Caller) (Identity, error)
}

// AddressResolver identifies anonymous voters by a salted hash of their
// network address. Shared and rotating addresses make this a weak signal.
type AddressResolver struct {
	Salt string
}

func (r AddressResolver) Resolve(c Caller) (Identity, error) {
	if c.ProfileID != "" {
		return Identity{Kind: IdentityAuthenticated, ProfileID: c.ProfileID}, nil
	}
	if c.OriginAddr == "" {
		return Identity{}, apperr.New(apperr.KindUnauthorized, "Unable to identify voter")
	}
	return Identity{Kind: IdentityAnonymousAddress, AnonymousID: auth.HashAddress(c.OriginAddr, r.Salt)}, nil
}

// TokenResolver requires anonymous voters to present a signed voter token.
type TokenResolver struct {
	Secret string
}

func (r TokenResolver) Resolve(c Caller) (Identity, error) {
	if c.ProfileID != "" {
		return Identity{Kind: IdentityAuthenticated, ProfileID: c.ProfileID}, nil
	}
	if c.VoterToken == "" {
		return Identity{}, apperr.New(apperr.KindUnauthorized, "Voter token required")
	}
	id, err := auth.VerifyVoterToken(c.VoterToken, r.Secret)
	if err != nil {
		return Identity{}, apperr.New(apperr.KindUnauthorized, "Invalid voter token")
	}
	return Identity{Kind: IdentityAnonymousToken, AnonymousID: id}, nil
}
