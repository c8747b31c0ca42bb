package contact

import (
	"errors"
	"fmt"
	"time"

	"xdao.co/feedsync/identity"
	"xdao.co/feedsync/wire"
)

const InviteVersion = 1

var (
	ErrInviteVersion = errors.New("contact: unsupported invite version")
	ErrInviteExpired = errors.New("contact: invite expired")
	ErrInvalidInvite = errors.New("contact: invalid invite")
)

// InviteCode is the payload handed to the invitee out of band, usually as a
// scanned code. Expiry is unix milliseconds; zero means it never expires.
type InviteCode struct {
	Version          int    `json:"version"`
	RandomSeed       string `json:"randomSeed"`
	ContactPublicKey string `json:"contactPublicKey"`
	ProfileName      string `json:"profileName"`
	Expiry           int64  `json:"expiry"`
}

func (c InviteCode) Marshal() ([]byte, error) { return wire.Marshal(c) }

// ParseInvite decodes and checks an invite payload.
func ParseInvite(data []byte) (InviteCode, error) {
	var c InviteCode
	if err := wire.Unmarshal(data, &c); err != nil {
		return InviteCode{}, fmt.Errorf("%w: %v", ErrInvalidInvite, err)
	}
	if c.Version != InviteVersion {
		return InviteCode{}, fmt.Errorf("%w: %d", ErrInviteVersion, c.Version)
	}
	if c.RandomSeed == "" || c.ContactPublicKey == "" {
		return InviteCode{}, fmt.Errorf("%w: missing seed or public key", ErrInvalidInvite)
	}
	return c, nil
}

// Expired reports whether the invite can no longer be used at now.
func (c InviteCode) Expired(now time.Time) bool {
	return c.Expiry != 0 && now.UnixMilli() > c.Expiry
}

// InviteFor builds the invite to hand out for an Invited contact.
func InviteFor(v Invited, profileName string, expiry time.Time) InviteCode {
	var ms int64
	if !expiry.IsZero() {
		ms = expiry.UnixMilli()
	}
	return InviteCode{
		Version:          InviteVersion,
		RandomSeed:       v.RandomSeed,
		ContactPublicKey: v.ContactIdentity.PublicKey,
		ProfileName:      profileName,
		Expiry:           ms,
	}
}

// NewInvited starts a handshake on the inviting side.
func NewInvited(helper RandomHelper, now time.Time) (Contact, error) {
	seed, err := helper.GenerateSecureRandom()
	if err != nil {
		return Contact{}, err
	}
	ephemeral, err := newEphemeral(helper)
	if err != nil {
		return Contact{}, err
	}
	return FromInvited(Invited{
		RandomSeed:      seed,
		ContactIdentity: ephemeral,
		CreatedAt:       now.UnixMilli(),
	}), nil
}

// NewCodeReceived starts a handshake on the invited side.
func NewCodeReceived(invite InviteCode, helper RandomHelper, now time.Time) (Contact, error) {
	if invite.Version != InviteVersion {
		return Contact{}, fmt.Errorf("%w: %d", ErrInviteVersion, invite.Version)
	}
	if invite.Expired(now) {
		return Contact{}, ErrInviteExpired
	}
	remote, err := identity.PublicKeyToIdentity(invite.ContactPublicKey)
	if err != nil {
		return Contact{}, fmt.Errorf("%w: %v", ErrInvalidInvite, err)
	}
	ephemeral, err := newEphemeral(helper)
	if err != nil {
		return Contact{}, err
	}
	return FromCodeReceived(CodeReceived{
		RemoteRandomSeed:      invite.RandomSeed,
		RemoteContactIdentity: remote,
		ContactIdentity:       ephemeral,
		RemoteProfileName:     invite.ProfileName,
	}), nil
}

func newEphemeral(helper RandomHelper) (identity.PrivateIdentity, error) {
	seed, err := helper.GenerateSecureRandom()
	if err != nil {
		return identity.PrivateIdentity{}, err
	}
	return helper.GenerateSecureIdentity(seed)
}
