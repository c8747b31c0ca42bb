package contact

import (
	"context"
	"errors"
	"fmt"
	"time"

	"xdao.co/feedsync/identity"
	"xdao.co/feedsync/wire"
)

var (
	// ErrInvalidContact is returned for a Contact whose Type and variant disagree.
	ErrInvalidContact = errors.New("contact: invalid contact")
	// ErrInvalidPeerMessage is returned when a decrypted handshake message is malformed.
	ErrInvalidPeerMessage = errors.New("contact: invalid peer message")
)

// Advance moves c forward as far as the peer's published messages allow.
//
// Every read polls for up to timeout. A peer that has not answered yet is not
// an error: c is returned unchanged, or with its sent flag set, and the
// caller advances it again later. Errors are returned only when a message was
// found but fails decryption or is malformed; c is then returned unchanged.
func Advance(ctx context.Context, c Contact, helper Helper, timeout time.Duration) (Contact, error) {
	switch c.Type {
	case TypeInvited:
		if c.Invited == nil {
			break
		}
		return advanceInvited(ctx, *c.Invited, helper, timeout)
	case TypeAccepted:
		if c.Accepted == nil {
			break
		}
		return advanceAccepted(ctx, *c.Accepted, helper, timeout)
	case TypeCodeReceived:
		if c.CodeReceived == nil {
			break
		}
		return advanceCodeReceived(ctx, *c.CodeReceived, helper, timeout)
	case TypeIncoming:
		if c.Incoming == nil {
			break
		}
		return advanceIncoming(ctx, *c.Incoming, helper, timeout)
	case TypeMutual:
		if c.Mutual == nil {
			break
		}
		return c, nil
	}
	return c, fmt.Errorf("%w: type %q", ErrInvalidContact, c.Type)
}

func advanceInvited(ctx context.Context, v Invited, helper Helper, timeout time.Duration) (Contact, error) {
	seedIdentity, err := helper.GenerateSecureIdentity(v.RandomSeed)
	if err != nil {
		return FromInvited(v), err
	}
	data, err := helper.Read(ctx, seedIdentity.Address, timeout)
	if err != nil {
		return FromInvited(v), nil
	}
	publicKey, err := helper.Decrypt(data, v.RandomSeed)
	if err != nil {
		return FromInvited(v), fmt.Errorf("contact: decrypt peer key: %w", err)
	}
	remote, err := identity.PublicKeyToIdentity(string(publicKey))
	if err != nil {
		return FromInvited(v), fmt.Errorf("%w: %v", ErrInvalidPeerMessage, err)
	}
	sharedKey, err := identity.DeriveSharedKey(v.ContactIdentity, remote.PublicKey)
	if err != nil {
		return FromInvited(v), err
	}
	return advanceAccepted(ctx, Accepted{
		ContactIdentity:       v.ContactIdentity,
		RemoteContactIdentity: remote,
		SharedKey:             sharedKey,
	}, helper, timeout)
}

func advanceAccepted(ctx context.Context, v Accepted, helper Helper, timeout time.Duration) (Contact, error) {
	if !v.IsPublicKeySent {
		sent, err := publishProfile(ctx, helper, v.ContactIdentity, v.SharedKey, timeout)
		if err != nil {
			return FromAccepted(v), err
		}
		if !sent {
			return FromAccepted(v), nil
		}
		v.IsPublicKeySent = true
	}

	data, err := helper.Read(ctx, v.RemoteContactIdentity.Address, timeout)
	if err != nil {
		return FromAccepted(v), nil
	}
	p, remote, err := openProfile(helper, data, v.SharedKey)
	if err != nil {
		return FromAccepted(v), err
	}
	return FromMutual(Mutual{
		Name:      p.Name,
		Identity:  remote,
		Confirmed: true,
		SharedKey: v.SharedKey,
	}), nil
}

func advanceCodeReceived(ctx context.Context, v CodeReceived, helper Helper, timeout time.Duration) (Contact, error) {
	if !v.IsPublicKeySent {
		seedIdentity, err := helper.GenerateSecureIdentity(v.RemoteRandomSeed)
		if err != nil {
			return FromCodeReceived(v), err
		}
		encrypted, err := helper.Encrypt([]byte(v.ContactIdentity.PublicKey), v.RemoteRandomSeed)
		if err != nil {
			return FromCodeReceived(v), err
		}
		if err := helper.Write(ctx, seedIdentity, encrypted, timeout); err != nil {
			return FromCodeReceived(v), nil
		}
		v.IsPublicKeySent = true
	}

	sharedKey, err := identity.DeriveSharedKey(v.ContactIdentity, v.RemoteContactIdentity.PublicKey)
	if err != nil {
		return FromCodeReceived(v), err
	}
	data, err := helper.Read(ctx, v.RemoteContactIdentity.Address, timeout)
	if err != nil {
		return FromCodeReceived(v), nil
	}
	p, remote, err := openProfile(helper, data, sharedKey)
	if err != nil {
		return FromCodeReceived(v), err
	}
	return advanceIncoming(ctx, Incoming{
		ContactIdentity:       v.ContactIdentity,
		RemoteContactIdentity: v.RemoteContactIdentity,
		SharedKey:             sharedKey,
		Identity:              remote,
		Name:                  p.Name,
	}, helper, timeout)
}

func advanceIncoming(ctx context.Context, v Incoming, helper Helper, timeout time.Duration) (Contact, error) {
	sent, err := publishProfile(ctx, helper, v.ContactIdentity, v.SharedKey, timeout)
	if err != nil || !sent {
		return FromIncoming(v), err
	}
	return FromMutual(Mutual{
		Name:      v.Name,
		Identity:  v.Identity,
		Confirmed: false,
		SharedKey: v.SharedKey,
	}), nil
}

// publishProfile writes the own long-term key and name on the feed of
// ephemeral. A failed write reports false without an error.
func publishProfile(ctx context.Context, helper Helper, ephemeral identity.PrivateIdentity, sharedKey string, timeout time.Duration) (bool, error) {
	plain, err := wire.Marshal(profile{
		PublicKey: helper.OwnIdentity().PublicKey,
		Name:      helper.ProfileName(),
	})
	if err != nil {
		return false, err
	}
	encrypted, err := helper.Encrypt(plain, sharedKey)
	if err != nil {
		return false, err
	}
	if err := helper.Write(ctx, ephemeral, encrypted, timeout); err != nil {
		return false, nil
	}
	return true, nil
}

func openProfile(helper Helper, data []byte, sharedKey string) (profile, identity.PublicIdentity, error) {
	plain, err := helper.Decrypt(data, sharedKey)
	if err != nil {
		return profile{}, identity.PublicIdentity{}, fmt.Errorf("contact: decrypt profile: %w", err)
	}
	var p profile
	if err := wire.Unmarshal(plain, &p); err != nil {
		return profile{}, identity.PublicIdentity{}, fmt.Errorf("%w: %v", ErrInvalidPeerMessage, err)
	}
	remote, err := identity.PublicKeyToIdentity(p.PublicKey)
	if err != nil {
		return profile{}, identity.PublicIdentity{}, fmt.Errorf("%w: %v", ErrInvalidPeerMessage, err)
	}
	return p, remote, nil
}
