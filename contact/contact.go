// Package contact establishes a shared secret between two people who only
// exchanged an invite out of band.
//
// The inviting side starts as Invited and moves through Accepted to Mutual.
// The invited side starts as CodeReceived and moves through Incoming to
// Mutual. Each step is driven by Advance and returns a new Contact; no state
// ever moves backwards.
package contact

import (
	"xdao.co/feedsync/identity"
	"xdao.co/feedsync/privatechannel"
)

type Type string

const (
	TypeInvited      Type = "invited-contact"
	TypeAccepted     Type = "accepted-contact"
	TypeCodeReceived Type = "code-received-contact"
	TypeIncoming     Type = "incoming-contact"
	TypeMutual       Type = "mutual-contact"
)

// Contact is a tagged variant. Exactly the field named by Type is set.
type Contact struct {
	Type         Type          `json:"type"`
	Invited      *Invited      `json:"invited,omitempty"`
	Accepted     *Accepted     `json:"accepted,omitempty"`
	CodeReceived *CodeReceived `json:"codeReceived,omitempty"`
	Incoming     *Incoming     `json:"incoming,omitempty"`
	Mutual       *Mutual       `json:"mutual,omitempty"`
}

// Invited is the inviter before the peer answered.
type Invited struct {
	RandomSeed      string                   `json:"randomSeed"`
	ContactIdentity identity.PrivateIdentity `json:"contactIdentity"`
	CreatedAt       int64                    `json:"createdAt"`
}

// Accepted is the inviter after learning the peer's ephemeral key.
type Accepted struct {
	ContactIdentity       identity.PrivateIdentity `json:"contactIdentity"`
	RemoteContactIdentity identity.PublicIdentity  `json:"remoteContactIdentity"`
	SharedKey             string                   `json:"sharedKey"`
	IsPublicKeySent       bool                     `json:"isPublicKeySent"`
}

// CodeReceived is the invitee right after reading an invite.
type CodeReceived struct {
	RemoteRandomSeed      string                   `json:"remoteRandomSeed"`
	RemoteContactIdentity identity.PublicIdentity  `json:"remoteContactIdentity"`
	ContactIdentity       identity.PrivateIdentity `json:"contactIdentity"`
	RemoteProfileName     string                   `json:"remoteProfileName,omitempty"`
	IsPublicKeySent       bool                     `json:"isPublicKeySent"`
}

// Incoming is the invitee after receiving the inviter's profile.
type Incoming struct {
	ContactIdentity       identity.PrivateIdentity `json:"contactIdentity"`
	RemoteContactIdentity identity.PublicIdentity  `json:"remoteContactIdentity"`
	SharedKey             string                   `json:"sharedKey"`
	Identity              identity.PublicIdentity  `json:"identity"`
	Name                  string                   `json:"name"`
}

// Mutual is the terminal state. Confirmed is false on the invitee side until
// the user confirms the contact.
type Mutual struct {
	Name           string                  `json:"name"`
	Identity       identity.PublicIdentity `json:"identity"`
	Confirmed      bool                    `json:"confirmed"`
	SharedKey      string                  `json:"sharedKey"`
	PrivateChannel privatechannel.SyncData `json:"privateChannel"`
}

func FromInvited(v Invited) Contact { return Contact{Type: TypeInvited, Invited: &v} }

func FromAccepted(v Accepted) Contact { return Contact{Type: TypeAccepted, Accepted: &v} }

func FromCodeReceived(v CodeReceived) Contact {
	return Contact{Type: TypeCodeReceived, CodeReceived: &v}
}

func FromIncoming(v Incoming) Contact { return Contact{Type: TypeIncoming, Incoming: &v} }

func FromMutual(v Mutual) Contact { return Contact{Type: TypeMutual, Mutual: &v} }

func (c Contact) IsMutual() bool { return c.Type == TypeMutual && c.Mutual != nil }

// profile is what each side publishes once the ephemeral shared key is known.
type profile struct {
	PublicKey string `json:"publicKey"`
	Name      string `json:"name"`
}
