// Package policy decides whether an actor may perform an operation on a
// resource. Decide is pure: no I/O, no side effects, and every
// (operation, actor, resource) combination maps to exactly one decision.
package policy

import "fmt"

// Operation names an access-controlled action.
type Operation int

const (
	OpUnknown Operation = iota
	OpListUsers
	OpViewProfile
	OpCreateMessage
	OpViewMessage
	OpMarkRead
	OpListSent
	OpListReceived
)

var operationNames = map[Operation]string{
	OpUnknown:       "unknown",
	OpListUsers:     "list_users",
	OpViewProfile:   "view_profile",
	OpCreateMessage: "create_message",
	OpViewMessage:   "view_message",
	OpMarkRead:      "mark_read",
	OpListSent:      "list_sent",
	OpListReceived:  "list_received",
}

func (o Operation) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return fmt.Sprintf("operation(%d)", int(o))
}

// Actor is the identity performing a request. The zero value is anonymous.
type Actor struct {
	Username string
}

// Anonymous is the actor of a request without a valid session token.
var Anonymous = Actor{}

func (a Actor) IsAnonymous() bool {
	return a.Username == ""
}

// ResourceKind tells Decide how to read a Resource.
type ResourceKind int

const (
	KindNone ResourceKind = iota
	KindUser
	KindMessage
	KindDraft
)

// Resource is a snapshot of the target of an operation.
type Resource struct {
	Kind ResourceKind

	// Username is the target of KindUser.
	Username string

	// From and To are the parties of KindMessage and KindDraft.
	From string
	To   string

	// RecipientExists is set for KindDraft once the recipient was looked up.
	RecipientExists bool
}

// NoResource is the target of operations that address no single record.
var NoResource = Resource{Kind: KindNone}

func UserResource(username string) Resource {
	return Resource{Kind: KindUser, Username: username}
}

func MessageResource(from, to string) Resource {
	return Resource{Kind: KindMessage, From: from, To: to}
}

// DraftResource describes a message about to be created.
func DraftResource(from, to string, recipientExists bool) Resource {
	return Resource{Kind: KindDraft, From: from, To: to, RecipientExists: recipientExists}
}

// Decision is the outcome of Decide.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Reason: reason}
}

// Decide applies the access rules. Rules are checked in order and the first
// failing rule denies.
func Decide(actor Actor, op Operation, res Resource) Decision {
	if actor.IsAnonymous() {
		return deny("authentication required")
	}

	switch op {
	case OpListUsers:
		return allow()

	case OpViewProfile:
		if res.Kind != KindUser {
			return deny("profile requires a user resource")
		}
		if actor.Username != res.Username {
			return deny("profiles are visible only to their owner")
		}
		return allow()

	case OpCreateMessage:
		if res.Kind != KindDraft {
			return deny("message creation requires a draft resource")
		}
		if actor.Username != res.From {
			return deny("messages can only be sent as yourself")
		}
		if !res.RecipientExists {
			return deny("recipient does not exist")
		}
		return allow()

	case OpViewMessage:
		if res.Kind != KindMessage {
			return deny("viewing requires a message resource")
		}
		if actor.Username != res.From && actor.Username != res.To {
			return deny("only the sender or recipient may view a message")
		}
		return allow()

	case OpMarkRead:
		if res.Kind != KindMessage {
			return deny("marking read requires a message resource")
		}
		if actor.Username != res.To {
			return deny("only the recipient may mark a message read")
		}
		return allow()

	case OpListSent, OpListReceived:
		if res.Kind != KindUser {
			return deny("listing messages requires a user resource")
		}
		if actor.Username != res.Username {
			return deny("message lists are visible only to their owner")
		}
		return allow()
	}

	return deny(fmt.Sprintf("no rule for %s", op))
}
