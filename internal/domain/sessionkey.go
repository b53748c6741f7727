package domain

import (
	"strings"
	"time"
)

// Standard attribute keys shared across Claude Code records.
const (
	AttrSessionID       = "session.id"
	AttrOrganizationID  = "organization.id"
	AttrUserAccountUUID = "user.account_uuid"
	AttrUserEmail       = "user.email"
	AttrTerminalType    = "terminal.type"
	AttrAppVersion      = "app.version"
	AttrEventTimestamp  = "event.timestamp"
)

// Identity holds the first-write-wins identity attributes of a session.
type Identity struct {
	OrganizationID  string
	UserAccountUUID string
	UserEmail       string
	TerminalType    string
	AppVersion      string
}

// IdentityFromBag extracts identity attributes, leaving absent ones empty so
// that a later record can still fill them in.
func IdentityFromBag(bag Bag) Identity {
	return Identity{
		OrganizationID:  bag.StringOr(AttrOrganizationID, ""),
		UserAccountUUID: bag.StringOr(AttrUserAccountUUID, ""),
		UserEmail:       bag.StringOr(AttrUserEmail, ""),
		TerminalType:    bag.StringOr(AttrTerminalType, ""),
		AppVersion:      bag.StringOr(AttrAppVersion, ""),
	}
}

// SessionKey derives the key grouping a record into a session: the client's
// session.id when present, otherwise the sanitized user email joined with the
// UTC hour of the record timestamp. Returns "" when neither is derivable.
func SessionKey(bag Bag, ts time.Time) string {
	if id := bag.StringOr(AttrSessionID, ""); id != "" {
		return id
	}
	email := bag.StringOr(AttrUserEmail, "")
	if email == "" {
		return ""
	}
	return Sanitize(email) + "-" + ts.UTC().Format("2006-01-02T15")
}

// Sanitize replaces every rune outside [A-Za-z0-9-] with '-'.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, s)
}

// RecordTime resolves the effective timestamp of a record: the ISO-8601
// event.timestamp attribute when present and parseable, else the OTLP
// timeUnixNano value, else now.
func RecordTime(bag Bag, timeUnixNano uint64, now time.Time) time.Time {
	if raw := bag.StringOr(AttrEventTimestamp, ""); raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return t
		}
	}
	if timeUnixNano > 0 {
		return time.Unix(0, int64(timeUnixNano)).UTC()
	}
	return now
}
