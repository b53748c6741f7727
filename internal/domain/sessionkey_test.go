package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionKey(t *testing.T) {
	ts, err := time.Parse(time.RFC3339Nano, "2024-01-15T10:30:45.123Z")
	require.NoError(t, err)

	tests := []struct {
		name     string
		bag      Bag
		expected string
	}{
		{
			name:     "session id wins",
			bag:      Bag{AttrSessionID: "s1", AttrUserEmail: "a.b@x.com"},
			expected: "s1",
		},
		{
			name:     "email fallback with hour bucket",
			bag:      Bag{AttrUserEmail: "a.b@x.com"},
			expected: "a-b-x-com-2024-01-15T10",
		},
		{
			name:     "no id and no email",
			bag:      Bag{"terminal.type": "iTerm"},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SessionKey(tt.bag, ts))
		})
	}
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "a-b-x-com", Sanitize("a.b@x.com"))
	assert.Equal(t, "Already-Clean-123", Sanitize("Already-Clean-123"))
	assert.Equal(t, "sp-ce-and-", Sanitize("sp ce/and+"))
}

func TestRecordTime(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("event.timestamp overrides OTLP nanos", func(t *testing.T) {
		bag := Bag{AttrEventTimestamp: "2024-01-15T10:30:45.123Z"}
		got := RecordTime(bag, uint64(now.UnixNano()), now)
		assert.Equal(t, 2024, got.Year())
		assert.Equal(t, time.Month(1), got.Month())
		assert.Equal(t, 10, got.UTC().Hour())
	})

	t.Run("falls back to OTLP nanos", func(t *testing.T) {
		got := RecordTime(Bag{}, uint64(now.UnixNano()), time.Now())
		assert.True(t, got.Equal(now))
	})

	t.Run("unparseable attribute ignored", func(t *testing.T) {
		bag := Bag{AttrEventTimestamp: "yesterday"}
		got := RecordTime(bag, uint64(now.UnixNano()), time.Now())
		assert.True(t, got.Equal(now))
	})

	t.Run("zero nanos means now", func(t *testing.T) {
		got := RecordTime(Bag{}, 0, now)
		assert.True(t, got.Equal(now))
	})
}

func TestIdentityFromBag(t *testing.T) {
	bag := Bag{
		AttrOrganizationID:  "org-1",
		AttrUserEmail:       "dev@example.com",
		AttrTerminalType:    "vscode",
		AttrAppVersion:      "1.0.60",
	}
	id := IdentityFromBag(bag)
	assert.Equal(t, "org-1", id.OrganizationID)
	assert.Equal(t, "dev@example.com", id.UserEmail)
	assert.Equal(t, "vscode", id.TerminalType)
	assert.Equal(t, "1.0.60", id.AppVersion)
	assert.Empty(t, id.UserAccountUUID, "absent attributes stay empty so later records can fill them")
}
