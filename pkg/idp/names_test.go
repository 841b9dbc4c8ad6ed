package idp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultNamesFromEmail(t *testing.T) {
	tests := []struct {
		email     string
		wantFirst string
		wantLast  string
	}{
		{"jane_doe@example.com", "Jane", "Doe"},
		{"john-SMITH@example.com", "John", "Smith"},
		{"ops@example.com", "Ops", "Account"},
		{"a_b_c@example.com", "A", "B"},
		{"__@example.com", "User", "Account"},
		{"", "User", "Account"},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			first, last := DefaultNamesFromEmail(tt.email)
			assert.Equal(t, tt.wantFirst, first)
			assert.Equal(t, tt.wantLast, last)
		})
	}
}

func TestSplitFullName(t *testing.T) {
	first, last := SplitFullName("  Ada King Lovelace ")
	assert.Equal(t, "Ada", first)
	assert.Equal(t, "King Lovelace", last)

	first, last = SplitFullName("Plato")
	assert.Equal(t, "Plato", first)
	assert.Empty(t, last)
}

func TestUserRepresentation_FullName(t *testing.T) {
	assert.Equal(t, "Jane Doe", (&UserRepresentation{FirstName: "Jane", LastName: "Doe"}).FullName())
	assert.Equal(t, "Jane", (&UserRepresentation{FirstName: "Jane"}).FullName())
	assert.Equal(t, "", (&UserRepresentation{}).FullName())
}
