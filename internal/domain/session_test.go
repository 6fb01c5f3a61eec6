package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSession(t *testing.T) {
	t.Run("keeps given name", func(t *testing.T) {
		s := NewSession("  alice ")
		assert.Equal(t, "alice", s.Name)
		assert.True(t, strings.HasPrefix(s.ID, "user_"))
	})

	t.Run("generates name when empty", func(t *testing.T) {
		s := NewSession("")
		assert.True(t, strings.HasPrefix(s.Name, "User "))
	})

	t.Run("ids are unique", func(t *testing.T) {
		assert.NotEqual(t, NewSession("a").ID, NewSession("a").ID)
	})
}

func TestResumeSession(t *testing.T) {
	first := NewSession("ann")

	t.Run("keeps a known id", func(t *testing.T) {
		s := ResumeSession(first.ID, "ann")
		assert.Equal(t, first.ID, s.ID)
		assert.Equal(t, "ann", s.Name)
	})

	tests := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"missing prefix", strings.TrimPrefix(first.ID, "user_")},
		{"not a uuid", "user_<script>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ResumeSession(tt.id, "ann")
			assert.NotEqual(t, tt.id, s.ID)
			assert.True(t, strings.HasPrefix(s.ID, "user_"))
		})
	}
}

func TestSession_Avatar(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"bob", "B"},
		{"élodie", "É"},
		{"", "?"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Session{Name: tt.name}.Avatar())
		})
	}
}

func TestChangeConstructors(t *testing.T) {
	m := Message{ID: "a", Text: "hi"}
	assert.Equal(t, Change{Kind: Added, ID: "a", Message: m}, AddedChange(m))
	assert.Equal(t, Change{Kind: Modified, ID: "a", Message: m}, ModifiedChange(m))
	assert.Equal(t, Change{Kind: Removed, ID: "a"}, RemovedChange("a"))
	assert.Equal(t, "removed", Removed.String())
}
