package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPreferences(t *testing.T) {
	p := DefaultPreferences("alice")
	assert.Equal(t, "alice", p.UserID)
	assert.True(t, p.InApp)
	assert.True(t, p.AssignmentUpdates)
	assert.False(t, p.Marketing, "marketing is opt-in")
	assert.False(t, p.SMS)
}

func TestPatchAppliesOnlySetFields(t *testing.T) {
	prefs := DefaultPreferences("alice")
	yes, no := true, false

	patch := PreferencesPatch{Marketing: &yes, CourseUpdates: &no}
	patch.Apply(prefs)

	assert.True(t, prefs.Marketing)
	assert.False(t, prefs.CourseUpdates)
	assert.True(t, prefs.InApp, "untouched fields unchanged")
	assert.True(t, prefs.AssignmentUpdates)
}

func TestEmptyPatchIsNoOp(t *testing.T) {
	prefs := DefaultPreferences("alice")
	before := *prefs

	(&PreferencesPatch{}).Apply(prefs)
	assert.Equal(t, before, *prefs)
}

func TestValidRole(t *testing.T) {
	assert.True(t, ValidRole(RoleStudent))
	assert.True(t, ValidRole(RoleInstructor))
	assert.True(t, ValidRole(RoleAdmin))
	assert.False(t, ValidRole("superuser"))
	assert.False(t, ValidRole(""))
}
