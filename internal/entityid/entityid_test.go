package entityid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForIsDeterministicAndPrefixed(t *testing.T) {
	a := For(KindPerson, "jane smith")
	b := For(KindPerson, "jane smith")
	assert.Equal(t, a, b)
	assert.Len(t, a, len(KindPerson)+1+16)
}

func TestForLowerCollidesCase(t *testing.T) {
	assert.Equal(t, ForLower(KindPerson, "Jane Smith"), ForLower(KindPerson, "jane smith"))
}

func TestEventPreservesCase(t *testing.T) {
	// Events are hashed on their raw title: differing case yields distinct IDs.
	assert.NotEqual(t, For(KindEvent, "Board Meeting"), For(KindEvent, "board meeting"))
}

func TestDifferentKindsDifferentIDs(t *testing.T) {
	assert.NotEqual(t, For(KindPerson, "x"), For(KindOrganization, "x"))
}
