package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyDeterministic(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := Key("/srv/projects/demo", ts)
	b := Key("/srv/projects/demo", ts)
	assert.Equal(t, a, b)
	assert.True(t, len(a) > len(keyPrefix))
}

func TestKeyChangesWithLastModified(t *testing.T) {
	t1 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	t2 := t1.Add(time.Second)
	assert.NotEqual(t, Key("/srv/projects/demo", t1), Key("/srv/projects/demo", t2))
}

func TestProjectHashStableAcrossFingerprints(t *testing.T) {
	assert.Equal(t, projectHash("/srv/projects/demo"), projectHash("/srv/projects/demo"))
	assert.NotEqual(t, projectHash("/srv/projects/demo"), projectHash("/srv/projects/other"))
}
