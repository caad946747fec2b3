package archive

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyIsDeterministic(t *testing.T) {
	ids := []string{"t1", "t2", "t1"}
	assert.Equal(t, Key(ids), Key([]string{"t1", "t2", "t1"}))
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), Key(ids))
}

func TestKeySensitivity(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
	}{
		{name: "order", a: []string{"a", "b"}, b: []string{"b", "a"}},
		{name: "multiplicity", a: []string{"a", "a"}, b: []string{"a"}},
		{name: "membership", a: []string{"a", "b"}, b: []string{"a", "c"}},
		{name: "boundaries", a: []string{"ab", "c"}, b: []string{"a", "bc"}},
		{name: "separator inside id", a: []string{"a,b"}, b: []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, Key(tt.a), Key(tt.b))
		})
	}
}

func TestFilename(t *testing.T) {
	key := Key([]string{"a"})
	assert.Equal(t, key+".zip", Filename(key))
	assert.NoError(t, validateName(Filename(key)))
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"", "x.zip", "../" + Key([]string{"a"}) + ".zip", Key([]string{"a"}), "ABCDEF0123456789ABCDEF0123456789.zip"} {
		assert.ErrorIs(t, validateName(name), ErrInvalidName, name)
	}
}

func TestEntryNamesUnique(t *testing.T) {
	n := newEntryNames()
	assert.Equal(t, "A - x.m4a", n.unique("A - x.m4a"))
	assert.Equal(t, "A - x (2).m4a", n.unique("A - x.m4a"))
	assert.Equal(t, "A - x (3).m4a", n.unique("A - x.m4a"))
	assert.Equal(t, "B.m4a", n.unique("B.m4a"))
}
