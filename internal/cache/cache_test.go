package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLGetPutExpiry(t *testing.T) {
	c := NewTTL[string, int](20 * time.Millisecond)
	c.Put("a", 1)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	time.Sleep(30 * time.Millisecond)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry should have expired")
}

func TestTTLNonPositiveNeverExpires(t *testing.T) {
	c := NewTTL[string, int](0)
	c.Put("a", 1)
	time.Sleep(10 * time.Millisecond)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestDescriptorBareIndexFollowsCanonical(t *testing.T) {
	d := NewDescriptor[string](time.Minute)
	d.Put("ms1:square", "square", "descriptor-body")

	v, ok := d.GetCanonical("ms1:square")
	require.True(t, ok)
	assert.Equal(t, "descriptor-body", v)

	v, ok = d.GetBare("square")
	require.True(t, ok)
	assert.Equal(t, "descriptor-body", v)
}

func TestDescriptorEvictionRemovesBareIndexTogether(t *testing.T) {
	d := NewDescriptor[string](time.Minute)
	d.Put("ms1:square", "square", "descriptor-body")
	d.Delete("ms1:square")

	_, ok := d.GetCanonical("ms1:square")
	assert.False(t, ok)
	_, ok = d.GetBare("square")
	assert.False(t, ok, "bare index must not outlive its canonical entry")
}

func TestDescriptorExpiryEvictsBareIndexOnRead(t *testing.T) {
	d := NewDescriptor[string](10 * time.Millisecond)
	d.Put("ms1:square", "square", "descriptor-body")
	time.Sleep(20 * time.Millisecond)

	_, ok := d.GetBare("square")
	assert.False(t, ok)
	_, ok = d.GetCanonical("ms1:square")
	assert.False(t, ok)
}

func TestDescriptorMultipleProvidersSameBareID(t *testing.T) {
	d := NewDescriptor[string](time.Minute)
	d.Put("ms1:square", "square", "from-ms1")
	d.Put("ms2:square", "square", "from-ms2")

	v, ok := d.GetBare("square")
	require.True(t, ok)
	assert.Contains(t, []string{"from-ms1", "from-ms2"}, v)

	d.Delete("ms1:square")
	v, ok = d.GetBare("square")
	require.True(t, ok, "second provider's entry should still be reachable")
	assert.Equal(t, "from-ms2", v)
}
