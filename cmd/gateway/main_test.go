package main

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestSplitServerURLParsesHostAndPort(t *testing.T) {
	host, port, ok := splitServerURL("http://localhost:5000")
	assert.True(t, ok)
	assert.Equal(t, "localhost", host)
	assert.Equal(t, "5000", port)
}

func TestSplitServerURLWithoutSchemeOrPort(t *testing.T) {
	_, _, ok := splitServerURL("localhost")
	assert.False(t, ok)
}

func TestLevelForDevelopmentIsDebug(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, levelFor("development"))
	assert.Equal(t, logrus.InfoLevel, levelFor("production"))
}
