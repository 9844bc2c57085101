// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Output: &buf})

	l.Info("should not appear")
	l.Warn("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "should appear")
}

func TestWithComponentTagsLines(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Output: &buf}).WithComponent("manager")

	l.Info("starting")

	require.Contains(t, buf.String(), "component=manager")
}

func TestWithFieldsAndError(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Output: &buf}).
		WithFields(map[string]any{"backend": "packetfilter"}).
		WithError(assertErr("boom"))

	l.Error("apply failed")

	out := buf.String()
	assert.True(t, strings.Contains(out, "backend=packetfilter"))
	assert.True(t, strings.Contains(out, "error=boom"))
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertErr(msg string) error { return simpleErr(msg) }

func TestDefaultLoggerIsUsable(t *testing.T) {
	require.NotNil(t, Default())
	SetDefault(New(DefaultConfig()))
	Info("hello", "k", "v")
}
