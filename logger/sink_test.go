package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestReport(t *testing.T) {
	require := require.New(t)

	t.Run("routes severity to level", func(t *testing.T) {
		m := NewMockLogger()
		m.On("Warn", "pool empty", mock.Anything).Return()
		m.On("Error", "connection failed", mock.Anything).Return()
		m.On("Info", "opened", mock.Anything).Return()

		Report(m, SeverityWarning, "port.Base", "pool empty")
		Report(m, SeverityError, "port.TCPPort", "connection failed", "try", 3)
		Report(m, SeverityInfo, "manager", "opened")

		m.AssertExpectations(t)
		args := m.Calls[1].Arguments.Get(1).([]any)
		require.Equal([]any{"severity", "error", "src", "port.TCPPort", "try", 3}, args)
	})

	t.Run("json output carries source", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewSlogWriter(&buf, DebugLevel, false)

		Report(l, SeverityError, "manager", "unhandled error", "code", 7)

		var rec map[string]any
		require.NoError(json.Unmarshal(buf.Bytes(), &rec))
		require.Equal("unhandled error", rec["msg"])
		require.Equal("manager", rec["src"])
		require.Equal("error", rec["severity"])
		require.Contains(rec, "ts")
	})
}

func TestSlogLevel(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	l := NewSlogWriter(&buf, WarnLevel, false)
	require.Equal(WarnLevel, l.Level())

	l.Info("hidden")
	require.Zero(buf.Len())

	l.SetLevel(DebugLevel)
	require.Equal(DebugLevel, l.Level())
	l.With("port", "tcp").Debug("shown")
	require.Contains(buf.String(), `"port":"tcp"`)
}

func TestSetDefault(t *testing.T) {
	require := require.New(t)

	prev := GetLogger()
	t.Cleanup(func() { SetDefault(prev) })

	var buf bytes.Buffer
	SetDefault(NewSlogWriter(&buf, DebugLevel, false))
	SetDefault(nil)

	With("component", "test").Info("routed")
	require.Contains(buf.String(), `"msg":"routed"`)
	require.Contains(buf.String(), `"component":"test"`)
}

func TestMockLogger_AllowAll(t *testing.T) {
	m := NewMockLogger()
	m.On("Error", "boom", mock.Anything).Once()
	m.AllowAll()

	l := m.With("component", "manager")
	l.Debug("noise", "k", 1)
	l.Error("boom", "code", 2)

	require.Same(t, m, l)
	m.AssertCalled(t, "Error", "boom", []any{"code", 2})
	m.AssertNumberOfCalls(t, "Debug", 1)
}
