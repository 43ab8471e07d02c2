package common

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

// TestOutputSplitter_Write tests that Write accepts entries of every level
// and reports the full length written.
func TestOutputSplitter_Write(t *testing.T) {
	splitter := &OutputSplitter{}

	tests := []struct {
		name    string
		message []byte
	}{
		{
			name:    "ErrorLevel",
			message: []byte(`time="2026-08-30T10:30:00Z" level=error msg="claim write conflicted"`),
		},
		{
			name:    "InfoLevel",
			message: []byte(`time="2026-08-30T10:30:00Z" level=info msg="work item claimed"`),
		},
		{
			name:    "WarnLevel",
			message: []byte(`time="2026-08-30T10:30:00Z" level=warning msg="no customer email on file"`),
		},
		{
			name:    "ErrorWordInMessage",
			message: []byte(`time="2026-08-30T10:30:00Z" level=info msg="error budget ok"`),
		},
		{
			name:    "EmptyMessage",
			message: []byte(``),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := splitter.Write(tt.message)
			assert.NoError(t, err)
			assert.Equal(t, len(tt.message), n)
		})
	}
}

// TestOutputSplitter_ConcurrentWrites tests concurrent writes
func TestOutputSplitter_ConcurrentWrites(t *testing.T) {
	splitter := &OutputSplitter{}

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			message := []byte("concurrent log entry")
			n, err := splitter.Write(message)
			assert.NoError(t, err)
			assert.Equal(t, len(message), n)
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}

// TestLogger_Initialization tests that the global Logger is wired to the
// splitter at package init.
func TestLogger_Initialization(t *testing.T) {
	assert.NotNil(t, Logger)

	_, ok := Logger.Out.(*OutputSplitter)
	assert.True(t, ok, "Logger should use OutputSplitter")
}

func TestConfigureLogger(t *testing.T) {
	defer ConfigureLogger(LogLevelInfo, "text")

	tests := []struct {
		name     string
		level    LogLevel
		expected logrus.Level
	}{
		{"Debug", LogLevelDebug, logrus.DebugLevel},
		{"Info", LogLevelInfo, logrus.InfoLevel},
		{"Warn", LogLevelWarn, logrus.WarnLevel},
		{"Error", LogLevelError, logrus.ErrorLevel},
		{"Unknown", LogLevel("verbose"), logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ConfigureLogger(tt.level, "text")
			assert.Equal(t, tt.expected, Logger.GetLevel())
		})
	}

	t.Run("JSONFormat", func(t *testing.T) {
		ConfigureLogger(LogLevelInfo, "json")
		_, ok := Logger.Formatter.(*logrus.JSONFormatter)
		assert.True(t, ok)
	})

	t.Run("TextFormat", func(t *testing.T) {
		ConfigureLogger(LogLevelInfo, "text")
		_, ok := Logger.Formatter.(*logrus.TextFormatter)
		assert.True(t, ok)
	})
}

func TestContextLogger_Fields(t *testing.T) {
	base := NewContextLogger(nil, map[string]interface{}{
		"service": "deskd",
	})

	withItem := base.WithField("work_item", "wi-1")
	assert.Equal(t, "wi-1", withItem.fields["work_item"])
	assert.Equal(t, "deskd", withItem.fields["service"])

	// The base logger must not pick up derived fields.
	_, leaked := base.fields["work_item"]
	assert.False(t, leaked)

	merged := withItem.WithFields(map[string]interface{}{
		"agent":  "bob@contoso.com",
		"thread": "th-1",
	})
	assert.Len(t, merged.fields, 4)
}

func TestServiceLogger(t *testing.T) {
	logger := ServiceLogger("deskd", "1.2.3")

	assert.Equal(t, "deskd", logger.fields["service"])
	assert.Equal(t, "1.2.3", logger.fields["version"])
}
