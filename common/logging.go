package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log output to the right stream: entries
// carrying "level=error" go to stderr, everything else to stdout. Container
// orchestrators and log pipelines can then treat the two streams differently
// without parsing every line.
//
// The splitter operates on the final formatted output, so it works with both
// the text and JSON logrus formatters. It is safe for concurrent use; it only
// reads the input and writes to the OS streams.
type OutputSplitter struct{}

// Write implements io.Writer, selecting stderr for error-level entries.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the global logger for all support desk services. It is
// pre-configured with the OutputSplitter; services adjust level and format at
// startup based on configuration.
//
// Usage:
//
//	common.Logger.WithFields(logrus.Fields{
//	    "work_item": itemID,
//	    "agent":     agentID,
//	}).Info("work item claimed")
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}
