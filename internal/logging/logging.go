package logging

import (
	"fmt"
	"path/filepath"
	"time"
)

// LogFilePath names the log file of one run of a subcommand.
func LogFilePath(logsDir, command string, started time.Time) string {
	return filepath.Join(logsDir, fmt.Sprintf("vehiclesim-%s.%s.log", command, started.Format("20060102_150405")))
}

// TracePath names the state trace dump of one role, so server and client runs sit next
// to each other for diffing.
func TracePath(logsDir, role string, started time.Time) string {
	return filepath.Join(logsDir, fmt.Sprintf("statetrace-%s.%s.txt", role, started.Format("20060102_150405")))
}
