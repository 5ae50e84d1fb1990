// internal/utils/program_logs.go
package utils

import "strings"

// ExtractProgramLogs pulls the right-hand side of every "Program log:" line
// out of an RPC error string. The upstream error format is plain text, so the
// only way to surface on-chain failure detail is to grep it out.
func ExtractProgramLogs(errStr string) []string {
	var logs []string
	for _, line := range strings.Split(errStr, "\n") {
		if idx := strings.Index(line, "Program log:"); idx >= 0 {
			logs = append(logs, strings.TrimSpace(line[idx+len("Program log:"):]))
		}
	}
	return logs
}
