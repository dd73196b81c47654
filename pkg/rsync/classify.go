package rsync

import "strings"

// Severity grades how bad a transfer failure is.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	}
	return "unknown"
}

// Category names the broad failure class.
type Category string

const (
	CategorySuccess    Category = "success"
	CategoryTransient  Category = "transient"
	CategoryResource   Category = "resource"
	CategoryPermission Category = "permission"
	CategoryUnknown    Category = "unknown"
)

// Verdict is the classifier's output for one tool invocation.
type Verdict struct {
	Severity    Severity
	Recoverable bool
	Category    Category
	Detail      string
}

// Success reports whether the invocation completed cleanly.
func (v Verdict) Success() bool { return v.Category == CategorySuccess }

// rsync exit codes that indicate a retryable condition.
const (
	exitPartialTransfer = 23 // some files could not be transferred
	exitVanishedSource  = 24 // source files vanished during transfer
	exitSocketIO        = 10 // error in socket I/O
	exitStreamIO        = 12 // error in the protocol data stream
	exitTimeoutData     = 30 // timeout in data send/receive
	exitTimeoutConn     = 35 // timeout waiting for daemon connection
)

// rule maps a predicate over the invocation outcome to a verdict.
// Rules are evaluated in order and the first match wins.
type rule struct {
	match   func(code int, stderr string) bool
	verdict Verdict
}

var rules = []rule{
	{
		match:   func(code int, _ string) bool { return code == 0 },
		verdict: Verdict{Severity: SeverityLow, Recoverable: false, Category: CategorySuccess},
	},
	{
		match: func(code int, _ string) bool {
			return code == exitPartialTransfer || code == exitVanishedSource
		},
		verdict: Verdict{Severity: SeverityMedium, Recoverable: true, Category: CategoryTransient,
			Detail: "partial transfer or vanished source; safe to retry"},
	},
	{
		match: func(code int, _ string) bool {
			return code == exitTimeoutData || code == exitTimeoutConn ||
				code == exitSocketIO || code == exitStreamIO
		},
		verdict: Verdict{Severity: SeverityMedium, Recoverable: true, Category: CategoryTransient,
			Detail: "timeout or I/O stream error; safe to retry"},
	},
	{
		match: func(_ int, stderr string) bool {
			return strings.Contains(stderr, "no space left") ||
				strings.Contains(stderr, "disk full") ||
				strings.Contains(stderr, "quota exceeded")
		},
		verdict: Verdict{Severity: SeverityCritical, Recoverable: false, Category: CategoryResource,
			Detail: "destination out of space; free space or lower the target"},
	},
	{
		match: func(_ int, stderr string) bool {
			return strings.Contains(stderr, "permission denied") ||
				strings.Contains(stderr, "operation not permitted")
		},
		verdict: Verdict{Severity: SeverityHigh, Recoverable: false, Category: CategoryPermission,
			Detail: "permission denied; check ownership and run as root"},
	},
}

// Classify maps a tool exit code and captured stderr to a verdict using the
// ordered rule list.
func Classify(exitCode int, stderrLines []string) Verdict {
	stderr := strings.ToLower(strings.Join(stderrLines, "\n"))
	for _, r := range rules {
		if r.match(exitCode, stderr) {
			return r.verdict
		}
	}
	return Verdict{
		Severity:    SeverityHigh,
		Recoverable: false,
		Category:    CategoryUnknown,
		Detail:      "tool failed; inspect stderr output",
	}
}
