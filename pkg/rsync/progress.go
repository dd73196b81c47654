package rsync

import (
	"regexp"
	"strconv"
	"strings"
)

// Progress is one structured update parsed from the tool's progress stream.
// Fields other than BytesDone are zero when the line did not carry them.
type Progress struct {
	BytesDone       int64
	Percent         int
	RateBytesPerSec int64
	ETASeconds      int64
	Path            string
}

// progress2 lines look like:
//
//	1,234,567,890  42%  118.42MB/s  0:01:23 (xfr#12, to-chk=34/56)
var progressRe = regexp.MustCompile(`^\s*([\d,]+)\s+(\d+)%(?:\s+([\d.]+)([kKMGT]?i?B)/s)?(?:\s+(\d+):(\d{2}):(\d{2}))?`)

// Parser consumes the tool's stdout line by line and yields progress
// updates. Parsing is lenient: lines that do not match are ignored, and
// updates never go backwards in BytesDone.
type Parser struct {
	lastBytes int64
	lastPath  string
}

// ParseLine parses one output line. The second return is false when the
// line carried no progress update.
func (p *Parser) ParseLine(line string) (Progress, bool) {
	if m := progressRe.FindStringSubmatch(line); m != nil {
		bytes, err := strconv.ParseInt(strings.ReplaceAll(m[1], ",", ""), 10, 64)
		if err != nil {
			return Progress{}, false
		}
		if bytes < p.lastBytes {
			// --inplace restarts can rewind the counter; keep it monotonic.
			bytes = p.lastBytes
		}
		p.lastBytes = bytes

		pct, _ := strconv.Atoi(m[2])
		rateVal, _ := strconv.ParseFloat(m[3], 64)
		hours, _ := strconv.ParseInt(m[5], 10, 64)
		mins, _ := strconv.ParseInt(m[6], 10, 64)
		secs, _ := strconv.ParseInt(m[7], 10, 64)

		return Progress{
			BytesDone:       bytes,
			Percent:         pct,
			RateBytesPerSec: int64(rateVal * float64(unitMultiplier(m[4]))),
			ETASeconds:      hours*3600 + mins*60 + secs,
			Path:            p.lastPath,
		}, true
	}

	// Bare relative path lines (verbose file listing) name the entry
	// currently being transferred.
	trimmed := strings.TrimSpace(line)
	if trimmed != "" && !strings.ContainsAny(trimmed, "%") && !strings.HasPrefix(trimmed, "sending ") &&
		!strings.HasPrefix(trimmed, "sent ") && !strings.HasPrefix(trimmed, "total size") &&
		!strings.Contains(trimmed, " ") {
		p.lastPath = trimmed
	}
	return Progress{}, false
}

func unitMultiplier(unit string) int64 {
	switch strings.ToUpper(strings.TrimSuffix(unit, "B")) {
	case "K", "KI":
		return 1 << 10
	case "M", "MI":
		return 1 << 20
	case "G", "GI":
		return 1 << 30
	case "T", "TI":
		return 1 << 40
	default:
		return 1
	}
}
