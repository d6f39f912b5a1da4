package gateway

import "strings"

type Verdict int

const (
	Unknown Verdict = iota
	Approved
	Declined
	Refunded
)

func (v Verdict) String() string {
	switch v {
	case Approved:
		return "approved"
	case Declined:
		return "declined"
	case Refunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// Classify maps a gateway status (and optional result code) to a verdict.
// Anything it does not recognise is Unknown and must not change state.
func Classify(status, resultCode string) Verdict {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "COMPLETED", "SUCCESS", "APPROVED":
		return Approved
	case "DECLINED", "FAILED", "REJECTED", "CANCELLED", "ERROR":
		return Declined
	case "REFUNDED":
		return Refunded
	}
	if resultCodeDeclined(resultCode) {
		return Declined
	}
	return Unknown
}

// ClassifyRedirect is Classify for the browser return leg, where a declining
// resultCode wins over the status. A return with no status proves nothing and is Unknown.
func ClassifyRedirect(status, resultCode string) Verdict {
	if resultCodeDeclined(resultCode) {
		return Declined
	}
	return Classify(status, resultCode)
}

func resultCodeDeclined(rc string) bool {
	rc = strings.ToLower(strings.TrimSpace(rc))
	return rc != "" && rc != "0" && rc != "success"
}
