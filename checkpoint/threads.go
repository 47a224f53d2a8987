package checkpoint

import (
	"fmt"
	"strings"
	"time"

	"dealgraph.org/common"
)

// Thread ids encode the workflow kind and its scope so retention and deal
// deletion can sweep by prefix.

// CIMThreadID names the durable thread for one CIM authoring session.
func CIMThreadID(dealID, cimID string) string {
	return fmt.Sprintf("cim-%s-%s", dealID, cimID)
}

// SupervisorThreadID names an ad-hoc supervisor run. Timestamped because
// supervisor sessions are not resumed across requests.
func SupervisorThreadID(dealID string, at time.Time) string {
	return fmt.Sprintf("supervisor-%s-%d", dealID, at.Unix())
}

// DealThreadPrefixes returns the prefixes covering every thread of a deal.
func DealThreadPrefixes(dealID string) []string {
	return []string{
		fmt.Sprintf("cim-%s-", dealID),
		fmt.Sprintf("supervisor-%s-", dealID),
	}
}

// ParseCIMThreadID extracts deal and CIM ids from a cim thread id. Both ids
// are UUIDs, so the split point is fixed even though UUIDs contain hyphens.
func ParseCIMThreadID(threadID string) (dealID, cimID string, err error) {
	rest, ok := strings.CutPrefix(threadID, "cim-")
	if !ok {
		return "", "", common.E(common.KindValidation, "not a cim thread id")
	}
	const uuidLen = 36
	if len(rest) != uuidLen*2+1 || rest[uuidLen] != '-' {
		return "", "", common.E(common.KindValidation, "malformed cim thread id")
	}
	return rest[:uuidLen], rest[uuidLen+1:], nil
}
