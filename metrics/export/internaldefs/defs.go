package internaldefs

import (
	"strconv"
	"strings"

	"github.com/fleetyard/fleetauth"
)

const namespace = "fleetauth"

// CounterDef names one exported counter.
type CounterDef struct {
	ID   fleetauth.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   fleetauth.MetricID
	Name string
	Help string
}

var help = map[fleetauth.MetricID]string{
	fleetauth.MetricLoginSuccess:                "Successful logins.",
	fleetauth.MetricLoginFailure:                "Logins rejected as invalid credentials.",
	fleetauth.MetricLoginRateLimited:            "Logins rejected by the rate limiter.",
	fleetauth.MetricLoginUnverified:             "Logins rejected for an unverified email.",
	fleetauth.MetricSessionCreated:              "Sessions created.",
	fleetauth.MetricSessionRevoked:              "Sessions revoked.",
	fleetauth.MetricLogout:                      "Single-session logouts.",
	fleetauth.MetricLogoutAll:                   "Logout-all operations.",
	fleetauth.MetricSignupSuccess:               "Accounts created.",
	fleetauth.MetricSignupDuplicate:             "Signups rejected as duplicate email.",
	fleetauth.MetricSignupConfirmSuccess:        "Signup codes confirmed.",
	fleetauth.MetricSignupConfirmFailure:        "Signup code confirmations rejected.",
	fleetauth.MetricCodeSent:                    "One-time codes delivered.",
	fleetauth.MetricCodeDeliveryFailed:          "One-time codes that could not be delivered.",
	fleetauth.MetricCodeRateLimited:             "Code requests rejected by the rate limiter.",
	fleetauth.MetricCodeExhausted:               "Code submissions after the attempt budget ran out.",
	fleetauth.MetricPasswordChangeSuccess:       "Password changes.",
	fleetauth.MetricPasswordChangeInvalidOld:    "Password changes with a wrong current password.",
	fleetauth.MetricPasswordChangeReuseRejected: "Password changes rejected for reusing the current password.",
	fleetauth.MetricPasswordResetRequest:        "Password reset requests.",
	fleetauth.MetricPasswordResetConfirmSuccess: "Password resets completed.",
	fleetauth.MetricPasswordResetConfirmFailure: "Password reset confirmations rejected.",
	fleetauth.MetricRoleChanged:                 "Role changes.",
	fleetauth.MetricAccountDeactivated:          "Account deactivations.",
	fleetauth.MetricGuardAllowed:                "Requests authenticated by the guard.",
	fleetauth.MetricGuardUnauthenticated:        "Requests rejected as unauthenticated.",
	fleetauth.MetricGuardForbidden:              "Requests rejected as forbidden.",
	fleetauth.MetricGuardUnavailable:            "Guard decisions failed by a store outage.",
	fleetauth.MetricSweepRemoved:                "Expired entries removed by the sweeper.",
}

// CounterDefs lists every engine counter with its exported name.
var CounterDefs = buildCounterDefs()

// HistogramDefs lists the latency histograms.
var HistogramDefs = []HistogramDef{
	{
		ID:   fleetauth.MetricValidateLatency,
		Name: namespace + "_validate_latency_seconds",
		Help: "Latency of token plus session validation.",
	},
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = namespace + "_audit_dropped_total"

const AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure, by event type."

// AuditEventLabel carries the audit event type on AuditDroppedName.
const AuditEventLabel = "event"

func buildCounterDefs() []CounterDef {
	defs := make([]CounterDef, 0, len(help))
	for _, id := range fleetauth.MetricIDs() {
		h, ok := help[id]
		if !ok {
			continue
		}
		defs = append(defs, CounterDef{ID: id, Name: namespace + "_" + id.String() + "_total", Help: h})
	}
	return defs
}

// BucketBounds returns the finite histogram upper bounds in seconds.
func BucketBounds() []float64 {
	out := make([]float64, len(fleetauth.HistogramBounds))
	for i, d := range fleetauth.HistogramBounds {
		out[i] = d.Seconds()
	}
	return out
}

// BoundSuffixes returns instrument-safe names for each bucket, the last
// being "inf".
func BoundSuffixes() []string {
	bounds := BucketBounds()
	out := make([]string, 0, len(bounds)+1)
	for _, b := range bounds {
		out = append(out, strings.ReplaceAll(strconv.FormatFloat(b, 'f', -1, 64), ".", "_"))
	}
	return append(out, "inf")
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw []uint64) []uint64 {
	out := make([]uint64, len(BucketBounds())+1)
	var running uint64
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
