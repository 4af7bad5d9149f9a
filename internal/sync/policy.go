package sync

import (
	"net/http"

	"github.com/christoffer/readtracker-sub001/internal/readmill"
)

// failurePolicy says what a sync pass does when one operation fails.
type failurePolicy int

const (
	// policyAbort ends the whole pass with the failure.
	policyAbort failurePolicy = iota
	// policySkipItem logs the failure and continues with the next item.
	policySkipItem
	// policyConvert maps specific status codes to an alternate action; codes
	// without a mapping fall back to the policy's otherwise field.
	policyConvert
)

// converted is the alternate action a policyConvert entry selects.
type converted int

const (
	convertNone converted = iota
	// convertAlreadyGone treats the target as already deleted remotely and
	// proceeds with the local part of the operation.
	convertAlreadyGone
	// convertNeedsReconnect holds the record back until its reading is
	// connected again.
	convertNeedsReconnect
	// convertGiveUp marks the record as handled so it is never retried.
	convertGiveUp
	// convertDeleteLocal removes the local record because the remote side no
	// longer has it.
	convertDeleteLocal
)

// operation names the fallible remote steps of a pass.
type operation int

const (
	opDeleteFlaggedHighlight operation = iota
	opUploadReading
	opUploadSession
	opUploadHighlight
	opPushEditedHighlight
	opDeleteReading
	opPushPrivacy
	opPushClosedState
	opPullReading
	opCreateLocalReading
)

// policyEntry is one row of the failure policy table.
type policyEntry struct {
	policy    failurePolicy
	onStatus  map[int]converted
	otherwise failurePolicy // fallback for policyConvert when no status matches
}

// policyTable is the single place that decides how each operation's failures
// are handled. Reconciler and upload stages consult it instead of carrying
// ad hoc recovery branches.
var policyTable = map[operation]policyEntry{
	opDeleteFlaggedHighlight: {
		policy:    policyConvert,
		onStatus:  map[int]converted{http.StatusNotFound: convertAlreadyGone},
		otherwise: policySkipItem,
	},
	opUploadReading:   {policy: policySkipItem},
	opUploadHighlight: {policy: policySkipItem},
	opUploadSession: {
		policy: policyConvert,
		onStatus: map[int]converted{
			http.StatusNotFound:            convertNeedsReconnect,
			http.StatusUnauthorized:        convertNeedsReconnect,
			http.StatusUnprocessableEntity: convertGiveUp,
		},
		otherwise: policySkipItem,
	},
	opPushEditedHighlight: {
		policy:    policyConvert,
		onStatus:  map[int]converted{http.StatusNotFound: convertDeleteLocal},
		otherwise: policyAbort,
	},
	opDeleteReading: {
		policy:    policyConvert,
		onStatus:  map[int]converted{http.StatusNotFound: convertAlreadyGone},
		otherwise: policySkipItem,
	},
	opPushPrivacy:        {policy: policySkipItem},
	opPushClosedState:    {policy: policySkipItem},
	opPullReading:        {policy: policyAbort},
	opCreateLocalReading: {policy: policyAbort},
}

// resolve maps a failed operation to the action the pass takes. The second
// return is the conversion when the first is policyConvert resolved to one.
func resolve(op operation, err error) (failurePolicy, converted) {
	entry, ok := policyTable[op]
	if !ok {
		return policyAbort, convertNone
	}
	if entry.policy != policyConvert {
		return entry.policy, convertNone
	}
	if conv, ok := entry.onStatus[readmill.StatusCode(err)]; ok {
		return policyConvert, conv
	}
	return entry.otherwise, convertNone
}
