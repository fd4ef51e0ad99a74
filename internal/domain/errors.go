package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies lifecycle failures
type ErrorKind int

const (
	// KindTransport covers network failures and unrecognised responses.
	KindTransport ErrorKind = iota
	KindVersionConflict
	KindTimeOrder
	KindBusinessRule
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindVersionConflict:
		return "VersionConflict"
	case KindTimeOrder:
		return "TimeOrderViolation"
	case KindBusinessRule:
		return "BusinessRule"
	case KindNotFound:
		return "NotFound"
	default:
		return "Transport"
	}
}

// TimeOrderKind names a timestamp ordering violation
type TimeOrderKind string

const (
	TimeSentBeforePacked        TimeOrderKind = "TimeSentBeforePacked"
	TimeReceivedBeforeSent      TimeOrderKind = "TimeReceivedBeforeSent"
	TimeUnpackedBeforeReceived  TimeOrderKind = "TimeUnpackedBeforeReceived"
	TimeCompletedBeforeUnpacked TimeOrderKind = "TimeCompletedBeforeUnpacked"
)

// Phrases the backend embeds in error messages. The REST client recognises
// them to rebuild typed errors.
const (
	versionConflictPhrase = "expected version doesn't match current version"
	notFoundPhrase        = "shipment not found"
)

var timeOrderPhrases = map[TimeOrderKind]string{
	TimeSentBeforePacked:        "time sent is before time packed",
	TimeReceivedBeforeSent:      "time received is before time sent",
	TimeUnpackedBeforeReceived:  "time unpacked is before time received",
	TimeCompletedBeforeUnpacked: "time completed is before time unpacked",
}

// Phrase returns the message fragment for the violation
func (k TimeOrderKind) Phrase() string {
	return timeOrderPhrases[k]
}

// LifecycleError is the error returned by every lifecycle operation
type LifecycleError struct {
	Kind       ErrorKind
	TimeOrder  TimeOrderKind
	ShipmentID string
	Message    string
	Err        error
}

// Error implements the error interface
func (e *LifecycleError) Error() string {
	msg := e.Message
	if e.ShipmentID != "" {
		msg = fmt.Sprintf("shipment %s: %s", e.ShipmentID, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the wrapped error
func (e *LifecycleError) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors by kind and, for time-order errors, by violation
func (e *LifecycleError) Is(target error) bool {
	t, ok := target.(*LifecycleError)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.TimeOrder == "" || t.TimeOrder == e.TimeOrder
}

// Sentinels for errors.Is
var (
	ErrVersionConflict             = &LifecycleError{Kind: KindVersionConflict, Message: versionConflictPhrase}
	ErrTimeOrder                   = &LifecycleError{Kind: KindTimeOrder, Message: "timestamps out of order"}
	ErrTimeSentBeforePacked        = &LifecycleError{Kind: KindTimeOrder, TimeOrder: TimeSentBeforePacked, Message: TimeSentBeforePacked.Phrase()}
	ErrTimeReceivedBeforeSent      = &LifecycleError{Kind: KindTimeOrder, TimeOrder: TimeReceivedBeforeSent, Message: TimeReceivedBeforeSent.Phrase()}
	ErrTimeUnpackedBeforeReceived  = &LifecycleError{Kind: KindTimeOrder, TimeOrder: TimeUnpackedBeforeReceived, Message: TimeUnpackedBeforeReceived.Phrase()}
	ErrTimeCompletedBeforeUnpacked = &LifecycleError{Kind: KindTimeOrder, TimeOrder: TimeCompletedBeforeUnpacked, Message: TimeCompletedBeforeUnpacked.Phrase()}
	ErrBusinessRule                = &LifecycleError{Kind: KindBusinessRule, Message: "business rule violated"}
	ErrShipmentNotFound            = &LifecycleError{Kind: KindNotFound, Message: notFoundPhrase}
	ErrTransport                   = &LifecycleError{Kind: KindTransport, Message: "transport failure"}
)

// NewVersionConflict reports a stale optimistic-concurrency token
func NewVersionConflict(shipmentID string, expected, actual int64) *LifecycleError {
	return &LifecycleError{
		Kind:       KindVersionConflict,
		ShipmentID: shipmentID,
		Message:    fmt.Sprintf("%s: expected %d, current %d", versionConflictPhrase, expected, actual),
	}
}

// NewTimeOrderViolation reports timestamps supplied out of order
func NewTimeOrderViolation(shipmentID string, kind TimeOrderKind) *LifecycleError {
	return &LifecycleError{
		Kind:       KindTimeOrder,
		TimeOrder:  kind,
		ShipmentID: shipmentID,
		Message:    kind.Phrase(),
	}
}

// NewBusinessRuleError reports a failed precondition
func NewBusinessRuleError(shipmentID, message string) *LifecycleError {
	return &LifecycleError{
		Kind:       KindBusinessRule,
		ShipmentID: shipmentID,
		Message:    message,
	}
}

// NewNotFoundError reports a shipment that does not exist
func NewNotFoundError(shipmentID string) *LifecycleError {
	return &LifecycleError{
		Kind:       KindNotFound,
		ShipmentID: shipmentID,
		Message:    notFoundPhrase,
	}
}

// NewTransportError wraps a network or decoding failure
func NewTransportError(message string, err error) *LifecycleError {
	return &LifecycleError{
		Kind:    KindTransport,
		Message: message,
		Err:     err,
	}
}

// AsLifecycleError extracts a LifecycleError from an error chain
func AsLifecycleError(err error) (*LifecycleError, bool) {
	var le *LifecycleError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// KindOf returns the kind of an error. Errors that are not lifecycle errors
// are transport failures.
func KindOf(err error) ErrorKind {
	if le, ok := AsLifecycleError(err); ok {
		return le.Kind
	}
	return KindTransport
}

// ClassifyMessage rebuilds a typed error from a backend message.
// status is the HTTP status code the message arrived with.
func ClassifyMessage(shipmentID string, status int, message string) *LifecycleError {
	lower := strings.ToLower(message)

	if status == 409 || strings.Contains(lower, versionConflictPhrase) {
		return &LifecycleError{Kind: KindVersionConflict, ShipmentID: shipmentID, Message: message}
	}

	for kind, phrase := range timeOrderPhrases {
		if strings.Contains(lower, phrase) {
			return &LifecycleError{Kind: KindTimeOrder, TimeOrder: kind, ShipmentID: shipmentID, Message: message}
		}
	}

	switch {
	case status == 404:
		return &LifecycleError{Kind: KindNotFound, ShipmentID: shipmentID, Message: message}
	case status == 422 || status == 400:
		return &LifecycleError{Kind: KindBusinessRule, ShipmentID: shipmentID, Message: message}
	}

	return &LifecycleError{Kind: KindTransport, ShipmentID: shipmentID, Message: message}
}
