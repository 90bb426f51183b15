package gateway

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	// タイムアウト・通信断・429・5xx・サーキットオープン。結果は不明なので同じキーで再試行してよい
	KindTransient ErrorKind = iota + 1
	// 4xx（402以外）。再試行しても変わらない
	KindPermanent
	// 402 カード拒否
	KindDeclined
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindDeclined:
		return "declined"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind       ErrorKind
	StatusCode int
	Code       string
	Reason     string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("gateway %s error", e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func kindOf(err error) ErrorKind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return 0
}

func IsTransient(err error) bool { return kindOf(err) == KindTransient }
func IsDeclined(err error) bool  { return kindOf(err) == KindDeclined }

// 拒否理由（Declinedでなければ空）
func DeclineReason(err error) string {
	var ge *Error
	if errors.As(err, &ge) && ge.Kind == KindDeclined {
		return ge.Reason
	}
	return ""
}

func classifyStatus(status int) ErrorKind {
	switch {
	case status == 402:
		return KindDeclined
	case status == 408 || status == 409 || status == 429 || status >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}
