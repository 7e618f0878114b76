package errors

import (
	"errors"
	"fmt"
)

type ErrorDump struct {
	TopMessage string `json:"top_message"`
	Code       Code   `json:"code,omitempty"`

	Chain []string `json:"chain,omitempty"`

	RemoteStatus int    `json:"remote_status,omitempty"`
	RemoteDetail string `json:"remote_detail,omitempty"`
}

// remoteFailure is satisfied by transport errors that carry the upstream status and detail.
type remoteFailure interface {
	StatusCode() int
	Detail() string
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{
		TopMessage: err.Error(),
	}

	if te := As(err); te != nil {
		d.Code = te.Code()
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var remote remoteFailure
	if errors.As(err, &remote) {
		d.RemoteStatus = remote.StatusCode()
		d.RemoteDetail = remote.Detail()
	}

	return d
}

// Fields flattens a dump into logger fields.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{
		"error":       d.TopMessage,
		"error_code":  d.Code,
		"error_chain": d.Chain,
	}
	if d.RemoteStatus != 0 {
		fields["remote_status"] = d.RemoteStatus
	}
	if d.RemoteDetail != "" {
		fields["remote_detail"] = d.RemoteDetail
	}
	return fields
}
