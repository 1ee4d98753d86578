package mfa

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jmcleod/webseal/wire"
)

// MethodTOTP is the discriminator for time-based one-time codes.
const MethodTOTP = "totp"

type totpHandler struct{}

// TOTP returns the handler for time-based one-time codes. Submissions
// carry the code under the "code" field; it is parsed to an integer
// before being sent.
func TOTP() Handler {
	return totpHandler{}
}

func (totpHandler) Type() string { return MethodTOTP }

func (totpHandler) ProcessUpgrade(msg *Message, submit SubmitFunc) (*Continuation, error) {
	return &Continuation{
		Type:    msg.Type,
		Expires: msg.Expires,
		submit: func(ctx context.Context, s Submission) (*wire.Response, error) {
			code, err := parseCode(s["code"])
			if err != nil {
				return nil, err
			}
			return submit(ctx, msg, Submission{"code": code})
		},
	}, nil
}

func parseCode(v any) (int, error) {
	switch code := v.(type) {
	case int:
		return code, nil
	case string:
		n, err := strconv.Atoi(code)
		if err != nil {
			return 0, fmt.Errorf("totp code must be numeric: %w", err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("totp submission requires a code")
	}
}
