package auth

import (
	"fmt"

	"github.com/msteinert/pam/v2"
)

// PamChecker validates credentials through the named PAM service.
type PamChecker struct {
	Service string
}

var _ CredentialChecker = PamChecker{}

func (p PamChecker) Check(username string, password []byte, allowEmpty bool) error {
	tx, err := pam.StartFunc(p.Service, username, func(style pam.Style, _ string) (string, error) {
		switch style {
		case pam.PromptEchoOff, pam.PromptEchoOn:
			return string(password), nil
		}
		return "", nil
	})
	if err != nil {
		return fmt.Errorf("pam start: %w", err)
	}
	defer func() { _ = tx.End() }()

	var flags pam.Flags
	if !allowEmpty {
		flags = pam.DisallowNullAuthtok
	}
	if err := tx.Authenticate(flags); err != nil {
		return fmt.Errorf("pam authenticate: %w", err)
	}
	return nil
}
