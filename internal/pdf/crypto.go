package pdf

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrPasswordRequired is returned when a PDF cannot be opened without a
// (different) password.
var ErrPasswordRequired = errors.New("pdf: password required")

// Credentials contains the passwords for a PDF file.
type Credentials struct {
	UserPassword  string `json:"user_password,omitempty"`
	OwnerPassword string `json:"owner_password,omitempty"`
}

// configuration returns the pdfcpu configuration carrying c's passwords.
// A nil receiver yields nil, which pdfcpu treats as its default configuration.
func (c *Credentials) configuration() *model.Configuration {
	if c == nil {
		return nil
	}
	conf := model.NewDefaultConfiguration()
	conf.UserPW = c.UserPassword
	conf.OwnerPW = c.OwnerPassword
	return conf
}

// IsEncrypted reports whether the file cannot be read without a password.
func IsEncrypted(filename string) (bool, error) {
	_, err := api.PageCountFile(filename)
	if err == nil {
		return false, nil
	}
	if IsPasswordError(err) {
		return true, nil
	}
	return false, fmt.Errorf("failed to check PDF encryption status: %w", err)
}

// ValidateCredentials checks that creds open the file.
func ValidateCredentials(filename string, creds *Credentials) error {
	if creds == nil {
		return errors.New("no credentials provided")
	}
	if err := api.ValidateFile(filename, creds.configuration()); err != nil {
		if IsPasswordError(err) {
			return fmt.Errorf("%w: %w", ErrPasswordRequired, err)
		}
		return fmt.Errorf("invalid credentials: %w", err)
	}
	return nil
}

// IsPasswordError checks if an error is related to password/encryption issues.
func IsPasswordError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPasswordRequired) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, keyword := range []string{
		"password",
		"encrypted",
		"decrypt",
		"authentication",
		"unauthorized",
		"invalid credentials",
	} {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}
	return false
}
