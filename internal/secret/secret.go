package secret

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

// Prefix marks a config value that names a keyring entry instead of
// holding the value itself, e.g. "keyring:shift-url".
const Prefix = "keyring:"

const service = "taskfeed"

var (
	// ErrNotFound is returned when the keyring has no entry for a name.
	ErrNotFound = errors.New("secret not found in keyring")
	// ErrUnavailable is returned when the OS keyring cannot be used.
	ErrUnavailable = errors.New("OS keyring is not available")
)

// Get returns the secret stored under name.
func Get(name string) (string, error) {
	v, err := keyring.Get(service, name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v, nil
}

// Set stores value under name, replacing any previous value.
func Set(name, value string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("secret name cannot be empty")
	}
	if value == "" {
		return errors.New("secret value cannot be empty")
	}
	if err := keyring.Set(service, name, value); err != nil {
		return fmt.Errorf("failed to store secret in keyring: %w", err)
	}
	return nil
}

// Delete removes the secret stored under name.
func Delete(name string) error {
	if err := keyring.Delete(service, name); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to delete secret from keyring: %w", err)
	}
	return nil
}

// Resolve returns v unchanged unless it carries Prefix, in which case the
// remainder is looked up in the keyring.
func Resolve(v string) (string, error) {
	name, ok := strings.CutPrefix(v, Prefix)
	if !ok {
		return v, nil
	}
	return Get(strings.TrimSpace(name))
}
