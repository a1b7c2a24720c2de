//go:build darwin

package config

import (
	"errors"
	"os/exec"
)

// errSecItemNotFound is the exit status security uses for a missing item.
const errSecItemNotFound = 44

func security(args ...string) *exec.Cmd {
	return exec.Command("security", args...)
}

func keychainGet(service, account string) ([]byte, error) {
	return security("find-generic-password", "-s", service, "-a", account, "-w").Output()
}

// keychainSet updates an existing item in place (-U).
func keychainSet(service, account, value string) error {
	return security("add-generic-password", "-U", "-s", service, "-a", account, "-w", value).Run()
}

func keychainDelete(service, account string) error {
	err := security("delete-generic-password", "-s", service, "-a", account).Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == errSecItemNotFound {
		return nil
	}
	return err
}
