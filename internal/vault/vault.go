package vault

import (
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const serviceName = "avatarforge"

// knownCredentials is the list of credential names checked by List().
// The service has exactly one secret worth vaulting: the object-store
// access key.
var knownCredentials = []string{"do-space-key"}

// Vault provides secure credential storage using the OS keychain, with
// fallback to environment variables.
type Vault struct{}

// New creates a new Vault instance.
func New() *Vault {
	return &Vault{}
}

// Set stores a credential in the OS keychain.
func (v *Vault) Set(name, secret string) error {
	return keyring.Set(serviceName, name, secret)
}

// Get retrieves a credential. It first checks the OS keychain, then
// falls back to the environment variable AVATARFORGE_KEY_{UPPER(name)}.
func (v *Vault) Get(name string) (string, error) {
	secret, err := keyring.Get(serviceName, name)
	if err == nil && secret != "" {
		return secret, nil
	}

	envKey := "AVATARFORGE_KEY_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	if val := os.Getenv(envKey); val != "" {
		return val, nil
	}

	return "", fmt.Errorf("no credential found for %q: not in keychain and %s not set", name, envKey)
}

// Delete removes a credential from the OS keychain.
func (v *Vault) Delete(name string) error {
	return keyring.Delete(serviceName, name)
}

// List returns the names of known credentials that currently have a
// value stored, in the keychain or the environment.
func (v *Vault) List() ([]string, error) {
	var names []string

	for _, name := range knownCredentials {
		if secret, err := keyring.Get(serviceName, name); err == nil && secret != "" {
			names = append(names, name)
			continue
		}
		envKey := "AVATARFORGE_KEY_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		if val := os.Getenv(envKey); val != "" {
			names = append(names, name)
		}
	}

	return names, nil
}

// ResolveKeyRef parses a key reference and retrieves the corresponding
// secret. Supported formats:
//   - "keyring://avatarforge/<name>" (preferred)
//   - "keychain:avatarforge/<name>" (legacy)
//   - "env:VARIABLE_NAME" (environment variable)
//   - "file:///path/to/key" (plain-text file)
func (v *Vault) ResolveKeyRef(keyRef string) (string, error) {
	if strings.HasPrefix(keyRef, "keyring://") {
		path := strings.TrimPrefix(keyRef, "keyring://")
		parts := strings.SplitN(path, "/", 2)
		if len(parts) != 2 || parts[0] != serviceName || parts[1] == "" {
			return "", fmt.Errorf("invalid key reference format: %q (expected \"keyring://avatarforge/<name>\")", keyRef)
		}
		return v.Get(parts[1])
	}

	if strings.HasPrefix(keyRef, "keychain:") {
		path := strings.TrimPrefix(keyRef, "keychain:")
		parts := strings.SplitN(path, "/", 2)
		if len(parts) != 2 || parts[0] != serviceName || parts[1] == "" {
			return "", fmt.Errorf("invalid key reference path: %q (expected \"avatarforge/<name>\")", path)
		}
		return v.Get(parts[1])
	}

	if strings.HasPrefix(keyRef, "env:") {
		envVar := strings.TrimPrefix(keyRef, "env:")
		if val := os.Getenv(envVar); val != "" {
			return val, nil
		}
		return "", fmt.Errorf("environment variable %q is not set", envVar)
	}

	if strings.HasPrefix(keyRef, "file://") {
		filePath := strings.TrimPrefix(keyRef, "file://")
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("reading key file %q: %w", filePath, err)
		}
		key := strings.TrimSpace(string(data))
		if key == "" {
			return "", fmt.Errorf("key file %q is empty", filePath)
		}
		return key, nil
	}

	return "", fmt.Errorf("invalid key reference format: %q (expected \"keyring://avatarforge/<name>\", \"keychain:avatarforge/<name>\", \"env:VARIABLE_NAME\", or \"file:///path/to/key\")", keyRef)
}
