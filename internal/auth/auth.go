// Package auth resolves provider API keys and checks that they work.
package auth

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

const credentialDir = ".card-restore"

// Credential names where a provider key can be found.
type Credential struct {
	// Name labels the provider in logs and errors.
	Name string
	// EnvVar is checked first.
	EnvVar string
	// File is a GPG-encrypted file under ~/.card-restore.
	File string
}

// Known credentials.
var (
	Ark    = Credential{Name: "ark", EnvVar: "ARK_API_KEY", File: "ark.gpg"}
	Gemini = Credential{Name: "gemini", EnvVar: "GEMINI_API_KEY", File: "gemini.gpg"}
)

// GetAPIKey retrieves a provider API key from available sources.
// Priority order:
//  1. the credential's environment variable
//  2. GPG-encrypted file at ~/.card-restore/<file>
func GetAPIKey(c Credential) (string, error) {
	if key := os.Getenv(c.EnvVar); key != "" {
		log.Debug().Str("provider", c.Name).Msg("Using API key from environment variable")
		return key, nil
	}

	key, err := getFromGPG(c.File)
	if err == nil && key != "" {
		log.Debug().Str("provider", c.Name).Msg("Using API key from GPG encrypted file")
		return key, nil
	}

	log.Error().Err(err).Str("provider", c.Name).Msg("Failed to retrieve API key")
	return "", fmt.Errorf("%s API key not found. Set %s or store it in ~/%s/%s", c.Name, c.EnvVar, credentialDir, c.File)
}

// getFromGPG decrypts an API key from a GPG-encrypted credentials file.
func getFromGPG(file string) (string, error) {
	credPath, err := getCredentialPath(file)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(credPath); os.IsNotExist(err) {
		return "", fmt.Errorf("GPG credentials file not found at %s", credPath)
	}

	log.Debug().Str("file", credPath).Msg("Decrypting GPG credentials")

	// Optional passphrase file for non-interactive use.
	args := []string{"--decrypt", "--quiet"}

	passphrasePath, err := getPassphrasePath()
	if err == nil {
		fi, statErr := os.Stat(passphrasePath)
		if statErr == nil {
			// Passphrase file must be owner-only.
			mode := fi.Mode().Perm()
			if mode&0077 != 0 {
				log.Warn().
					Str("passphrase_file", passphrasePath).
					Str("permissions", fmt.Sprintf("%04o", mode)).
					Msg("Passphrase file has insecure permissions (should be 0600); skipping")
			} else {
				log.Debug().Str("passphrase_file", passphrasePath).Msg("Using passphrase file for GPG decryption")
				args = append(args, "--pinentry-mode", "loopback", "--passphrase-file", passphrasePath)
			}
		}
	}

	args = append(args, credPath)
	cmd := exec.Command("gpg", args...)
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("GPG decryption failed: %s", string(exitErr.Stderr))
		}
		return "", fmt.Errorf("GPG decryption failed: %w", err)
	}

	return strings.TrimSpace(string(output)), nil
}

// getCredentialPath returns the full path to a credentials file.
func getCredentialPath(file string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, credentialDir, file), nil
}

// getPassphrasePath returns the GPG passphrase file next to the executable,
// falling back to the working directory.
func getPassphrasePath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}

	passphrasePath := filepath.Join(filepath.Dir(exe), ".gpg-passphrase")
	if _, err := os.Stat(passphrasePath); err == nil {
		return passphrasePath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return filepath.Join(cwd, ".gpg-passphrase"), nil
}
