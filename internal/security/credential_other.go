//go:build !windows

package security

import "errors"

var errNoCredentialStore = errors.New("no platform credential store on this system")

func (te *TokenEncryptor) storeCredential(string) error {
	return errNoCredentialStore
}

func (te *TokenEncryptor) readCredential() (string, error) {
	return "", errNoCredentialStore
}

func (te *TokenEncryptor) deleteCredential() error {
	return errNoCredentialStore
}
