//go:build windows

package security

import (
	"fmt"
	"syscall"
	"unsafe"
)

var (
	advapi32    = syscall.NewLazyDLL("advapi32.dll")
	credWriteW  = advapi32.NewProc("CredWriteW")
	credReadW   = advapi32.NewProc("CredReadW")
	credDeleteW = advapi32.NewProc("CredDeleteW")
	credFree    = advapi32.NewProc("CredFree")
)

const (
	credTypeGeneric         = 1
	credPersistLocalMachine = 2
)

// winCredential mirrors the CREDENTIALW layout expected by advapi32.
type winCredential struct {
	Flags              uint32
	Type               uint32
	TargetName         *uint16
	Comment            *uint16
	LastWritten        syscall.Filetime
	CredentialBlobSize uint32
	CredentialBlob     *byte
	Persist            uint32
	AttributeCount     uint32
	Attributes         uintptr
	TargetAlias        *uint16
	UserName           *uint16
}

// storeCredential writes the token into the Windows Credential Manager.
func (te *TokenEncryptor) storeCredential(token string) error {
	target, err := syscall.UTF16PtrFromString(credentialTarget)
	if err != nil {
		return fmt.Errorf("converting target name: %w", err)
	}
	user, err := syscall.UTF16PtrFromString("Melodex")
	if err != nil {
		return fmt.Errorf("converting user name: %w", err)
	}

	blob := []byte(token)
	cred := &winCredential{
		Type:               credTypeGeneric,
		TargetName:         target,
		CredentialBlobSize: uint32(len(blob)),
		CredentialBlob:     &blob[0],
		Persist:            credPersistLocalMachine,
		UserName:           user,
	}

	ret, _, callErr := credWriteW.Call(uintptr(unsafe.Pointer(cred)), 0)
	if ret == 0 {
		return fmt.Errorf("CredWriteW: %w", callErr)
	}
	return nil
}

// readCredential reads the token back from the Windows Credential Manager.
func (te *TokenEncryptor) readCredential() (string, error) {
	target, err := syscall.UTF16PtrFromString(credentialTarget)
	if err != nil {
		return "", fmt.Errorf("converting target name: %w", err)
	}

	var cred *winCredential
	ret, _, callErr := credReadW.Call(
		uintptr(unsafe.Pointer(target)),
		credTypeGeneric,
		0,
		uintptr(unsafe.Pointer(&cred)),
	)
	if ret == 0 {
		return "", fmt.Errorf("CredReadW: %w", callErr)
	}
	defer credFree.Call(uintptr(unsafe.Pointer(cred)))

	blob := make([]byte, cred.CredentialBlobSize)
	for i := uint32(0); i < cred.CredentialBlobSize; i++ {
		blob[i] = *(*byte)(unsafe.Pointer(uintptr(unsafe.Pointer(cred.CredentialBlob)) + uintptr(i)))
	}
	return string(blob), nil
}

// deleteCredential removes the token from the Windows Credential Manager.
func (te *TokenEncryptor) deleteCredential() error {
	target, err := syscall.UTF16PtrFromString(credentialTarget)
	if err != nil {
		return fmt.Errorf("converting target name: %w", err)
	}

	ret, _, callErr := credDeleteW.Call(
		uintptr(unsafe.Pointer(target)),
		credTypeGeneric,
		0,
	)
	if ret == 0 {
		return fmt.Errorf("CredDeleteW: %w", callErr)
	}
	return nil
}
