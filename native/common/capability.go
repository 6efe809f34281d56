package common

import (
	"fmt"

	"fixedlend/native/lending"
)

// Authority issues the capability privileged lending setters require.
type Authority struct {
	name string
}

// NewAuthority returns an authority identified by name in errors.
func NewAuthority(name string) *Authority {
	return &Authority{name: name}
}

// Capability proves the holder was granted admin rights by an Authority.
// The zero value carries no rights.
type Capability struct {
	issuer *Authority
}

// Grant returns a capability bound to a.
func (a *Authority) Grant() Capability {
	return Capability{issuer: a}
}

// Verify fails with lending.ErrUnauthorized unless cap was granted by a.
func (a *Authority) Verify(cap Capability) error {
	if a == nil || cap.issuer != a {
		name := "<nil>"
		if a != nil {
			name = a.name
		}
		return fmt.Errorf("capability not issued by %s: %w", name, lending.ErrUnauthorized)
	}
	return nil
}
