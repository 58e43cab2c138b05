// Package credentials issues the disposable demo account a user is asked to
// create during a task cycle.
package credentials

import (
	"github.com/dchest/uniuri"
)

var (
	digits   = []byte("0123456789")
	lower    = []byte("abcdefghijklmnopqrstuvwxyz")
	alphaNum = []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789")
)

type Issuer struct {
	Prefix         string // local-part prefix, e.g. "maim"
	Domain         string // e.g. "gmail.com"
	PasswordPrefix string // e.g. "Maim@"
}

func NewIssuer() *Issuer {
	return &Issuer{
		Prefix:         "maim",
		Domain:         "gmail.com",
		PasswordPrefix: "Maim@",
	}
}

// Issue returns <prefix><4 digits><1 letter>@<domain> and <password prefix><8 alnum>.
func (i *Issuer) Issue() (email, password string) {
	local := i.Prefix + uniuri.NewLenChars(4, digits) + uniuri.NewLenChars(1, lower)
	email = local + "@" + i.Domain
	password = i.PasswordPrefix + uniuri.NewLenChars(8, alphaNum)
	return email, password
}
