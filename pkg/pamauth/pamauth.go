// Package pamauth holds password checkers for the SSH listener. The
// real check belongs to the host's PAM stack (common-auth service); no
// PAM binding is shipped here, so the capability is a narrow interface
// (sshsession.PasswordChecker) with stand-ins for tests and for
// deployments that keep SSH password auth disabled.
package pamauth

// DenyAll rejects every credential; useful where ssh-port is 0 or the
// operator has not wired a real PAM binding.
type DenyAll struct{}

func (DenyAll) CheckPassword(username, password string) bool { return false }

// Static checks a single configured username/password pair. It exists
// for local testing only; production deployments should supply a real
// PAM-backed PasswordChecker built against the host's common-auth
// service.
type Static struct {
	Username string
	Password string
}

func (s Static) CheckPassword(username, password string) bool {
	return username == s.Username && password == s.Password
}
