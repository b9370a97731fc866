package sasl

// Login state constants
const (
	loginStateUsername = iota
	loginStatePassword
	loginStateDone
)

// Base64-encoded challenge strings servers commonly send for LOGIN.
const (
	// LoginChallengeUsername is "Username:" encoded in base64
	LoginChallengeUsername = "VXNlcm5hbWU6"
	// LoginChallengePassword is "Password:" encoded in base64
	LoginChallengePassword = "UGFzc3dvcmQ6"
)

// login implements the legacy LOGIN mechanism. The challenge text is not
// inspected: the first challenge is answered with the username and the second
// with the password.
type login struct {
	state int
	creds Credentials
}

func newLogin(creds Credentials) *login {
	return &login{state: loginStateUsername, creds: creds}
}

func (l *login) Mechanism() Mechanism {
	return MechanismLogin
}

func (l *login) Start() ([]byte, error) {
	l.state = loginStateUsername
	return nil, nil
}

func (l *login) Next(challenge []byte) ([]byte, error) {
	switch l.state {
	case loginStateUsername:
		l.state = loginStatePassword
		return []byte(l.creds.Username), nil
	case loginStatePassword:
		l.state = loginStateDone
		return []byte(l.creds.Password), nil
	default:
		return nil, ErrUnexpectedChallenge
	}
}

func (l *login) Done() bool {
	return l.state == loginStateDone
}
