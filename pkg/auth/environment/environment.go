// Package environment exposes the ambient host flags the core consumes but
// does not own. They only branch auto-connect policy.
package environment

import "os"

// Environment answers questions about the host the process runs in. Construct
// with New for real processes or NewWithLookup for tests.
type Environment struct {
	lookup func(string) string
}

// New reads flags from the process environment.
func New() *Environment {
	return &Environment{lookup: os.Getenv}
}

// NewWithLookup uses a custom variable lookup. Tests inject maps here.
func NewWithLookup(lookup func(string) string) *Environment {
	return &Environment{lookup: lookup}
}

// InEphemeralDevEnv reports whether this is an ephemeral cloud development
// environment that vends an sso-session in the shared config file.
func (e *Environment) InEphemeralDevEnv() bool {
	return e.lookup("DEV_ENVIRONMENT_ID") != ""
}

// DevEnvSsoSessionName names the sso-session section an ephemeral dev
// environment writes into the shared config file.
func (e *Environment) DevEnvSsoSessionName() string {
	if name := e.lookup("DEV_ENVIRONMENT_SSO_SESSION"); name != "" {
		return name
	}
	return "codecatalyst"
}

// InHostedNotebook reports whether the process runs inside a hosted notebook
// host that grants automatically-vended credentials.
func (e *Environment) InHostedNotebook() bool {
	return e.lookup("SAGEMAKER_APP_TYPE") != ""
}

// HasAutoCredentials reports whether the host vends credentials without user
// interaction.
func (e *Environment) HasAutoCredentials() bool {
	return e.InHostedNotebook() || e.HasContainerCredentials()
}

// HasContainerCredentials reports whether container credential endpoints are
// configured.
func (e *Environment) HasContainerCredentials() bool {
	return e.lookup("AWS_CONTAINER_CREDENTIALS_RELATIVE_URI") != "" ||
		e.lookup("AWS_CONTAINER_CREDENTIALS_FULL_URI") != ""
}

// HasEnvCredentials reports whether static credentials are present in the
// environment.
func (e *Environment) HasEnvCredentials() bool {
	return e.lookup("AWS_ACCESS_KEY_ID") != "" && e.lookup("AWS_SECRET_ACCESS_KEY") != ""
}

// Region returns the ambient region, or "".
func (e *Environment) Region() string {
	if r := e.lookup("AWS_REGION"); r != "" {
		return r
	}
	return e.lookup("AWS_DEFAULT_REGION")
}
