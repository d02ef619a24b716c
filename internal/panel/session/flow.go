package session

// FlowKind discriminates the sign-in flow states.
type FlowKind int

const (
	// FlowIdle means no MFA interaction is in progress. With an identity
	// present the user is considered logged in.
	FlowIdle FlowKind = iota

	// FlowAwaitingVerification means the password check succeeded, a verified
	// factor exists and a challenge was issued; the user owes a 6-digit code.
	FlowAwaitingVerification

	// FlowAwaitingSetup means the password check succeeded but no verified
	// factor exists; the user is offered enrollment.
	FlowAwaitingSetup
)

// VerificationFlow is the payload carried while awaiting code verification.
// Email and password are kept so a full re-authentication can be completed
// after the code checks out, since the password-only session is at reduced
// assurance.
type VerificationFlow struct {
	ChallengeID string
	FactorID    string
	Email       string
	Password    string
}

// SetupFlow is the payload carried while offering enrollment. The material
// is empty until the user asks for a QR code.
type SetupFlow struct {
	QRCode   string
	Secret   string
	URI      string
	FactorID string
}

// FlowState is a tagged variant over the three flow states. Only the payload
// matching the kind is ever populated, which keeps impossible combinations
// (verify and setup at once, say) unrepresentable.
type FlowState struct {
	kind         FlowKind
	verification VerificationFlow
	setup        SetupFlow
}

// Idle returns the idle flow state.
func Idle() FlowState {
	return FlowState{kind: FlowIdle}
}

// AwaitingVerification returns a flow state carrying a pending challenge.
func AwaitingVerification(v VerificationFlow) FlowState {
	return FlowState{kind: FlowAwaitingVerification, verification: v}
}

// AwaitingSetup returns a flow state offering enrollment.
func AwaitingSetup(su SetupFlow) FlowState {
	return FlowState{kind: FlowAwaitingSetup, setup: su}
}

// Kind returns the discriminant.
func (f FlowState) Kind() FlowKind { return f.kind }

// IsIdle reports whether no flow is active.
func (f FlowState) IsIdle() bool { return f.kind == FlowIdle }

// Verification returns the pending-verification payload when active.
func (f FlowState) Verification() (VerificationFlow, bool) {
	return f.verification, f.kind == FlowAwaitingVerification
}

// Setup returns the enrollment payload when active.
func (f FlowState) Setup() (SetupFlow, bool) {
	return f.setup, f.kind == FlowAwaitingSetup
}
