package healthcard

import "fmt"

// ResponseKind is the high-level outcome of a password command.
type ResponseKind int

const (
	ResponseUnknownFailure ResponseKind = iota
	ResponseSuccess
	ResponseWrongSecretWarning
	ResponseCommandBlocked
	ResponsePasswordNotFound
	ResponseSecurityStatusNotSatisfied
	ResponseMemoryFailure
	ResponseWrongPasswordLength
)

var responseNames = map[ResponseKind]string{
	ResponseUnknownFailure:             "unknown_failure",
	ResponseSuccess:                    "success",
	ResponseWrongSecretWarning:         "wrong_secret_warning",
	ResponseCommandBlocked:             "command_blocked",
	ResponsePasswordNotFound:           "password_not_found",
	ResponseSecurityStatusNotSatisfied: "security_status_not_satisfied",
	ResponseMemoryFailure:              "memory_failure",
	ResponseWrongPasswordLength:        "wrong_password_length",
}

func (k ResponseKind) String() string {
	if name, ok := responseNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ResponseKind(%d)", int(k))
}

// Response is a classified card answer. RetriesLeft is only meaningful for
// ResponseWrongSecretWarning.
type Response struct {
	Kind        ResponseKind
	RetriesLeft int
}

// StatusWord is the ISO 7816-4 response trailer SW1SW2.
type StatusWord uint16

func (sw StatusWord) String() string { return fmt.Sprintf("%04X", uint16(sw)) }

// Status words returned by RESET RETRY COUNTER and CHANGE REFERENCE DATA.
const (
	SWSuccess                    StatusWord = 0x9000
	SWMemoryFailure              StatusWord = 0x6581
	SWSecurityStatusNotSatisfied StatusWord = 0x6982
	SWCommandBlocked             StatusWord = 0x6983
	SWWrongPasswordLength        StatusWord = 0x6A80
	SWPasswordNotFound           StatusWord = 0x6A88

	swWrongSecretMask StatusWord = 0xFFF0
	swWrongSecret     StatusWord = 0x63C0
)

// Classify maps a status word to a Response. 63Cx carries the remaining
// retries in its low nibble.
func Classify(sw StatusWord) Response {
	if sw&swWrongSecretMask == swWrongSecret {
		return Response{Kind: ResponseWrongSecretWarning, RetriesLeft: int(sw & 0x000F)}
	}
	switch sw {
	case SWSuccess:
		return Response{Kind: ResponseSuccess}
	case SWMemoryFailure:
		return Response{Kind: ResponseMemoryFailure}
	case SWSecurityStatusNotSatisfied:
		return Response{Kind: ResponseSecurityStatusNotSatisfied}
	case SWCommandBlocked:
		return Response{Kind: ResponseCommandBlocked}
	case SWWrongPasswordLength:
		return Response{Kind: ResponseWrongPasswordLength}
	case SWPasswordNotFound:
		return Response{Kind: ResponsePasswordNotFound}
	default:
		return Response{Kind: ResponseUnknownFailure}
	}
}
