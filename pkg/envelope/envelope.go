package envelope

import "strings"

// Envelope is the uniform response returned for every inbound message.
type Envelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	ErrorCode Code   `json:"error_code,omitempty"`
}

var userMessages = map[Code]string{
	CodeValidation:         "I couldn't read that message. Please send some text and try again.",
	CodeRateLimited:        "Too many requests, try again shortly.",
	CodeConcurrencyLimited: "I'm busy with your team's other requests, try again in a moment.",
	CodeClassification:     "I couldn't understand that request.",
	CodePermissionDenied:   "You don't have permission for that.",
	CodeHandlerUnavailable: "That service isn't available right now, please try again later.",
	CodeInternalDispatch:   "Something went wrong while handling your request.",
}

// OK builds a successful envelope.
func OK(message string, data any) Envelope {
	return Envelope{Success: true, Message: message, Data: data}
}

// Failure builds a failed envelope with the user-safe message for code.
func Failure(code Code) Envelope {
	code = publicCode(code)
	return Envelope{Success: false, Message: UserMessage(code), ErrorCode: code}
}

// UserMessage returns the non-technical text shown for code.
func UserMessage(code Code) string {
	if msg, ok := userMessages[publicCode(code)]; ok {
		return msg
	}

	return userMessages[CodeInternalDispatch]
}

// Assemble normalizes a handler result or error into an Envelope.
//
// A non-nil err always wins over result. Error details never reach Message.
func Assemble(result Envelope, err error) Envelope {
	if err != nil {
		return Failure(CodeOf(err))
	}

	if result.Success {
		result.ErrorCode = ""
		if strings.TrimSpace(result.Message) == "" {
			result.Message = "Done."
		}
		return result
	}

	code := publicCode(result.ErrorCode)
	if code != result.ErrorCode || strings.TrimSpace(result.Message) == "" {
		result.Message = UserMessage(code)
	}
	result.ErrorCode = code

	return result
}

// publicCode maps internal-only and unknown categories to InternalDispatch.
func publicCode(code Code) Code {
	if _, ok := userMessages[code]; ok {
		return code
	}

	return CodeInternalDispatch
}
