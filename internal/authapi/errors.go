package authapi

import "errors"

// Stable error codes for credential failures. The codes are part of the
// contract with the storefront pages and never change, even when the
// backing provider does.
const (
	CodeEmailAlreadyInUse   = "email-already-in-use"
	CodeInvalidEmail        = "invalid-email"
	CodeOperationNotAllowed = "operation-not-allowed"
	CodeWeakPassword        = "weak-password"
	CodeUserDisabled        = "user-disabled"
	CodeUserNotFound        = "user-not-found"
	CodeWrongPassword       = "wrong-password"
	CodeTooManyRequests     = "too-many-requests"
	CodeAccountExists       = "account-exists-with-different-credential"
)

// Error is a credential failure carrying a stable code. Err, when set,
// keeps the underlying cause for logs; users only ever see the localized
// sentence for the code.
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

func codeError(code string) *Error { return &Error{Code: code} }

// errorMessages is the fixed code → sentence table shown to users. The
// sentences are part of the user-facing contract and must stay verbatim.
var errorMessages = map[string]string{
	CodeEmailAlreadyInUse:   "Этот адрес электронной почты уже используется",
	CodeInvalidEmail:        "Неверный адрес электронной почты",
	CodeOperationNotAllowed: "Эта операция не разрешена",
	CodeWeakPassword:        "Пароль слишком простой (минимум 6 символов)",
	CodeUserDisabled:        "Этот аккаунт был отключен",
	CodeUserNotFound:        "Пользователь не найден",
	CodeWrongPassword:       "Неверный пароль",
	CodeTooManyRequests:     "Слишком много неудачных попыток входа. Попробуйте позже",
	CodeAccountExists:       "Аккаунт существует с другим методом входа",
}

const genericErrorMessage = "Произошла ошибка. Попробуйте позже."

// Localize maps an error code to its fixed localized sentence; unknown
// codes fall back to the generic sentence.
func Localize(code string) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}
	return genericErrorMessage
}

// LocalizeError maps any error to a localized sentence, using the code
// when the error carries one and the generic fallback otherwise.
func LocalizeError(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return Localize(ae.Code)
	}
	return genericErrorMessage
}
