package errors

import "fmt"

type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

var (
	ErrConfigLoad      = "CONFIG_LOAD_ERROR"
	ErrDatabaseConnect = "DATABASE_CONNECT_ERROR"
	ErrGatewayConnect  = "GATEWAY_CONNECT_ERROR"
	ErrPlatformFetch   = "PLATFORM_FETCH_ERROR"
	ErrEventParse      = "EVENT_PARSE_ERROR"
	ErrLedgerUpdate    = "LEDGER_UPDATE_ERROR"
	ErrGiveawayUpdate  = "GIVEAWAY_UPDATE_ERROR"
	ErrInviteSync      = "INVITE_SYNC_ERROR"
)
