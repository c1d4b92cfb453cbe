// Package dberr defines the typed error taxonomy shared by the storage core.
// Every exit code named in the external-interfaces contract has a Code
// constant; several codes also get named constructors (FileCorrupted,
// DuplicateKey, ...), and the rest go through New, Wrap, WithPage and
// WithTable. Either way no call site
// uses a bare errors.New, so callers can recover page/table context with
// errors.As.
package dberr

import (
	"errors"
	"fmt"
)

// Code identifies one of the enumerated database-exception conditions.
type Code int

const (
	CodeUnknown Code = iota
	CodeFileCorrupted
	CodeDuplicateKey
	CodeRowNotFoundWhenDeleting
	CodeWrongUserOrPassword
	CodeDatabaseNotFoundWithIfExists
	CodeRemoteDatabaseNotFound
	CodeDatabaseAlreadyOpen
	CodeClusterErrorRunsAlone
	CodeClusterErrorRunsClustered
	CodeUnsupportedSetting
	CodeErrorReadingFailed
	CodeDatabaseCalledAtShutdown
)

func (c Code) String() string {
	switch c {
	case CodeFileCorrupted:
		return "FILE_CORRUPTED_1"
	case CodeDuplicateKey:
		return "DUPLICATE_KEY_1"
	case CodeRowNotFoundWhenDeleting:
		return "ROW_NOT_FOUND_WHEN_DELETING_1"
	case CodeWrongUserOrPassword:
		return "WRONG_USER_OR_PASSWORD"
	case CodeDatabaseNotFoundWithIfExists:
		return "DATABASE_NOT_FOUND_WITH_IF_EXISTS_1"
	case CodeRemoteDatabaseNotFound:
		return "REMOTE_DATABASE_NOT_FOUND_1"
	case CodeDatabaseAlreadyOpen:
		return "DATABASE_ALREADY_OPEN_1"
	case CodeClusterErrorRunsAlone:
		return "CLUSTER_ERROR_DATABASE_RUNS_ALONE"
	case CodeClusterErrorRunsClustered:
		return "CLUSTER_ERROR_DATABASE_RUNS_CLUSTERED_1"
	case CodeUnsupportedSetting:
		return "UNSUPPORTED_SETTING_1"
	case CodeErrorReadingFailed:
		return "ERROR_READING_FAILED"
	case CodeDatabaseCalledAtShutdown:
		return "DATABASE_CALLED_AT_SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// Error is the concrete exception type. PageID and TableID are optional
// context, populated when the failing operation knows them; zero means
// "not applicable" rather than "page/table zero".
type Error struct {
	Code    Code
	Msg     string
	PageID  int64
	TableID int64
	cause   error
}

func (e *Error) Error() string {
	switch {
	case e.PageID != 0 && e.TableID != 0:
		return fmt.Sprintf("%s: %s (page=%d table=%d)", e.Code, e.Msg, e.PageID, e.TableID)
	case e.PageID != 0:
		return fmt.Sprintf("%s: %s (page=%d)", e.Code, e.Msg, e.PageID)
	case e.TableID != 0:
		return fmt.Sprintf("%s: %s (table=%d)", e.Code, e.Msg, e.TableID)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.cause }

// Is allows errors.Is(err, dberr.New(CodeX, "")) to match on code alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

func Wrap(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Msg: msg, cause: cause}
}

func WithPage(code Code, msg string, pageID int64) *Error {
	return &Error{Code: code, Msg: msg, PageID: pageID}
}

func WithTable(code Code, msg string, tableID int64) *Error {
	return &Error{Code: code, Msg: msg, TableID: tableID}
}

func FileCorrupted(pageID int64) *Error {
	return &Error{Code: CodeFileCorrupted, Msg: "page of unexpected type or bad checksum", PageID: pageID}
}

func DuplicateKey(tableID int64) *Error {
	return &Error{Code: CodeDuplicateKey, Msg: "duplicate key", TableID: tableID}
}

func RowNotFoundWhenDeleting(tableID int64) *Error {
	return &Error{Code: CodeRowNotFoundWhenDeleting, Msg: "row not found when deleting", TableID: tableID}
}

func WrongUserOrPassword() *Error {
	return &Error{Code: CodeWrongUserOrPassword, Msg: "wrong user name or password"}
}

func ErrorReadingFailed(pos int64) *Error {
	return &Error{Code: CodeErrorReadingFailed, Msg: "read failed", PageID: pos}
}

func DatabaseCalledAtShutdown() *Error {
	return &Error{Code: CodeDatabaseCalledAtShutdown, Msg: "database is closing"}
}

func UnsupportedSetting(name string) *Error {
	return &Error{Code: CodeUnsupportedSetting, Msg: "unsupported setting: " + name}
}

// AsError recovers the typed *Error via errors.As, the idiomatic replacement
// for identity-compared sentinel checks.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
